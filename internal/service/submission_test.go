package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"agrisync/internal/gateway"
	"agrisync/internal/models"
	"agrisync/internal/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFieldGateway struct {
	mock.Mock
}

func (m *mockFieldGateway) CreateField(ctx context.Context, in models.FieldCreate, key string) (*models.Field, error) {
	args := m.Called(ctx, in, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Field), args.Error(1)
}
func (m *mockFieldGateway) UpdateField(ctx context.Context, id string, patch json.RawMessage, key string) (*models.Field, error) {
	args := m.Called(ctx, id, patch, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Field), args.Error(1)
}
func (m *mockFieldGateway) DeleteField(ctx context.Context, id string, key string) error {
	return m.Called(ctx, id, key).Error(0)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) QueueRequest(ctx context.Context, req queue.Request) (*models.QueuedMutation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueuedMutation), args.Error(1)
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func validCreate() models.FieldCreate {
	return models.FieldCreate{
		Name:       "North paddy",
		Area:       2.5,
		SoilType:   "Loamy",
		Irrigation: "Canal",
		Village:    "Rampur",
	}
}

func TestCreateFieldSaved(t *testing.T) {
	gw := new(mockFieldGateway)
	q := new(mockQueue)
	svc := NewSubmissionService(gw, q, testLogger())

	in := validCreate()
	gw.On("CreateField", mock.Anything, in, "").Return(&models.Field{ID: "f1", Name: in.Name}, nil)

	res := svc.CreateField(context.Background(), in)

	assert.Equal(t, OutcomeSaved, res.Outcome)
	require.NotNil(t, res.Field)
	assert.Equal(t, "f1", res.Field.ID)
	q.AssertNotCalled(t, "QueueRequest", mock.Anything, mock.Anything)
}

func TestCreateFieldQueuedOnNetworkError(t *testing.T) {
	gw := new(mockFieldGateway)
	q := new(mockQueue)
	svc := NewSubmissionService(gw, q, testLogger())

	in := validCreate()
	gw.On("CreateField", mock.Anything, in, "").
		Return(nil, &gateway.NetworkError{Err: errors.New("connection refused")})
	q.On("QueueRequest", mock.Anything, mock.MatchedBy(func(r queue.Request) bool {
		return r.Type == models.MutationCreateField
	})).Return(&models.QueuedMutation{ID: 7, Type: models.MutationCreateField}, nil)

	res := svc.CreateField(context.Background(), in)

	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.EqualValues(t, 7, res.MutationID)
	assert.NoError(t, res.Err)
}

func TestCreateFieldTimeoutQueues(t *testing.T) {
	gw := new(mockFieldGateway)
	q := new(mockQueue)
	svc := NewSubmissionService(gw, q, testLogger())

	in := validCreate()
	gw.On("CreateField", mock.Anything, in, "").
		Return(nil, &gateway.NetworkError{Timeout: true, Err: context.DeadlineExceeded})
	q.On("QueueRequest", mock.Anything, mock.Anything).
		Return(&models.QueuedMutation{ID: 1}, nil)

	res := svc.CreateField(context.Background(), in)
	assert.Equal(t, OutcomeQueued, res.Outcome)
}

func TestCreateFieldRejectedNeverQueued(t *testing.T) {
	gw := new(mockFieldGateway)
	q := new(mockQueue)
	svc := NewSubmissionService(gw, q, testLogger())

	in := validCreate()
	httpErr := &gateway.HTTPError{Status: 422, Message: "Area must be greater than 0"}
	gw.On("CreateField", mock.Anything, in, "").Return(nil, httpErr)

	res := svc.CreateField(context.Background(), in)

	assert.Equal(t, OutcomeRejected, res.Outcome)
	var he *gateway.HTTPError
	require.ErrorAs(t, res.Err, &he)
	assert.Equal(t, "Area must be greater than 0", he.Message)
	q.AssertNotCalled(t, "QueueRequest", mock.Anything, mock.Anything)
}

func TestCreateFieldLostWhenQueueFails(t *testing.T) {
	gw := new(mockFieldGateway)
	q := new(mockQueue)
	svc := NewSubmissionService(gw, q, testLogger())

	in := validCreate()
	gw.On("CreateField", mock.Anything, in, "").
		Return(nil, &gateway.NetworkError{Err: errors.New("no route to host")})
	q.On("QueueRequest", mock.Anything, mock.Anything).
		Return(nil, errors.New("disk full"))

	res := svc.CreateField(context.Background(), in)

	assert.Equal(t, OutcomeLost, res.Outcome)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "disk full")
}

func TestCreateFieldLocalValidation(t *testing.T) {
	gw := new(mockFieldGateway)
	q := new(mockQueue)
	svc := NewSubmissionService(gw, q, testLogger())

	tests := []struct {
		name    string
		mutate  func(*models.FieldCreate)
		wantErr error
	}{
		{"empty name", func(f *models.FieldCreate) { f.Name = "" }, ErrFieldNameRequired},
		{"zero area", func(f *models.FieldCreate) { f.Area = 0 }, ErrAreaNotPositive},
		{"negative area", func(f *models.FieldCreate) { f.Area = -1 }, ErrAreaNotPositive},
		{"bad soil", func(f *models.FieldCreate) { f.SoilType = "Martian" }, ErrUnknownSoilType},
		{"bad irrigation", func(f *models.FieldCreate) { f.Irrigation = "Hope" }, ErrUnknownIrrigation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validCreate()
			tt.mutate(&in)

			res := svc.CreateField(context.Background(), in)
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.ErrorIs(t, res.Err, tt.wantErr)
		})
	}
	gw.AssertNotCalled(t, "CreateField", mock.Anything, mock.Anything, mock.Anything)
	q.AssertNotCalled(t, "QueueRequest", mock.Anything, mock.Anything)
}

func TestUpdateFieldQueuedOnNetworkError(t *testing.T) {
	gw := new(mockFieldGateway)
	q := new(mockQueue)
	svc := NewSubmissionService(gw, q, testLogger())

	patch := json.RawMessage(`{"crop":"wheat"}`)
	gw.On("UpdateField", mock.Anything, "f1", patch, "").
		Return(nil, &gateway.NetworkError{Err: errors.New("dial tcp: timeout")})
	q.On("QueueRequest", mock.Anything, mock.MatchedBy(func(r queue.Request) bool {
		return r.Type == models.MutationUpdateField
	})).Return(&models.QueuedMutation{ID: 3}, nil)

	res := svc.UpdateField(context.Background(), models.FieldUpdate{ID: "f1", Patch: patch})
	assert.Equal(t, OutcomeQueued, res.Outcome)
}

func TestUpdateFieldRequiresID(t *testing.T) {
	svc := NewSubmissionService(new(mockFieldGateway), new(mockQueue), testLogger())

	res := svc.UpdateField(context.Background(), models.FieldUpdate{})
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrFieldIDRequired)
}

func TestDeleteFieldSavedAndQueued(t *testing.T) {
	gw := new(mockFieldGateway)
	q := new(mockQueue)
	svc := NewSubmissionService(gw, q, testLogger())

	gw.On("DeleteField", mock.Anything, "gone", "").Return(nil).Once()
	res := svc.DeleteField(context.Background(), models.FieldDelete{ID: "gone"})
	assert.Equal(t, OutcomeSaved, res.Outcome)

	gw.On("DeleteField", mock.Anything, "later", "").
		Return(&gateway.NetworkError{Err: errors.New("offline")}).Once()
	q.On("QueueRequest", mock.Anything, mock.MatchedBy(func(r queue.Request) bool {
		return r.Type == models.MutationDeleteField
	})).Return(&models.QueuedMutation{ID: 9}, nil)

	res = svc.DeleteField(context.Background(), models.FieldDelete{ID: "later"})
	assert.Equal(t, OutcomeQueued, res.Outcome)
}
