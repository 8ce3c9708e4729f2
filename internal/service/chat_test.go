package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"agrisync/internal/gateway"
	"agrisync/internal/models"
	"agrisync/internal/queue"
	"agrisync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChatGateway struct {
	mock.Mock
}

func (m *mockChatGateway) Chat(ctx context.Context, msg models.ChatMessage, imageName string, image io.Reader) (*gateway.ChatReply, error) {
	args := m.Called(ctx, msg, imageName, image)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ChatReply), args.Error(1)
}

func setupChatService(t *testing.T, gw ChatGateway, q QueueAPI) *ChatService {
	t.Helper()
	state := repository.NewMemoryStateRepository(time.Hour)
	return NewChatService(gw, q, state, testLogger())
}

func TestChatReplyAndContextReplay(t *testing.T) {
	gw := new(mockChatGateway)
	q := new(mockQueue)
	svc := setupChatService(t, gw, q)
	ctx := context.Background()

	// First question goes out without context.
	gw.On("Chat", mock.Anything, mock.MatchedBy(func(m models.ChatMessage) bool {
		return m.Message == "leaf spots on rice?" && m.Context == nil
	}), "", nil).Return(&gateway.ChatReply{Reply: "Likely blast, use tricyclazole."}, nil).Once()

	res, err := svc.Ask(ctx, "conv1", "leaf spots on rice?", "en", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Likely blast, use tricyclazole.", res.Reply)
	assert.False(t, res.Queued)

	// Follow-up carries the first exchange as context.
	gw.On("Chat", mock.Anything, mock.MatchedBy(func(m models.ChatMessage) bool {
		return m.Context["q0"] == "leaf spots on rice?" &&
			strings.Contains(m.Context["a0"], "blast")
	}), "", nil).Return(&gateway.ChatReply{Reply: "Spray in the evening."}, nil).Once()

	res, err = svc.Ask(ctx, "conv1", "when to spray?", "en", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Spray in the evening.", res.Reply)
}

func TestChatContextBounded(t *testing.T) {
	gw := new(mockChatGateway)
	q := new(mockQueue)
	svc := setupChatService(t, gw, q)
	ctx := context.Background()

	gw.On("Chat", mock.Anything, mock.Anything, "", nil).
		Return(&gateway.ChatReply{Reply: "ok"}, nil)

	for i := 0; i < models.MaxChatExchanges+5; i++ {
		_, err := svc.Ask(ctx, "conv1", "question", "en", "", nil)
		require.NoError(t, err)
	}

	last := gw.Calls[len(gw.Calls)-1]
	msg := last.Arguments.Get(1).(models.ChatMessage)
	// q/a pairs, capped.
	assert.LessOrEqual(t, len(msg.Context), models.MaxChatExchanges*2)
}

func TestChatQueuedWhenOffline(t *testing.T) {
	gw := new(mockChatGateway)
	q := new(mockQueue)
	svc := setupChatService(t, gw, q)

	gw.On("Chat", mock.Anything, mock.Anything, "", nil).
		Return(nil, &gateway.NetworkError{Err: errors.New("connection refused")})
	q.On("QueueRequest", mock.Anything, mock.MatchedBy(func(r queue.Request) bool {
		return r.Type == models.MutationChatMessage
	})).Return(&models.QueuedMutation{ID: 11}, nil)

	res, err := svc.Ask(context.Background(), "conv1", "offline question", "hi", "", nil)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.EqualValues(t, 11, res.MutationID)
	assert.Empty(t, res.Reply)
}

func TestChatImageQuestionNotQueued(t *testing.T) {
	gw := new(mockChatGateway)
	q := new(mockQueue)
	svc := setupChatService(t, gw, q)

	img := strings.NewReader("fake-jpeg")
	gw.On("Chat", mock.Anything, mock.Anything, "leaf.jpg", img).
		Return(nil, &gateway.NetworkError{Err: errors.New("offline")})

	_, err := svc.Ask(context.Background(), "conv1", "what is this?", "en", "leaf.jpg", img)
	require.Error(t, err)
	assert.True(t, gateway.IsRetryable(err))
	q.AssertNotCalled(t, "QueueRequest", mock.Anything, mock.Anything)
}

func TestChatRejectionNotQueued(t *testing.T) {
	gw := new(mockChatGateway)
	q := new(mockQueue)
	svc := setupChatService(t, gw, q)

	gw.On("Chat", mock.Anything, mock.Anything, "", nil).
		Return(nil, &gateway.HTTPError{Status: 400, Message: "message too long"})

	_, err := svc.Ask(context.Background(), "conv1", "...", "en", "", nil)
	require.Error(t, err)
	var he *gateway.HTTPError
	assert.ErrorAs(t, err, &he)
	q.AssertNotCalled(t, "QueueRequest", mock.Anything, mock.Anything)
}

func TestChatReset(t *testing.T) {
	gw := new(mockChatGateway)
	q := new(mockQueue)
	svc := setupChatService(t, gw, q)
	ctx := context.Background()

	gw.On("Chat", mock.Anything, mock.Anything, "", nil).
		Return(&gateway.ChatReply{Reply: "ok"}, nil)

	_, err := svc.Ask(ctx, "conv1", "first", "en", "", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Reset(ctx, "conv1"))

	// After reset the next question carries no context.
	last := func() models.ChatMessage {
		c := gw.Calls[len(gw.Calls)-1]
		return c.Arguments.Get(1).(models.ChatMessage)
	}
	_, err = svc.Ask(ctx, "conv1", "second", "en", "", nil)
	require.NoError(t, err)
	assert.Nil(t, last().Context)
}
