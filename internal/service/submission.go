package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agrisync/internal/gateway"
	"agrisync/internal/metrics"
	"agrisync/internal/models"
	"agrisync/internal/queue"

	"github.com/rs/zerolog"
)

// Outcome is the user-visible result of one submission.
type Outcome string

const (
	// OutcomeSaved: the backend accepted the mutation directly.
	OutcomeSaved Outcome = "saved"
	// OutcomeQueued: the backend was unreachable; the mutation is stored
	// for later sync. Not a failure from the farmer's perspective.
	OutcomeQueued Outcome = "queued"
	// OutcomeRejected: the backend rejected the request. Retrying the same
	// input would fail again, so nothing is queued.
	OutcomeRejected Outcome = "rejected"
	// OutcomeLost: the backend was unreachable and queuing also failed.
	// Must always be surfaced; the farmer's data is gone otherwise.
	OutcomeLost Outcome = "lost"
)

// SubmitResult carries the outcome and whichever extras apply to it.
type SubmitResult struct {
	Outcome    Outcome
	Field      *models.Field
	MutationID int64
	Err        error
}

// FieldGateway is the slice of the HTTP gateway the submission flow needs.
type FieldGateway interface {
	CreateField(ctx context.Context, in models.FieldCreate, idempotencyKey string) (*models.Field, error)
	UpdateField(ctx context.Context, id string, patch json.RawMessage, idempotencyKey string) (*models.Field, error)
	DeleteField(ctx context.Context, id string, idempotencyKey string) error
}

// QueueAPI is the slice of the offline queue the submission flow needs.
type QueueAPI interface {
	QueueRequest(ctx context.Context, req queue.Request) (*models.QueuedMutation, error)
}

var (
	ErrFieldNameRequired = errors.New("field name is required")
	ErrAreaNotPositive   = errors.New("area must be greater than 0")
	ErrUnknownSoilType   = errors.New("unknown soil type")
	ErrUnknownIrrigation = errors.New("unknown irrigation type")
	ErrFieldIDRequired   = errors.New("field id is required")
)

// SubmissionService orchestrates "attempt direct write; on connectivity
// failure, degrade to queuing" for each field mutation. It is the only
// translator between gateway/store errors and user-visible outcomes.
type SubmissionService struct {
	gw     FieldGateway
	queue  QueueAPI
	logger *zerolog.Logger
}

func NewSubmissionService(gw FieldGateway, q QueueAPI, logger *zerolog.Logger) *SubmissionService {
	return &SubmissionService{gw: gw, queue: q, logger: logger}
}

// ValidateFieldCreate checks shape only; business validation belongs to the
// backend.
func ValidateFieldCreate(in models.FieldCreate) error {
	if in.Name == "" {
		return ErrFieldNameRequired
	}
	if in.Area <= 0 {
		return ErrAreaNotPositive
	}
	if !models.ValidSoilType(in.SoilType) {
		return ErrUnknownSoilType
	}
	if !models.ValidIrrigationType(in.Irrigation) {
		return ErrUnknownIrrigation
	}
	return nil
}

// CreateField submits a new field, queuing it when the backend is offline.
func (s *SubmissionService) CreateField(ctx context.Context, in models.FieldCreate) SubmitResult {
	if err := ValidateFieldCreate(in); err != nil {
		return s.record(models.MutationCreateField, SubmitResult{Outcome: OutcomeRejected, Err: err})
	}

	field, err := s.gw.CreateField(ctx, in, "")
	if err == nil {
		return s.record(models.MutationCreateField, SubmitResult{Outcome: OutcomeSaved, Field: field})
	}

	return s.record(models.MutationCreateField, s.degrade(ctx, models.MutationCreateField, in, err))
}

// UpdateField PATCHes a field, queuing the patch when offline.
func (s *SubmissionService) UpdateField(ctx context.Context, in models.FieldUpdate) SubmitResult {
	if in.ID == "" {
		return s.record(models.MutationUpdateField, SubmitResult{Outcome: OutcomeRejected, Err: ErrFieldIDRequired})
	}

	field, err := s.gw.UpdateField(ctx, in.ID, in.Patch, "")
	if err == nil {
		return s.record(models.MutationUpdateField, SubmitResult{Outcome: OutcomeSaved, Field: field})
	}

	return s.record(models.MutationUpdateField, s.degrade(ctx, models.MutationUpdateField, in, err))
}

// DeleteField removes a field, queuing the deletion when offline.
func (s *SubmissionService) DeleteField(ctx context.Context, in models.FieldDelete) SubmitResult {
	if in.ID == "" {
		return s.record(models.MutationDeleteField, SubmitResult{Outcome: OutcomeRejected, Err: ErrFieldIDRequired})
	}

	err := s.gw.DeleteField(ctx, in.ID, "")
	if err == nil {
		return s.record(models.MutationDeleteField, SubmitResult{Outcome: OutcomeSaved})
	}

	return s.record(models.MutationDeleteField, s.degrade(ctx, models.MutationDeleteField, in, err))
}

// degrade routes a direct-call failure. Only connectivity failures reach the
// queue: a rejection would deterministically fail again on replay, and
// replaying it risks duplicate side effects once the input is fixed.
func (s *SubmissionService) degrade(ctx context.Context, mutationType string, payload any, cause error) SubmitResult {
	if !gateway.IsRetryable(cause) {
		return SubmitResult{Outcome: OutcomeRejected, Err: cause}
	}

	m, qerr := s.queue.QueueRequest(ctx, queue.Request{Type: mutationType, Payload: payload})
	if qerr != nil {
		// The backend is down and local persistence failed too. The farmer
		// must hear about it; this submission is gone.
		s.logger.Error().Err(qerr).Str("type", mutationType).Msg("Submission lost: queueing failed after network error")
		return SubmitResult{Outcome: OutcomeLost, Err: fmt.Errorf("queueing failed after network error: %w", qerr)}
	}

	return SubmitResult{Outcome: OutcomeQueued, MutationID: m.ID}
}

func (s *SubmissionService) record(mutationType string, r SubmitResult) SubmitResult {
	metrics.RecordSubmission(mutationType, string(r.Outcome))
	return r
}
