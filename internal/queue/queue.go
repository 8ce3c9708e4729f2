package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agrisync/internal/events"
	"agrisync/internal/metrics"
	"agrisync/internal/models"

	"github.com/rs/zerolog"
)

// Store is the durable layer the queue sits on.
type Store interface {
	InsertMutation(ctx context.Context, m *models.QueuedMutation) error
	ListMutations(ctx context.Context) ([]models.QueuedMutation, error)
	CountMutations(ctx context.Context) (int, error)
	ClearMutations(ctx context.Context) error
	RemoveMutation(ctx context.Context, id int64) error
}

// Request is what callers hand to QueueRequest: the mutation kind and the
// exact body that would have been sent.
type Request struct {
	Type    string
	Payload any
}

var errEmptyType = errors.New("mutation type is required")

// Queue is the typed convenience layer over the persistent store. It stamps
// enqueue time, validates shape, and announces changes on the event bus.
type Queue struct {
	store  Store
	bus    *events.EventBus
	logger *zerolog.Logger
}

func New(store Store, bus *events.EventBus, logger *zerolog.Logger) *Queue {
	return &Queue{store: store, bus: bus, logger: logger}
}

// QueueRequest persists one mutation. It returns only once the record is
// durable, so a subsequent ListQueue is guaranteed to see it.
func (q *Queue) QueueRequest(ctx context.Context, req Request) (*models.QueuedMutation, error) {
	if req.Type == "" {
		return nil, errEmptyType
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not serializable: %w", err)
	}

	m := &models.QueuedMutation{Type: req.Type, Payload: payload}
	if err := q.store.InsertMutation(ctx, m); err != nil {
		return nil, err
	}

	q.logger.Info().Int64("id", m.ID).Str("type", m.Type).Msg("Mutation queued for sync")
	_ = q.bus.PublishJSON(events.EventMutationQueued, events.MutationQueuedPayload{
		MutationID: m.ID,
		Type:       m.Type,
	})
	q.updateDepth(ctx)

	return m, nil
}

// ListQueue returns all pending mutations in enqueue order.
func (q *Queue) ListQueue(ctx context.Context) ([]models.QueuedMutation, error) {
	return q.store.ListMutations(ctx)
}

// ClearQueue drops every pending mutation without resubmitting. Destructive;
// callers are expected to confirm first.
func (q *Queue) ClearQueue(ctx context.Context) error {
	if err := q.store.ClearMutations(ctx); err != nil {
		return err
	}
	q.logger.Warn().Msg("Sync queue cleared without replay")
	_ = q.bus.PublishJSON(events.EventQueueCleared, nil)
	metrics.SetQueueDepth(0)
	return nil
}

// Remove deletes one mutation after a successful replay.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	if err := q.store.RemoveMutation(ctx, id); err != nil {
		return err
	}
	q.updateDepth(ctx)
	return nil
}

func (q *Queue) updateDepth(ctx context.Context) {
	if n, err := q.store.CountMutations(ctx); err == nil {
		metrics.SetQueueDepth(n)
	}
}
