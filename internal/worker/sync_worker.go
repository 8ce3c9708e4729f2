package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"agrisync/internal/config"
	"agrisync/internal/events"
	"agrisync/internal/gateway"
	"agrisync/internal/metrics"
	"agrisync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReplayGateway is the slice of the HTTP gateway the drain needs to replay
// queued mutations.
type ReplayGateway interface {
	CreateField(ctx context.Context, in models.FieldCreate, idempotencyKey string) (*models.Field, error)
	UpdateField(ctx context.Context, id string, patch json.RawMessage, idempotencyKey string) (*models.Field, error)
	DeleteField(ctx context.Context, id string, idempotencyKey string) error
	Chat(ctx context.Context, msg models.ChatMessage, imageName string, image io.Reader) (*gateway.ChatReply, error)
}

// QueueControl is the slice of the queue the worker drives.
type QueueControl interface {
	ListQueue(ctx context.Context) ([]models.QueuedMutation, error)
	ClearQueue(ctx context.Context) error
	Remove(ctx context.Context, id int64) error
}

// DrainFailure describes one mutation the backend rejected during a drain.
// Rejected mutations are removed from the queue; replaying them verbatim
// would fail the same way forever and block everything behind them.
type DrainFailure struct {
	MutationID int64  `json:"mutation_id"`
	Type       string `json:"type"`
	Reason     string `json:"reason"`
}

// DrainSummary is the per-drain report surfaced to the control API.
type DrainSummary struct {
	Synced    int            `json:"synced"`
	Rejected  []DrainFailure `json:"rejected,omitempty"`
	Remaining int            `json:"remaining"`
	// Stopped is set when a connectivity failure interrupted the drain;
	// Remaining counts the mutations preserved in order for the next pass.
	Stopped bool `json:"stopped,omitempty"`
}

// ErrClearNotConfirmed is returned when a queue wipe lacks the confirm flag.
var ErrClearNotConfirmed = errors.New("clearing the queue discards unsynced work, confirmation required")

// SyncWorker drains the offline mutation queue against the backend. Drains
// run oldest-first and stop at the first connectivity failure so ordering is
// preserved across passes.
type SyncWorker struct {
	queue       QueueControl
	gw          ReplayGateway
	bus         *events.EventBus
	retryPolicy RetryPolicy

	autoDrain    bool
	pollInterval time.Duration

	drainMu sync.Mutex
	logger  *zerolog.Logger
}

func NewSyncWorker(q QueueControl, gw ReplayGateway, bus *events.EventBus, cfg config.SyncConfig, logger *zerolog.Logger) *SyncWorker {
	retry := RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}

	return &SyncWorker{
		queue:        q,
		gw:           gw,
		bus:          bus,
		retryPolicy:  retry,
		autoDrain:    cfg.AutoDrain,
		pollInterval: poll,
		logger:       logger,
	}
}

// Start runs the auto-drain loop until ctx is done. Each poll that finds
// queued work triggers a drain; an interrupted drain backs off before the
// next attempt so a flapping link is not hammered.
func (w *SyncWorker) Start(ctx context.Context) {
	if !w.autoDrain {
		w.logger.Info().Msg("Auto-drain disabled, worker idle")
		<-ctx.Done()
		return
	}

	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("Sync worker started")
	defer w.logger.Info().Msg("Sync worker stopped")

	attempt := 0
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		pending, err := w.Refresh(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("Queue poll failed")
			timer.Reset(w.pollInterval)
			continue
		}
		if len(pending) == 0 {
			attempt = 0
			timer.Reset(w.pollInterval)
			continue
		}

		summary, err := w.DrainAndRetry(ctx)
		switch {
		case err != nil:
			w.logger.Error().Err(err).Msg("Drain pass failed")
			timer.Reset(w.pollInterval)
		case summary.Stopped:
			attempt++
			delay := w.retryPolicy.NextDelay(attempt)
			if attempt >= w.retryPolicy.MaxRetries {
				// Back to slow polling; the backend has been down a while.
				attempt = 0
				delay = w.pollInterval
			}
			w.logger.Info().Int("remaining", summary.Remaining).Dur("next_attempt_in", delay).
				Msg("Backend unreachable, drain interrupted")
			timer.Reset(delay)
		default:
			attempt = 0
			timer.Reset(w.pollInterval)
		}
	}
}

// Refresh returns the pending queue contents without touching the backend.
func (w *SyncWorker) Refresh(ctx context.Context) ([]models.QueuedMutation, error) {
	pending, err := w.queue.ListQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	metrics.SetQueueDepth(len(pending))
	return pending, nil
}

// DrainAndRetry replays the queue oldest-first. Success removes the
// mutation; a connectivity failure stops the pass and preserves the rest; a
// backend rejection removes the mutation and reports it in the summary.
// Concurrent calls serialize, so a manual drain cannot interleave with the
// auto-drain loop.
func (w *SyncWorker) DrainAndRetry(ctx context.Context) (*DrainSummary, error) {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	pending, err := w.queue.ListQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	summary := &DrainSummary{}
	for i, m := range pending {
		if ctx.Err() != nil {
			summary.Stopped = true
			summary.Remaining = len(pending) - i
			break
		}

		err := w.replay(ctx, m)
		if err == nil {
			if rerr := w.queue.Remove(ctx, m.ID); rerr != nil {
				// The backend applied the mutation but we could not forget
				// it. Stop here; the idempotency key makes the inevitable
				// replay harmless.
				w.logger.Error().Err(rerr).Int64("mutation_id", m.ID).
					Msg("Failed to remove synced mutation")
				summary.Stopped = true
				summary.Remaining = len(pending) - i
				break
			}
			summary.Synced++
			metrics.RecordDrainItem("synced")
			continue
		}

		if gateway.IsRetryable(err) {
			summary.Stopped = true
			summary.Remaining = len(pending) - i
			metrics.RecordDrainItem("deferred")
			w.logger.Info().Err(err).Int64("mutation_id", m.ID).Str("type", m.Type).
				Msg("Connectivity failure, preserving remainder of queue")
			break
		}

		// Terminal: drop it so it cannot block the queue, but tell the user.
		if rerr := w.queue.Remove(ctx, m.ID); rerr != nil {
			w.logger.Error().Err(rerr).Int64("mutation_id", m.ID).
				Msg("Failed to remove rejected mutation")
			summary.Stopped = true
			summary.Remaining = len(pending) - i
			break
		}
		summary.Rejected = append(summary.Rejected, DrainFailure{
			MutationID: m.ID,
			Type:       m.Type,
			Reason:     err.Error(),
		})
		metrics.RecordDrainItem("rejected")
		w.logger.Warn().Err(err).Int64("mutation_id", m.ID).Str("type", m.Type).
			Msg("Backend rejected queued mutation, removed from queue")
	}

	if err := w.bus.PublishJSON(events.EventQueueDrained, events.QueueDrainedPayload{
		Synced:    summary.Synced,
		Rejected:  len(summary.Rejected),
		Remaining: summary.Remaining,
	}); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to publish drain event")
	}

	return summary, nil
}

// Clear wipes the queue. The caller must pass confirm=true; queued mutations
// are work the farmer believes is saved.
func (w *SyncWorker) Clear(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrClearNotConfirmed
	}

	w.drainMu.Lock()
	defer w.drainMu.Unlock()
	return w.queue.ClearQueue(ctx)
}

// replay dispatches one queued mutation to the matching backend call. The
// idempotency key is derived from the mutation id, so a re-replay after a
// lost response deduplicates server-side.
func (w *SyncWorker) replay(ctx context.Context, m models.QueuedMutation) error {
	key := replayKey(m.ID)

	switch m.Type {
	case models.MutationCreateField:
		var payload models.FieldCreate
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return fmt.Errorf("decode create-field payload: %w", err)
		}
		_, err := w.gw.CreateField(ctx, payload, key)
		return err

	case models.MutationUpdateField:
		var payload models.FieldUpdate
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return fmt.Errorf("decode update-field payload: %w", err)
		}
		_, err := w.gw.UpdateField(ctx, payload.ID, payload.Patch, key)
		return err

	case models.MutationDeleteField:
		var payload models.FieldDelete
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return fmt.Errorf("decode delete-field payload: %w", err)
		}
		return w.gw.DeleteField(ctx, payload.ID, key)

	case models.MutationChatMessage:
		var payload models.ChatMessage
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return fmt.Errorf("decode chat-message payload: %w", err)
		}
		// The reply has no reader anymore; delivery is what matters.
		_, err := w.gw.Chat(ctx, payload, "", nil)
		return err

	default:
		return fmt.Errorf("unknown mutation type: %s", m.Type)
	}
}

// replayKey is stable per mutation id, never per attempt.
func replayKey(id int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("agrisync-mutation-%d", id))).String()
}
