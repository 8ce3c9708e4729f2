package repository

import (
	"context"
	"sync/atomic"
	"time"

	"agrisync/internal/domain"
	"agrisync/internal/models"

	"github.com/rs/zerolog"
)

type FailoverStateRepository struct {
	primary  domain.StateRepository
	fallback domain.StateRepository
	logger   *zerolog.Logger
	isDown   atomic.Bool
	// Unix nanos of the last failed primary call. Atomic because the repo
	// is shared between the chat service and the OTP throttle.
	lastCheck atomic.Int64
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverStateRepository) GetChatContext(ctx context.Context, conversationID string) (*models.ChatContext, error) {
	if !r.isDown.Load() {
		state, err := r.primary.GetChatContext(ctx, conversationID)
		if err == nil {
			return state, nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck.Store(time.Now().UnixNano())
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute {
		state, err := r.primary.GetChatContext(ctx, conversationID)
		if err == nil {
			r.isDown.Store(false)
			return state, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.GetChatContext(ctx, conversationID)
}

func (r *FailoverStateRepository) SetChatContext(ctx context.Context, state *models.ChatContext) error {
	if !r.isDown.Load() {
		err := r.primary.SetChatContext(ctx, state)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.SetChatContext(ctx, state)
}

func (r *FailoverStateRepository) ClearChatContext(ctx context.Context, conversationID string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearChatContext(ctx, conversationID)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.ClearChatContext(ctx, conversationID)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
