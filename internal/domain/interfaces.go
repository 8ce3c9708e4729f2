package domain

import (
	"context"
	"time"

	"agrisync/internal/models"
)

// MutationStore is the durable queue storage contract.
type MutationStore interface {
	InsertMutation(ctx context.Context, m *models.QueuedMutation) error
	ListMutations(ctx context.Context) ([]models.QueuedMutation, error)
	CountMutations(ctx context.Context) (int, error)
	ClearMutations(ctx context.Context) error
	RemoveMutation(ctx context.Context, id int64) error
}

// SessionStore persists the signed-in session and preferences.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.Session) error
	LoadSession(ctx context.Context) (*models.Session, error)
	ClearSession(ctx context.Context) error
	SetPreference(ctx context.Context, key, value string) error
	GetPreference(ctx context.Context, key string) (string, error)
}

// StateRepository holds ephemeral agent state: chat context and throttle
// counters. Implementations may lose state on restart.
type StateRepository interface {
	GetChatContext(ctx context.Context, conversationID string) (*models.ChatContext, error)
	SetChatContext(ctx context.Context, state *models.ChatContext) error
	ClearChatContext(ctx context.Context, conversationID string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// EventPublisher hides the event bus from services.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
