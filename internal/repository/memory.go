package repository

import (
	"context"
	"sync"
	"time"

	"agrisync/internal/models"
)

// MemoryStateRepository keeps agent state in-process. It is the fallback
// when Redis is disabled or down; state does not survive a restart, which is
// acceptable for chat context and throttle counters.
type MemoryStateRepository struct {
	contexts   sync.Map
	rateLimits sync.Map
	ttl        time.Duration
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		ttl: ttl,
	}
}

func (r *MemoryStateRepository) GetChatContext(ctx context.Context, conversationID string) (*models.ChatContext, error) {
	val, ok := r.contexts.Load(conversationID)
	if !ok {
		return nil, nil
	}
	return val.(*models.ChatContext), nil
}

func (r *MemoryStateRepository) SetChatContext(ctx context.Context, state *models.ChatContext) error {
	r.contexts.Store(state.ConversationID, state)
	return nil
}

func (r *MemoryStateRepository) ClearChatContext(ctx context.Context, conversationID string) error {
	r.contexts.Delete(conversationID)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(key)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(key, entry)
	return entry.count <= limit, nil
}
