package service

import (
	"context"
	"fmt"
	"sync"

	"agrisync/internal/domain"
	"agrisync/internal/events"
	"agrisync/internal/models"

	"github.com/rs/zerolog"
)

// SessionService owns the current sign-in state. It keeps an in-memory copy
// of the persisted session so Token() stays cheap on the request path.
type SessionService struct {
	store  domain.SessionStore
	bus    domain.EventPublisher
	logger *zerolog.Logger

	mu      sync.RWMutex
	current *models.Session
}

func NewSessionService(ctx context.Context, store domain.SessionStore, bus domain.EventPublisher, logger *zerolog.Logger) (*SessionService, error) {
	s := &SessionService{store: store, bus: bus, logger: logger}

	sess, err := store.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	s.current = sess
	if sess != nil {
		logger.Info().Str("user_id", sess.UserID()).Msg("Restored session from storage")
	}
	return s, nil
}

// Token implements gateway.TokenProvider. Empty means signed-out.
func (s *SessionService) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// Current returns the active session, or nil when signed out.
func (s *SessionService) Current() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SignedIn reports whether a session is active.
func (s *SessionService) SignedIn() bool {
	return s.Token() != ""
}

// Set persists the session and makes it current.
func (s *SessionService) Set(ctx context.Context, sess *models.Session) error {
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	s.publishAuthChanged(sess)
	return nil
}

// Clear signs out. Queued mutations are intentionally untouched: they belong
// to the data, not to the sign-in state.
func (s *SessionService) Clear(ctx context.Context) error {
	if err := s.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	s.publishAuthChanged(nil)
	return nil
}

func (s *SessionService) publishAuthChanged(sess *models.Session) {
	payload := events.AuthChangedPayload{}
	if sess != nil {
		payload.SignedIn = true
		payload.UserID = sess.UserID()
	}
	if err := s.bus.PublishJSON(events.EventAuthChanged, payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish auth change event")
	}
}
