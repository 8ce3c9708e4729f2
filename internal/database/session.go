package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"agrisync/internal/models"
)

// Canonical session keys. Older builds wrote "token" and "agri_user"; those
// are copied forward once by schema migration 2.
const (
	sessionKeyToken = "session.token"
	sessionKeyUser  = "session.user"
)

// SaveSession persists the token and user profile.
func (db *DB) SaveSession(ctx context.Context, s *models.Session) error {
	if err := db.setKV(ctx, "session", sessionKeyToken, s.Token); err != nil {
		return err
	}
	if s.User == nil {
		return db.deleteKV(ctx, "session", sessionKeyUser)
	}
	data, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return db.setKV(ctx, "session", sessionKeyUser, string(data))
}

// LoadSession returns the persisted session, or nil when nobody is signed in.
func (db *DB) LoadSession(ctx context.Context) (*models.Session, error) {
	token, err := db.getKV(ctx, "session", sessionKeyToken)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s := &models.Session{Token: token}
	raw, err := db.getKV(ctx, "session", sessionKeyUser)
	if errors.Is(err, ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	s.User = &user
	return s, nil
}

// ClearSession removes the persisted token and user.
func (db *DB) ClearSession(ctx context.Context) error {
	if err := db.deleteKV(ctx, "session", sessionKeyToken); err != nil {
		return err
	}
	return db.deleteKV(ctx, "session", sessionKeyUser)
}

// SetPreference stores one preference (theme, language) independently.
func (db *DB) SetPreference(ctx context.Context, key, value string) error {
	return db.setKV(ctx, "preferences", key, value)
}

// GetPreference returns a stored preference or ErrNotFound.
func (db *DB) GetPreference(ctx context.Context, key string) (string, error) {
	return db.getKV(ctx, "preferences", key)
}

func (db *DB) setKV(ctx context.Context, table, key, value string) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
              ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, table)
	if _, err := db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("%w: set %s %s: %v", ErrStorageWrite, table, key, err)
	}
	return nil
}

func (db *DB) getKV(ctx context.Context, table, key string) (string, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, table)
	var value string
	err := db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s %s: %w", table, key, err)
	}
	return value, nil
}

func (db *DB) deleteKV(ctx context.Context, table, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, table)
	if _, err := db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("%w: delete %s %s: %v", ErrStorageWrite, table, key, err)
	}
	return nil
}
