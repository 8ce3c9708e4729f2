package database

import (
	"context"
	"fmt"
	"time"

	"agrisync/internal/models"
)

// InsertMutation appends a record and assigns its id and enqueued_at. Ids are
// AUTOINCREMENT so they are unique and never reused after deletion.
func (db *DB) InsertMutation(ctx context.Context, m *models.QueuedMutation) error {
	query := `INSERT INTO mutation_queue (type, payload, enqueued_at) VALUES (?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query, m.Type, string(m.Payload), now)
	if err != nil {
		return fmt.Errorf("%w: insert mutation: %v", ErrStorageWrite, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: last insert id: %v", ErrStorageWrite, err)
	}
	m.ID = id
	m.EnqueuedAt = now

	return nil
}

// ListMutations returns all queued mutations in insertion order. Read-only.
func (db *DB) ListMutations(ctx context.Context) ([]models.QueuedMutation, error) {
	query := `SELECT id, type, payload, enqueued_at FROM mutation_queue ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	muts := []models.QueuedMutation{}
	for rows.Next() {
		var m models.QueuedMutation
		var payload string
		if err := rows.Scan(&m.ID, &m.Type, &payload, &m.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		m.Payload = []byte(payload)
		muts = append(muts, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	return muts, nil
}

// CountMutations returns the number of queued mutations.
func (db *DB) CountMutations(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutation_queue`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return n, nil
}

// ClearMutations removes all records in one transaction: either every record
// is gone or the error is reported with nothing dropped.
func (db *DB) ClearMutations(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin clear: %v", ErrStorageWrite, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mutation_queue`); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: clear mutations: %v", ErrStorageWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit clear: %v", ErrStorageWrite, err)
	}
	return nil
}

// RemoveMutation deletes exactly one record. Removing an id that does not
// exist is a no-op, so concurrent drains do not trip over each other.
func (db *DB) RemoveMutation(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: remove mutation %d: %v", ErrStorageWrite, id, err)
	}
	return nil
}
