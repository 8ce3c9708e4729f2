package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"agrisync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(os.Stdout)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func TestNewDBIdempotent(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	path := filepath.Join(t.TempDir(), "agrisync.db")

	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening an initialized store must not fail or lose schema.
	db, err = NewDB(path, &logger)
	require.NoError(t, err)
	defer db.Close()

	muts, err := db.ListMutations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, muts)
}

func TestNewDBUnavailablePath(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	blocker := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// Parent of the database path is a regular file.
	_, err := NewDB(filepath.Join(blocker, "agrisync.db"), &logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestDurabilityAcrossReopen(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	path := filepath.Join(t.TempDir(), "agrisync.db")
	ctx := context.Background()

	db, err := NewDB(path, &logger)
	require.NoError(t, err)

	m := &models.QueuedMutation{
		Type:    models.MutationCreateField,
		Payload: []byte(`{"name":"North Plot"}`),
	}
	require.NoError(t, db.InsertMutation(ctx, m))
	require.NoError(t, db.Close())

	// Simulated restart.
	db, err = NewDB(path, &logger)
	require.NoError(t, err)
	defer db.Close()

	muts, err := db.ListMutations(ctx)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, m.ID, muts[0].ID)
	assert.Equal(t, models.MutationCreateField, muts[0].Type)
	assert.JSONEq(t, `{"name":"North Plot"}`, string(muts[0].Payload))
}

func TestLegacySessionKeyMigration(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	path := filepath.Join(t.TempDir(), "agrisync.db")
	ctx := context.Background()

	db, err := NewDB(path, &logger)
	require.NoError(t, err)

	// Simulate an old build: legacy rows present, canonical keys absent,
	// migration 2 not yet recorded.
	_, err = db.Exec(`DELETE FROM schema_migrations WHERE version = 2`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO session (key, value) VALUES ('token', 'legacy-token')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO session (key, value) VALUES ('agri_user', '{"name":"Ravi"}')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(path, &logger)
	require.NoError(t, err)
	defer db.Close()

	s, err := db.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "legacy-token", s.Token)
	require.NotNil(t, s.User)
	assert.Equal(t, "Ravi", s.User.Name)
}

func TestLegacyMigrationDoesNotOverwriteCanonical(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	path := filepath.Join(t.TempDir(), "agrisync.db")
	ctx := context.Background()

	db, err := NewDB(path, &logger)
	require.NoError(t, err)

	require.NoError(t, db.SaveSession(ctx, &models.Session{Token: "current-token"}))
	_, err = db.Exec(`DELETE FROM schema_migrations WHERE version = 2`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO session (key, value) VALUES ('token', 'stale-token')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(path, &logger)
	require.NoError(t, err)
	defer db.Close()

	s, err := db.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "current-token", s.Token)
}
