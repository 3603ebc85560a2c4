package checkpoint

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store"
	"github.com/driftlab/driftsync/internal/store/boltstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	backing, err := boltstore.New(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)

	cleanup := func() {
		assert.NoError(t, backing.Close())
	}
	return NewStore(backing, testLogger()), cleanup
}

func TestStore_LoadFreshCheckpoint(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	cp, err := s.Load(context.Background(), "users", models.DirectionCloudToLocal)
	require.NoError(t, err)

	assert.Equal(t, "users", cp.Collection)
	assert.Equal(t, models.DirectionCloudToLocal, cp.Direction)
	assert.Equal(t, models.StatusIdle, cp.Status)
	assert.True(t, cp.Cursor.IsZero(), "a fresh checkpoint starts at the beginning of the feed")
	assert.Zero(t, cp.Generation)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	cp, err := s.Load(ctx, "users", models.DirectionCloudToLocal)
	require.NoError(t, err)

	cp.Status = models.StatusRunning
	cp.Cursor = models.Cursor{Kind: models.CursorModifiedAt, Time: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	cp.LastSyncedAt = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	saved, err := s.Save(ctx, cp)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), saved.Generation)

	loaded, err := s.Load(ctx, "users", models.DirectionCloudToLocal)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, loaded.Status)
	assert.True(t, loaded.Cursor.Time.Equal(cp.Cursor.Time))
	assert.True(t, loaded.LastSyncedAt.Equal(cp.LastSyncedAt))
	assert.Equal(t, uint64(1), loaded.Generation)
}

func TestStore_SaveStaleGenerationConflicts(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	cp, err := s.Load(ctx, "users", models.DirectionCloudToLocal)
	require.NoError(t, err)

	// Two passes load the same generation; the first save wins.
	first, err := s.Save(ctx, cp)
	require.NoError(t, err)

	_, err = s.Save(ctx, cp)
	assert.ErrorIs(t, err, store.ErrVersionConflict, "the second save raced and must lose")

	// The winner continues from its returned generation.
	first.Status = models.StatusIdle
	_, err = s.Save(ctx, first)
	assert.NoError(t, err)
}

func TestStore_DirectionsAreIndependent(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	cp, err := s.Load(ctx, "users", models.DirectionCloudToLocal)
	require.NoError(t, err)
	cp.Status = models.StatusFailed
	_, err = s.Save(ctx, cp)
	require.NoError(t, err)

	other, err := s.Load(ctx, "users", models.DirectionLocalToCloud)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, other.Status, "the opposite direction keeps its own state")
}

func TestConflictLog_AppendAndList(t *testing.T) {
	backing, err := boltstore.New(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer func() { assert.NoError(t, backing.Close()) }()

	log := NewConflictLog(backing, testLogger())
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []models.ConflictLogEntry{
		{
			Collection: "users",
			RecordID:   "u1",
			Policy:     "manual",
			Resolution: models.ResolutionManual,
			ResolvedAt: base,
			Local:      &models.Record{ID: "u1", Fields: map[string]any{"name": "local"}},
			Cloud:      &models.Record{ID: "u1", Fields: map[string]any{"name": "cloud"}},
		},
		{
			Collection: "users",
			RecordID:   "u2",
			Policy:     "last_write_wins",
			Resolution: models.ResolutionCloudWon,
			ResolvedAt: base.Add(time.Minute),
		},
	}
	for _, entry := range entries {
		require.NoError(t, log.Append(ctx, entry))
	}

	listed, err := log.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	assert.Equal(t, "u1", listed[0].RecordID, "oldest first")
	assert.NotEmpty(t, listed[0].ID, "append assigns entry ids")
	assert.Equal(t, models.ResolutionManual, listed[0].Resolution)
	require.NotNil(t, listed[0].Local)
	assert.Equal(t, "local", listed[0].Local.Fields["name"])
	assert.Equal(t, "u2", listed[1].RecordID)
}

func TestConflictLog_RepeatedConflictsOnSameRecord(t *testing.T) {
	backing, err := boltstore.New(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer func() { assert.NoError(t, backing.Close()) }()

	log := NewConflictLog(backing, testLogger())
	ctx := context.Background()

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		entry := models.ConflictLogEntry{
			Collection: "users",
			RecordID:   "u1",
			Policy:     "manual",
			Resolution: models.ResolutionManual,
			ResolvedAt: at.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, log.Append(ctx, entry))
	}

	listed, err := log.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 3, "entries are append-only, never overwritten")
}
