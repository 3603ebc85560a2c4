package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlab/driftsync/internal/config"
	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store"
)

// flakyStore wraps a real adapter and fails ConditionalPut for one record ID
// a configured number of times. Everything else passes through.
type flakyStore struct {
	store.Store

	mu     sync.Mutex
	failID string
	fails  int
	err    error
}

func (f *flakyStore) ConditionalPut(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
	f.mu.Lock()
	inject := rec.ID == f.failID && f.fails > 0
	if inject {
		f.fails--
	}
	f.mu.Unlock()
	if inject {
		return 0, f.err
	}
	return f.Store.ConditionalPut(ctx, collection, rec, expectedVersion)
}

// brokenFeed wraps a real adapter and fails every QuerySince.
type brokenFeed struct {
	store.Store
}

func (b *brokenFeed) QuerySince(ctx context.Context, collection string, cursor models.Cursor, limit int) ([]models.Record, models.Cursor, bool, error) {
	return nil, cursor, false, store.ErrUnavailable
}

func TestRunPass_RecordFailureDoesNotAbortPass(t *testing.T) {
	e := setupTestManager(t, func(s *config.Sync) {
		s.Mode = config.ModeCloudToLocal
	})
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	seed(t, e.cloud, "users", "a", map[string]any{"n": 1}, base.Add(1*time.Minute))
	seed(t, e.cloud, "users", "b", map[string]any{"n": 2}, base.Add(2*time.Minute))
	seed(t, e.cloud, "users", "c", map[string]any{"n": 3}, base.Add(3*time.Minute))

	diskFull := errors.New("disk full")
	flaky := &flakyStore{Store: e.local, failID: "b", fails: 1000, err: diskFull}
	e.remake(flaky, e.cloud)

	result, err := e.mgr.RunPass(ctx, "users")
	require.NoError(t, err, "per-record failures accumulate, they do not fail the pass")
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "b", result.Failures[0].RecordID)
	assert.ErrorIs(t, result.Failures[0].Err, diskFull)

	// Records around the failure still landed.
	_, found, err := e.local.Get(ctx, "users", "a")
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = e.local.Get(ctx, "users", "c")
	require.NoError(t, err)
	assert.True(t, found)

	// The cursor stopped at the last contiguous success before the failure.
	cp, err := e.mgr.Status(ctx, "users", models.DirectionCloudToLocal)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, cp.Status)
	assert.True(t, cp.Cursor.Time.Equal(base.Add(1*time.Minute)))
}

func TestRunPass_ResumesFromLastSuccess(t *testing.T) {
	e := setupTestManager(t, func(s *config.Sync) {
		s.Mode = config.ModeCloudToLocal
	})
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	seed(t, e.cloud, "users", "a", map[string]any{"n": 1}, base.Add(1*time.Minute))
	seed(t, e.cloud, "users", "b", map[string]any{"n": 2}, base.Add(2*time.Minute))
	seed(t, e.cloud, "users", "c", map[string]any{"n": 3}, base.Add(3*time.Minute))

	flaky := &flakyStore{Store: e.local, failID: "b", fails: 1000, err: errors.New("disk full")}
	e.remake(flaky, e.cloud)

	_, err := e.mgr.RunPass(ctx, "users")
	require.NoError(t, err)

	// The store heals; the next pass picks up from the stalled cursor.
	flaky.mu.Lock()
	flaky.fails = 0
	flaky.mu.Unlock()

	result, err := e.mgr.RunPass(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 2, result.Applied, "the failed record and the re-delivered one behind it")

	got, found, err := e.local.Get(ctx, "users", "b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(2), got.Fields["n"])

	// Record c was applied in pass one and re-delivered in pass two; the
	// equivalence check kept the second apply from bumping its version.
	gotC, _, err := e.local.Get(ctx, "users", "c")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gotC.Version)
}

func TestRunPass_ResumesInsideEqualTimestampRun(t *testing.T) {
	e := setupTestManager(t, func(s *config.Sync) {
		s.Mode = config.ModeCloudToLocal
	})
	ctx := context.Background()

	// All three records share one ModifiedAt. A failure in the middle of the
	// run stalls the cursor at "a"; the records behind it must still be
	// delivered once the store heals, not skipped past by the shared key.
	at := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	seed(t, e.cloud, "users", "a", map[string]any{"n": 1}, at)
	seed(t, e.cloud, "users", "b", map[string]any{"n": 2}, at)
	seed(t, e.cloud, "users", "c", map[string]any{"n": 3}, at)

	flaky := &flakyStore{Store: e.local, failID: "b", fails: 1000, err: errors.New("disk full")}
	e.remake(flaky, e.cloud)

	result, err := e.mgr.RunPass(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Applied, "records around the failure still land")
	assert.Equal(t, 1, result.Failed)

	cp, err := e.mgr.Status(ctx, "users", models.DirectionCloudToLocal)
	require.NoError(t, err)
	assert.Equal(t, "a", cp.Cursor.ID, "cursor stalls at the last success inside the run")

	flaky.mu.Lock()
	flaky.fails = 0
	flaky.mu.Unlock()

	result, err = e.mgr.RunPass(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 2, result.Applied)

	for _, id := range []string{"b", "c"} {
		_, found, err := e.local.Get(ctx, "users", id)
		require.NoError(t, err)
		assert.True(t, found, "record %s", id)
	}
}

func TestRunPass_UnavailableStoreFailsPass(t *testing.T) {
	e := setupTestManager(t, func(s *config.Sync) {
		s.Mode = config.ModeCloudToLocal
	})
	ctx := context.Background()

	e.remake(e.local, &brokenFeed{Store: e.cloud})

	_, err := e.mgr.RunPass(ctx, "users")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)

	cp, err := e.mgr.Status(ctx, "users", models.DirectionCloudToLocal)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, cp.Status)
	assert.Len(t, e.eventsOf(EventPassFailed), 1)
}

func TestRunPass_FailedPassRecovers(t *testing.T) {
	e := setupTestManager(t, func(s *config.Sync) {
		s.Mode = config.ModeCloudToLocal
	})
	ctx := context.Background()

	seed(t, e.cloud, "users", "u1", map[string]any{"n": 1}, time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))

	e.remake(e.local, &brokenFeed{Store: e.cloud})
	_, err := e.mgr.RunPass(ctx, "users")
	require.Error(t, err)

	// A Failed checkpoint does not block the next pass.
	e.remake(e.local, e.cloud)
	result, err := e.mgr.RunPass(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	cp, err := e.mgr.Status(ctx, "users", models.DirectionCloudToLocal)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, cp.Status)
}

func TestRunPass_BulkModeAppliesPages(t *testing.T) {
	e := setupTestManager(t, func(s *config.Sync) {
		s.Mode = config.ModeCloudToLocal
		s.ApplyMode = config.ApplyBulk
		s.BatchSize = 3
	})
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	ids := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i, id := range ids {
		seed(t, e.cloud, "users", id, map[string]any{"n": i}, base.Add(time.Duration(i)*time.Minute))
	}

	result, err := e.mgr.RunPass(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, len(ids), result.Applied)
	assert.Equal(t, 0, result.Failed)

	for _, id := range ids {
		_, found, err := e.local.Get(ctx, "users", id)
		require.NoError(t, err)
		assert.True(t, found, "record %s", id)
	}
}

func TestRunPass_BulkModeResolvesConflictsIndividually(t *testing.T) {
	e := setupTestManager(t, func(s *config.Sync) {
		s.ApplyMode = config.ApplyBulk
	})
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	seed(t, e.local, "users", "u1", map[string]any{"name": "local edit"}, base)
	seed(t, e.cloud, "users", "u1", map[string]any{"name": "cloud edit"}, base.Add(2*time.Hour))
	seed(t, e.cloud, "users", "u2", map[string]any{"name": "one-sided"}, base.Add(time.Minute))

	result, err := e.mgr.RunPass(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, result.Failed)

	localRec, _, err := e.local.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "cloud edit", localRec.Fields["name"])

	_, found, err := e.local.Get(ctx, "users", "u2")
	require.NoError(t, err)
	assert.True(t, found, "the one-sided record flowed through the batch path")
}

func TestRunPass_LogResolutions(t *testing.T) {
	e := setupTestManager(t, func(s *config.Sync) {
		s.LogResolutions = true
	})
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	seed(t, e.local, "users", "u1", map[string]any{"name": "local edit"}, base)
	seed(t, e.cloud, "users", "u1", map[string]any{"name": "cloud edit"}, base.Add(time.Hour))

	_, err := e.mgr.RunPass(ctx, "users")
	require.NoError(t, err)

	entries, err := e.conflicts.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "automatic resolutions are logged when asked for")
	assert.Equal(t, models.ResolutionCloudWon, entries[0].Resolution)
	assert.Equal(t, "last_write_wins", entries[0].Policy)
}

func TestRunPass_FanOut(t *testing.T) {
	e := setupTestManager(t, func(s *config.Sync) {
		s.Mode = config.ModeCloudToLocal
		s.FanOut = 4
	})
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		seed(t, e.cloud, "users", string(rune('a'+i)), map[string]any{"n": i}, base.Add(time.Duration(i)*time.Second))
	}

	result, err := e.mgr.RunPass(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 20, result.Applied)
	assert.Equal(t, 0, result.Failed)

	count, err := e.mgr.PendingCount(ctx, "users", models.DirectionCloudToLocal)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
