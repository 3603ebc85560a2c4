package txn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry(maxAttempts int) RetryOptions {
	return RetryOptions{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestCoordinator_CommitsFirstAttempt(t *testing.T) {
	mock := &store.StoreMock{
		ConditionalPutFunc: func(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
			return expectedVersion + 1, nil
		},
	}
	c := NewCoordinator(mock, testLogger())

	op := func(ctx context.Context) (models.Record, uint64, error) {
		return models.Record{ID: "r1", Fields: map[string]any{"n": 1}}, 3, nil
	}

	rec, result, err := c.Execute(context.Background(), "docs", op, fastRetry(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rec.Version, "committed record carries the new version")
	assert.Equal(t, 1, result.Attempts)
	require.Len(t, result.Trail, 1)
	assert.Equal(t, models.AttemptCommitted, result.Trail[0].Outcome)
}

func TestCoordinator_RetriesVersionConflicts(t *testing.T) {
	conflicts := 3
	mock := &store.StoreMock{
		ConditionalPutFunc: func(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
			if conflicts > 0 {
				conflicts--
				return 0, store.ErrVersionConflict
			}
			return expectedVersion + 1, nil
		},
	}
	c := NewCoordinator(mock, testLogger())

	opCalls := 0
	op := func(ctx context.Context) (models.Record, uint64, error) {
		opCalls++
		return models.Record{ID: "r1"}, uint64(opCalls), nil
	}

	_, result, err := c.Execute(context.Background(), "docs", op, fastRetry(5))
	require.NoError(t, err)
	assert.Equal(t, 4, result.Attempts, "three conflicts then success")
	assert.Equal(t, 4, opCalls, "op re-runs on every attempt so it reads fresh state")
	assert.Equal(t, models.AttemptVersionConflict, result.Trail[0].Outcome)
	assert.Equal(t, models.AttemptCommitted, result.Trail[3].Outcome)
}

func TestCoordinator_RetryExhausted(t *testing.T) {
	mock := &store.StoreMock{
		ConditionalPutFunc: func(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
			return 0, store.ErrVersionConflict
		},
	}
	c := NewCoordinator(mock, testLogger())

	op := func(ctx context.Context) (models.Record, uint64, error) {
		return models.Record{ID: "r1"}, 1, nil
	}

	_, result, err := c.Execute(context.Background(), "docs", op, fastRetry(3))
	require.Error(t, err)

	var exhausted *RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, store.ErrVersionConflict, "the last conflict stays inspectable via Unwrap")
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, mock.ConditionalPutCalls(), 3)
}

func TestCoordinator_NonConflictErrorNotRetried(t *testing.T) {
	mock := &store.StoreMock{
		ConditionalPutFunc: func(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
			return 0, store.ErrUnavailable
		},
	}
	c := NewCoordinator(mock, testLogger())

	op := func(ctx context.Context) (models.Record, uint64, error) {
		return models.Record{ID: "r1"}, 1, nil
	}

	_, result, err := c.Execute(context.Background(), "docs", op, fastRetry(5))
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, 1, result.Attempts, "only version conflicts are worth retrying")
}

func TestCoordinator_Timeout(t *testing.T) {
	mock := &store.StoreMock{
		ConditionalPutFunc: func(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
			return 0, store.ErrVersionConflict
		},
	}
	c := NewCoordinator(mock, testLogger())

	op := func(ctx context.Context) (models.Record, uint64, error) {
		return models.Record{ID: "r1"}, 1, nil
	}

	opts := RetryOptions{
		MaxAttempts: 100,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Timeout:     20 * time.Millisecond,
	}
	_, _, err := c.Execute(context.Background(), "docs", op, opts)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCoordinator_CallerCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	mock := &store.StoreMock{
		ConditionalPutFunc: func(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
			// Cancel while the coordinator would back off for a retry.
			cancel()
			return 0, store.ErrVersionConflict
		},
	}
	c := NewCoordinator(mock, testLogger())

	op := func(ctx context.Context) (models.Record, uint64, error) {
		return models.Record{ID: "r1"}, 1, nil
	}

	_, _, err := c.Execute(ctx, "docs", op, fastRetry(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled, "caller cancellation surfaces as itself")
	assert.NotErrorIs(t, err, ErrTimeout, "only an elapsed deadline is a timeout")
}

func TestCoordinator_OpErrorSurfaces(t *testing.T) {
	mock := &store.StoreMock{}
	c := NewCoordinator(mock, testLogger())

	opErr := errors.New("read failed")
	op := func(ctx context.Context) (models.Record, uint64, error) {
		return models.Record{}, 0, opErr
	}

	_, _, err := c.Execute(context.Background(), "docs", op, fastRetry(5))
	assert.ErrorIs(t, err, opErr)
	assert.Empty(t, mock.ConditionalPutCalls(), "a failed read never reaches the store")
}

// Two writers race on the same record; the loser re-reads and lands its
// change on top of the winner's commit on the second attempt.
func TestCoordinator_TwoWriters(t *testing.T) {
	var mu sync.Mutex
	stored := models.Record{ID: "u1", Fields: map[string]any{"count": 0}, Version: 1}

	mock := &store.StoreMock{
		GetFunc: func(ctx context.Context, collection, id string) (models.Record, bool, error) {
			mu.Lock()
			defer mu.Unlock()
			return *stored.Clone(), true, nil
		},
		ConditionalPutFunc: func(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
			mu.Lock()
			defer mu.Unlock()
			if stored.Version != expectedVersion {
				return 0, store.ErrVersionConflict
			}
			rec.Version = expectedVersion + 1
			stored = rec
			return rec.Version, nil
		},
	}
	c := NewCoordinator(mock, testLogger())

	increment := func(ctx context.Context) (models.Record, uint64, error) {
		current, _, err := mock.Get(ctx, "docs", "u1")
		if err != nil {
			return models.Record{}, 0, err
		}
		next := current.Clone()
		next.Fields["count"] = current.Fields["count"].(int) + 1
		return *next, current.Version, nil
	}

	// Writer one commits 1 -> 2.
	_, res1, err := c.Execute(context.Background(), "docs", increment, fastRetry(5))
	require.NoError(t, err)
	assert.Equal(t, 1, res1.Attempts)

	// Writer two computed against version 1 concurrently: simulate by
	// failing its first put, then letting the retry read fresh state.
	firstPut := true
	mock.ConditionalPutFunc = func(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
		mu.Lock()
		defer mu.Unlock()
		if firstPut {
			firstPut = false
			return 0, store.ErrVersionConflict
		}
		if stored.Version != expectedVersion {
			return 0, store.ErrVersionConflict
		}
		rec.Version = expectedVersion + 1
		stored = rec
		return rec.Version, nil
	}

	rec, res2, err := c.Execute(context.Background(), "docs", increment, fastRetry(5))
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Attempts, "second writer needs exactly one retry")
	assert.Equal(t, uint64(3), rec.Version)
	assert.Equal(t, 2, rec.Fields["count"], "both increments survive")
}

func TestCoordinator_OnAttemptCallback(t *testing.T) {
	mock := &store.StoreMock{
		ConditionalPutFunc: func(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
			return expectedVersion + 1, nil
		},
	}
	c := NewCoordinator(mock, testLogger())

	var seen []models.TransactionAttempt
	c.OnAttempt = func(a models.TransactionAttempt) { seen = append(seen, a) }

	op := func(ctx context.Context) (models.Record, uint64, error) {
		return models.Record{ID: "r1"}, 0, nil
	}

	_, _, err := c.Execute(context.Background(), "docs", op, fastRetry(3))
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, 1, seen[0].Number)
	assert.Equal(t, models.AttemptCommitted, seen[0].Outcome)
}
