// Package txn executes single-record conditional read-modify-write cycles
// against a store, retrying version conflicts with exponential backoff. Each
// attempt is all-or-nothing at the store level, so no partial state is ever
// visible regardless of where a retry loop stops.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store"
)

// ErrTimeout indicates the overall deadline elapsed before any attempt
// committed. Remaining retries are abandoned immediately.
var ErrTimeout = errors.New("transaction timed out")

// RetryExhaustedError indicates every allowed attempt lost the conditional
// write race.
type RetryExhaustedError struct {
	LastErr  error
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }

// Op reads the current record, computes its new value and returns it along
// with the version observed by the read. The coordinator uses that version
// as the conditional-write precondition, and re-invokes the op on every
// retry so it always works from fresh state, never a stale replay.
type Op func(ctx context.Context) (models.Record, uint64, error)

// Result aggregates what happened across the attempts of one invocation.
type Result struct {
	Trail    []models.TransactionAttempt
	Duration time.Duration
	Attempts int
}

// Coordinator runs conditional read-modify-write cycles against one store.
type Coordinator struct {
	store  store.Store
	logger *slog.Logger

	// OnAttempt, when set, observes every attempt. Metrics emission is the
	// caller's business, not the coordinator's.
	OnAttempt func(models.TransactionAttempt)
}

// NewCoordinator creates a coordinator writing through st.
func NewCoordinator(st store.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: st, logger: logger}
}

// Execute runs op and commits its result with a conditional write, retrying
// version conflicts up to opts.MaxAttempts with exponential backoff. On
// success the returned record carries the committed version.
func (c *Coordinator) Execute(ctx context.Context, collection string, op Op, opts RetryOptions) (models.Record, Result, error) {
	opts = opts.withDefaults()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	backoff := NewBackoff(opts)
	start := time.Now()

	var result Result
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result.Attempts = attempt

		committed, err := c.attempt(ctx, collection, op, attempt, &result)
		if err == nil {
			result.Duration = time.Since(start)
			return committed, result, nil
		}
		lastErr = err

		if !errors.Is(err, store.ErrVersionConflict) {
			result.Duration = time.Since(start)
			return models.Record{}, result, timeoutOr(ctx, err)
		}

		if attempt == opts.MaxAttempts {
			break
		}

		delay, stop := backoff.Next()
		if stop {
			break
		}
		c.logger.Debug("version conflict, backing off",
			"collection", collection,
			"attempt", attempt,
			"delay", delay)
		if err := sleep(ctx, delay); err != nil {
			result.Duration = time.Since(start)
			return models.Record{}, result, timeoutOr(ctx, err)
		}
	}

	result.Duration = time.Since(start)
	return models.Record{}, result, &RetryExhaustedError{Attempts: result.Attempts, LastErr: lastErr}
}

// attempt runs one read-modify-write cycle and records its outcome.
func (c *Coordinator) attempt(ctx context.Context, collection string, op Op, number int, result *Result) (models.Record, error) {
	startedAt := time.Now()

	record := func(outcome models.AttemptOutcome) {
		a := models.TransactionAttempt{
			Number:    number,
			StartedAt: startedAt,
			Duration:  time.Since(startedAt),
			Outcome:   outcome,
		}
		result.Trail = append(result.Trail, a)
		if c.OnAttempt != nil {
			c.OnAttempt(a)
		}
	}

	rec, expectedVersion, err := op(ctx)
	if err != nil {
		if ctx.Err() != nil {
			record(models.AttemptTimeout)
		} else {
			record(models.AttemptError)
		}
		return models.Record{}, fmt.Errorf("op failed: %w", err)
	}

	newVersion, err := c.store.ConditionalPut(ctx, collection, rec, expectedVersion)
	switch {
	case err == nil:
		record(models.AttemptCommitted)
		rec.Version = newVersion
		return rec, nil
	case errors.Is(err, store.ErrVersionConflict):
		record(models.AttemptVersionConflict)
		return models.Record{}, err
	case ctx.Err() != nil:
		record(models.AttemptTimeout)
		return models.Record{}, err
	default:
		record(models.AttemptError)
		return models.Record{}, err
	}
}

// timeoutOr maps an elapsed deadline onto ErrTimeout and leaves every other
// failure, caller cancellation included, untouched.
func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
	return err
}

// sleep waits for d or until the context is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
