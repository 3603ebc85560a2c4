// Package batch groups conditional writes into bounded-size atomic chunks.
// Operations within one chunk commit or roll back together (the store's
// atomic-batch primitive); chunks are independent of each other, so a failed
// chunk never blocks the chunks after it. Partial failure is explicit in
// the result, never silent.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftlab/driftsync/internal/store"
	"github.com/driftlab/driftsync/internal/txn"
)

// DefaultChunkSize bounds a chunk when options leave it zero. Kept modest
// because the underlying store's atomic-batch limit bounds it from above.
const DefaultChunkSize = 25

// Options tunes chunking and chunk-scoped retries.
type Options struct {
	Retry           txn.RetryOptions // backoff schedule shared with the coordinator
	ChunkSize       int
	MaxChunkRetries int // resubmissions of a failed chunk beyond the first attempt
}

// OpOutcome is the per-operation result of a batch run.
type OpOutcome struct {
	Err        error
	Op         store.WriteOp
	NewVersion uint64
	Applied    bool
}

// Result aggregates per-operation outcomes and counts for one Execute call.
type Result struct {
	Outcomes     []OpOutcome
	Duration     time.Duration
	AppliedCount int
	FailedCount  int
	Chunks       int
}

// PartialFailureError reports that some chunks failed while others applied.
// Non-fatal to a sync pass: failed operations are retried on the next pass.
type PartialFailureError struct {
	Applied int
	Failed  int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("batch partially failed: %d applied, %d failed", e.Applied, e.Failed)
}

// Executor submits atomic chunks to one store.
type Executor struct {
	store  store.Store
	logger *slog.Logger
}

// NewExecutor creates an executor writing through st.
func NewExecutor(st store.Store, logger *slog.Logger) *Executor {
	return &Executor{store: st, logger: logger}
}

// Execute splits ops into chunks of at most opts.ChunkSize and submits each
// as one atomic batch. A failed chunk is resubmitted up to
// opts.MaxChunkRetries times on the coordinator's backoff schedule, except
// for version conflicts: a conflicted precondition stays conflicted until
// somebody re-reads, so resubmitting the same chunk cannot succeed.
func (e *Executor) Execute(ctx context.Context, collection string, ops []store.WriteOp, opts Options) (Result, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	start := time.Now()
	result := Result{Outcomes: make([]OpOutcome, 0, len(ops))}

	for offset := 0; offset < len(ops); offset += opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-run: remaining ops are reported failed so the
			// caller sees exactly what was and was not attempted.
			for _, op := range ops[offset:] {
				result.Outcomes = append(result.Outcomes, OpOutcome{Op: op, Err: err})
				result.FailedCount++
			}
			break
		}

		end := offset + opts.ChunkSize
		if end > len(ops) {
			end = len(ops)
		}
		chunk := ops[offset:end]
		result.Chunks++

		opResults, err := e.submitChunk(ctx, collection, chunk, opts)
		for i, op := range chunk {
			outcome := OpOutcome{Op: op}
			if err == nil {
				outcome.Applied = true
				outcome.NewVersion = opResults[i].NewVersion
				result.AppliedCount++
			} else {
				outcome.Err = opErr(opResults, i, err)
				result.FailedCount++
			}
			result.Outcomes = append(result.Outcomes, outcome)
		}
	}

	result.Duration = time.Since(start)

	if result.FailedCount > 0 {
		e.logger.Warn("batch completed with failures",
			"collection", collection,
			"applied", result.AppliedCount,
			"failed", result.FailedCount,
			"chunks", result.Chunks)
		return result, &PartialFailureError{Applied: result.AppliedCount, Failed: result.FailedCount}
	}
	return result, nil
}

// submitChunk runs one chunk with chunk-scoped retries.
func (e *Executor) submitChunk(ctx context.Context, collection string, chunk []store.WriteOp, opts Options) ([]store.OpResult, error) {
	backoff := txn.NewBackoff(opts.Retry)

	var opResults []store.OpResult
	var err error

	for try := 0; ; try++ {
		opResults, err = e.store.AtomicBatch(ctx, collection, chunk)
		if err == nil {
			return opResults, nil
		}
		// Version conflicts need a fresh read before the chunk can succeed;
		// that is the next pass's job, not a blind resubmission's.
		if errors.Is(err, store.ErrVersionConflict) || try >= opts.MaxChunkRetries {
			return opResults, err
		}

		delay, stop := backoff.Next()
		if stop {
			return opResults, err
		}
		e.logger.Debug("chunk failed, resubmitting",
			"collection", collection,
			"try", try+1,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return opResults, ctx.Err()
		case <-timer.C:
		}
	}
}

// opErr picks the most specific error available for op i of a failed chunk.
func opErr(opResults []store.OpResult, i int, chunkErr error) error {
	if i < len(opResults) && opResults[i].Err != nil {
		return opResults[i].Err
	}
	return chunkErr
}
