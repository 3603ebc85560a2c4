// Package store defines the document store adapter boundary shared by the
// cloud store and the local mirror. Both sides expose get/put/delete by key
// with an atomic conditional-write primitive; correctness of the whole sync
// path rests on that primitive, not on in-process locking.
package store

import (
	"context"

	"github.com/driftlab/driftsync/internal/models"
)

//go:generate moq -out store_mock.go . Store

// OpKind is the type of a batched write operation.
type OpKind string

const (
	OpPut    OpKind = "put"
	OpDelete OpKind = "delete"
)

// WriteOp is one conditional write inside an atomic batch.
// ExpectedVersion 0 means the record must not exist yet.
type WriteOp struct {
	Record          models.Record `json:"record"`
	Kind            OpKind        `json:"kind"`
	ExpectedVersion uint64        `json:"expected_version"`
}

// OpResult is the per-operation outcome of an atomic batch.
type OpResult struct {
	Err        error  `json:"-"`
	NewVersion uint64 `json:"new_version"`
	Applied    bool   `json:"applied"`
}

// Store is the adapter over a document store. Implementations must make
// ConditionalPut and Delete atomic compare-and-swap operations: two writers
// observing the same version must never both succeed.
type Store interface {
	// Get returns the record with the given id. found is false when the
	// record does not exist (tombstones are returned as existing records
	// with Deleted set).
	Get(ctx context.Context, collection, id string) (models.Record, bool, error)

	// ConditionalPut writes rec if and only if the stored version equals
	// expectedVersion (0 = create, record must not exist). Returns the new
	// version on success and ErrVersionConflict otherwise.
	ConditionalPut(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error)

	// Delete tombstones the record if the stored version equals
	// expectedVersion, so the deletion stays visible to QuerySince.
	Delete(ctx context.Context, collection, id string, expectedVersion uint64) error

	// QuerySince returns up to limit records whose (cursor key, id) pair is
	// strictly greater than the cursor's, in ascending (key, id) order,
	// together with the cursor of the last returned record and whether more
	// records remain. The id tiebreak keeps the feed resumable when a page
	// boundary lands inside a run of records sharing one key. Adapters whose
	// versions do not form one global order return ErrUnsupportedCursor for
	// version cursors.
	QuerySince(ctx context.Context, collection string, cursor models.Cursor, limit int) ([]models.Record, models.Cursor, bool, error)

	// AtomicBatch applies all ops in one all-or-nothing unit. Per-op results
	// are reported even when the batch as a whole fails.
	AtomicBatch(ctx context.Context, collection string, ops []WriteOp) ([]OpResult, error)
}
