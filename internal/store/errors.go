package store

import "errors"

// Common store adapter errors
var (
	// ErrVersionConflict indicates a conditional write lost the race:
	// the stored version no longer matches the expected one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable indicates the store cannot be reached. Fatal to the
	// current pass; the checkpoint stays at the last success.
	ErrUnavailable = errors.New("store unavailable")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")

	// ErrUnsupportedCursor indicates the adapter cannot serve a change feed
	// ordered by the requested cursor kind. Version cursors require a store
	// whose versions form one global order; adapters assigning versions
	// per record must refuse them instead of silently losing changes.
	ErrUnsupportedCursor = errors.New("unsupported cursor kind")
)
