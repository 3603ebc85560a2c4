package models

import "time"

// CursorKind selects which record attribute a cursor orders by.
type CursorKind string

const (
	// CursorVersion orders changes by record version. Used when the store
	// is version-ordered (single writer bumping versions).
	CursorVersion CursorKind = "version"
	// CursorModifiedAt orders changes by modification timestamp.
	CursorModifiedAt CursorKind = "modified_at"
)

// Cursor is a resumable position in a store's change feed. The zero value
// means "from the beginning". ID is the record the cursor stopped at and
// breaks ties between records sharing the same primary key, so a page
// boundary inside a run of equal keys stays resumable without skipping the
// rest of the run.
type Cursor struct {
	Time    time.Time  `json:"time"`
	Kind    CursorKind `json:"kind"`
	ID      string     `json:"id,omitempty"`
	Version uint64     `json:"version"`
}

// Key extracts the cursor key of a record for this cursor's kind.
func (c Cursor) Key(r *Record) Cursor {
	return Cursor{Kind: c.Kind, Version: r.Version, Time: r.ModifiedAt, ID: r.ID}
}

// Less reports whether c orders strictly before other under c's kind.
// Equal primary keys fall through to the record ID, matching the
// (key, id) order stores return change feeds in.
func (c Cursor) Less(other Cursor) bool {
	if c.Kind == CursorVersion {
		if c.Version != other.Version {
			return c.Version < other.Version
		}
		return c.ID < other.ID
	}
	if !c.Time.Equal(other.Time) {
		return c.Time.Before(other.Time)
	}
	return c.ID < other.ID
}

// IsZero reports whether the cursor is at the beginning of the feed.
func (c Cursor) IsZero() bool {
	return c.Version == 0 && c.Time.IsZero() && c.ID == ""
}

// Direction identifies which way changes flow during a pass.
type Direction string

const (
	DirectionCloudToLocal Direction = "cloud_to_local"
	DirectionLocalToCloud Direction = "local_to_cloud"
)

// CheckpointStatus is the sync state machine state persisted with a checkpoint.
type CheckpointStatus string

const (
	StatusIdle    CheckpointStatus = "idle"
	StatusRunning CheckpointStatus = "running"
	StatusFailed  CheckpointStatus = "failed"
)

// Checkpoint is the durable marker of sync progress for one
// (collection, direction) pair. It is owned exclusively by the sync
// manager and persisted through a conditional write keyed by Generation,
// so two concurrent passes can never both advance the same cursor.
type Checkpoint struct {
	LastSyncedAt time.Time        `json:"last_synced_at"`
	Collection   string           `json:"collection"`
	Direction    Direction        `json:"direction"`
	Status       CheckpointStatus `json:"status"`
	Cursor       Cursor           `json:"cursor"`
	Generation   uint64           `json:"generation"` // CAS precondition for checkpoint updates
}

// ResolutionOutcome describes how a conflict was settled.
type ResolutionOutcome string

const (
	ResolutionLocalWon ResolutionOutcome = "local_won"
	ResolutionCloudWon ResolutionOutcome = "cloud_won"
	ResolutionMerged   ResolutionOutcome = "merged"
	ResolutionManual   ResolutionOutcome = "manual"
	ResolutionOneSided ResolutionOutcome = "one_sided"
)

// ConflictLogEntry records a conflict for external review. Entries are
// immutable once written; the review queue that consumes them is outside
// this module.
type ConflictLogEntry struct {
	ResolvedAt time.Time         `json:"resolved_at"`
	Local      *Record           `json:"local,omitempty"`
	Cloud      *Record           `json:"cloud,omitempty"`
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	RecordID   string            `json:"record_id"`
	Policy     string            `json:"policy"`
	Resolution ResolutionOutcome `json:"resolution"`
}

// AttemptOutcome classifies a single conditional-write attempt.
type AttemptOutcome string

const (
	AttemptCommitted       AttemptOutcome = "committed"
	AttemptVersionConflict AttemptOutcome = "version_conflict"
	AttemptTimeout         AttemptOutcome = "timeout"
	AttemptError           AttemptOutcome = "error"
)

// TransactionAttempt describes one attempt inside a coordinator invocation.
// Attempts live only as long as the call; aggregate counts survive in the
// transaction result.
type TransactionAttempt struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Outcome   AttemptOutcome `json:"outcome"`
	Number    int            `json:"number"`
}
