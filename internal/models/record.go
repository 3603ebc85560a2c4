package models

import "time"

// Origin identifies which store produced a record snapshot.
type Origin string

const (
	OriginCloud Origin = "cloud"
	OriginLocal Origin = "local"
)

// Record is a versioned document snapshot as held by either store.
// Version is monotonically increasing per ID and is assigned by whichever
// store currently owns the write; it is the sole authority for detecting
// concurrent modification. ModifiedAt is wall-clock time used only for
// tie-breaking, never for authority.
type Record struct {
	ModifiedAt time.Time      `json:"modified_at"`
	Fields     map[string]any `json:"fields"`
	ID         string         `json:"id"`
	Origin     Origin         `json:"origin"`
	Version    uint64         `json:"version"`
	Deleted    bool           `json:"deleted"` // tombstone, propagated like any other change
}

// Clone returns a deep copy of the record. Fields values are copied one
// level deep, which is sufficient because resolvers only ever replace
// whole field values, never mutate them in place.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return &Record{
		ID:         r.ID,
		Fields:     fields,
		Version:    r.Version,
		ModifiedAt: r.ModifiedAt,
		Origin:     r.Origin,
		Deleted:    r.Deleted,
	}
}

// NewerThan reports whether r's wall-clock timestamp is strictly later
// than other's. Callers that need tie-breaking must apply their own
// secondary comparison; equal timestamps return false from both sides.
func (r *Record) NewerThan(other *Record) bool {
	return r.ModifiedAt.After(other.ModifiedAt)
}
