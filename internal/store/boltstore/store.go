// Package boltstore implements the store adapter on BoltDB. It backs the
// local mirror: one bucket per collection, records JSON-encoded under their
// ID. BoltDB's single-writer transactions provide the atomic compare-and-swap
// and atomic-batch primitives the adapter contract requires.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store"
)

// Storage is a BoltDB-backed document store for the local mirror.
type Storage struct {
	db *bbolt.DB
}

// New opens (or creates) the BoltDB file at dbPath.
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close closes the database file.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get retrieves a record by ID. Tombstones are returned with Deleted set.
func (s *Storage) Get(ctx context.Context, collection, id string) (models.Record, bool, error) {
	if s.db == nil {
		return models.Record{}, false, store.ErrClosed
	}

	var rec models.Record
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return models.Record{}, false, err
	}

	rec.Origin = models.OriginLocal
	return rec, found, nil
}

// ConditionalPut writes rec if the stored version equals expectedVersion.
// expectedVersion 0 means the record must not exist. The new version is
// always expectedVersion+1; the stored ModifiedAt is taken from rec so that
// sync applies preserve the source-side timestamp.
func (s *Storage) ConditionalPut(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
	if s.db == nil {
		return 0, store.ErrClosed
	}

	newVersion := expectedVersion + 1

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		if err := checkVersion(bucket, rec.ID, expectedVersion); err != nil {
			return err
		}

		rec.Version = newVersion
		rec.Origin = models.OriginLocal
		if rec.ModifiedAt.IsZero() {
			rec.ModifiedAt = time.Now().UTC()
		}

		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return bucket.Put([]byte(rec.ID), data)
	})
	if err != nil {
		return 0, err
	}

	return newVersion, nil
}

// Delete tombstones the record if the stored version equals expectedVersion.
// The tombstone keeps the record visible to QuerySince so deletions propagate
// through the change feed.
func (s *Storage) Delete(ctx context.Context, collection, id string, expectedVersion uint64) error {
	if s.db == nil {
		return store.ErrClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return store.ErrNotFound
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return store.ErrNotFound
		}

		var rec models.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		if rec.Version != expectedVersion {
			return store.ErrVersionConflict
		}

		rec.Version = expectedVersion + 1
		rec.Deleted = true
		rec.ModifiedAt = time.Now().UTC()

		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal tombstone: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
}

// QuerySince returns records whose (modification time, id) pair is strictly
// greater than the cursor's, in ascending (time, id) order, capped at limit.
// Versions here are assigned per record, not globally, so a version-ordered
// feed would hide lower-versioned records forever; version cursors are
// refused.
func (s *Storage) QuerySince(ctx context.Context, collection string, cursor models.Cursor, limit int) ([]models.Record, models.Cursor, bool, error) {
	if s.db == nil {
		return nil, cursor, false, store.ErrClosed
	}
	if cursor.Kind == models.CursorVersion {
		return nil, cursor, false, store.ErrUnsupportedCursor
	}
	if cursor.Kind == "" {
		cursor.Kind = models.CursorModifiedAt
	}

	var matched []models.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec models.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			rec.Origin = models.OriginLocal
			if cursor.Less(cursor.Key(&rec)) {
				matched = append(matched, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, cursor, false, err
	}

	sortByCursorKey(matched)

	hasMore := false
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
		hasMore = true
	}

	next := cursor
	if len(matched) > 0 {
		next = cursor.Key(&matched[len(matched)-1])
	}
	return matched, next, hasMore, nil
}

// AtomicBatch applies ops in one BoltDB transaction: all-or-nothing.
// Per-op results are populated even when the batch fails.
func (s *Storage) AtomicBatch(ctx context.Context, collection string, ops []store.WriteOp) ([]store.OpResult, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}

	results := make([]store.OpResult, len(ops))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		for i, op := range ops {
			if err := applyOp(bucket, op); err != nil {
				results[i] = store.OpResult{Applied: false, Err: err}
				// Returning the error rolls the whole transaction back,
				// which is exactly the all-or-nothing contract.
				return fmt.Errorf("op %d (%s): %w", i, op.Record.ID, err)
			}
			results[i] = store.OpResult{Applied: true, NewVersion: op.ExpectedVersion + 1}
		}
		return nil
	})
	if err != nil {
		// A rolled-back batch applied nothing.
		for i := range results {
			results[i].Applied = false
		}
		return results, err
	}

	return results, nil
}

func applyOp(bucket *bbolt.Bucket, op store.WriteOp) error {
	rec := op.Record
	if err := checkVersion(bucket, rec.ID, op.ExpectedVersion); err != nil {
		return err
	}

	rec.Version = op.ExpectedVersion + 1
	rec.Origin = models.OriginLocal
	if op.Kind == store.OpDelete {
		rec.Deleted = true
	}
	if rec.ModifiedAt.IsZero() {
		rec.ModifiedAt = time.Now().UTC()
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return bucket.Put([]byte(rec.ID), data)
}

// checkVersion enforces the compare-and-swap precondition against the
// record currently in the bucket.
func checkVersion(bucket *bbolt.Bucket, id string, expected uint64) error {
	data := bucket.Get([]byte(id))
	if data == nil {
		if expected != 0 {
			return store.ErrVersionConflict
		}
		return nil
	}

	var current models.Record
	if err := json.Unmarshal(data, &current); err != nil {
		return fmt.Errorf("failed to unmarshal current record: %w", err)
	}
	if current.Version != expected {
		return store.ErrVersionConflict
	}
	return nil
}

// sortByCursorKey orders records ascending by (modification time, id); the
// id tiebreak keeps the next cursor safely resumable across equal-time runs.
func sortByCursorKey(recs []models.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].ModifiedAt.Equal(recs[j].ModifiedAt) {
			return recs[i].ModifiedAt.Before(recs[j].ModifiedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
