// Package sqlitestore implements the store adapter on SQLite. It serves as
// the cloud-side reference store: a single documents table keyed by
// (collection, id), with compare-and-swap enforced by a version predicate in
// the UPDATE statement and atomic batches running in one SQL transaction.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Storage is a SQLite-backed document store.
type Storage struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite with WAL mode supports multiple readers but a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	storage := &Storage{db: db}
	if err := storage.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) runMigrations() error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// DB returns the underlying database connection for testing purposes.
func (s *Storage) DB() *sql.DB {
	return s.db
}

const selectRecord = `
	SELECT id, fields, version, modified_at, deleted
	FROM documents
	WHERE collection = ? AND id = ?
`

// Get retrieves a record by ID. Tombstones are returned with Deleted set.
func (s *Storage) Get(ctx context.Context, collection, id string) (models.Record, bool, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord, collection, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, false, nil
		}
		return models.Record{}, false, err
	}
	return rec, true, nil
}

// ConditionalPut writes rec if the stored version equals expectedVersion
// (0 = create). The version predicate in the UPDATE makes the check and the
// write a single atomic statement.
func (s *Storage) ConditionalPut(ctx context.Context, collection string, rec models.Record, expectedVersion uint64) (uint64, error) {
	newVersion, err := conditionalPut(ctx, s.db, collection, rec, expectedVersion, false)
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Delete tombstones the record if the stored version equals expectedVersion.
func (s *Storage) Delete(ctx context.Context, collection, id string, expectedVersion uint64) error {
	if expectedVersion == 0 {
		return store.ErrNotFound
	}
	rec := models.Record{ID: id}
	_, err := conditionalPut(ctx, s.db, collection, rec, expectedVersion, true)
	return err
}

// QuerySince returns records whose (modified_at, id) pair is strictly
// greater than the cursor's, ordered ascending by (modified_at, id), capped
// at limit. The id tiebreak makes the cursor resumable inside a run of equal
// timestamps. Versions here are assigned per record, not globally, so
// version cursors are refused rather than served unsoundly.
func (s *Storage) QuerySince(ctx context.Context, collection string, cursor models.Cursor, limit int) ([]models.Record, models.Cursor, bool, error) {
	if cursor.Kind == models.CursorVersion {
		return nil, cursor, false, store.ErrUnsupportedCursor
	}
	if cursor.Kind == "" {
		cursor.Kind = models.CursorModifiedAt
	}

	query := `
		SELECT id, fields, version, modified_at, deleted
		FROM documents
		WHERE collection = ?
		  AND (modified_at > ? OR (modified_at = ? AND id > ?))
		ORDER BY modified_at ASC, id ASC
	`
	if limit > 0 {
		// Fetch one extra row to learn whether more remain.
		query += " LIMIT " + fmt.Sprint(limit+1)
	}

	ts := cursor.Time.UnixNano()
	rows, err := s.db.QueryContext(ctx, query, collection, ts, ts, cursor.ID)
	if err != nil {
		return nil, cursor, false, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, cursor, false, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, false, fmt.Errorf("failed to iterate changes: %w", err)
	}

	hasMore := false
	if limit > 0 && len(records) > limit {
		records = records[:limit]
		hasMore = true
	}

	next := cursor
	if len(records) > 0 {
		next = cursor.Key(&records[len(records)-1])
	}
	return records, next, hasMore, nil
}

// AtomicBatch applies ops in one SQL transaction: all-or-nothing.
func (s *Storage) AtomicBatch(ctx context.Context, collection string, ops []store.WriteOp) ([]store.OpResult, error) {
	results := make([]store.OpResult, len(ops))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return results, fmt.Errorf("failed to begin batch: %w", err)
	}

	for i, op := range ops {
		newVersion, err := conditionalPut(ctx, tx, collection, op.Record, op.ExpectedVersion, op.Kind == store.OpDelete)
		if err != nil {
			results[i] = store.OpResult{Applied: false, Err: err}
			if rbErr := tx.Rollback(); rbErr != nil {
				return results, fmt.Errorf("rollback after op %d failed: %w", i, rbErr)
			}
			// A rolled-back batch applied nothing.
			for j := range results {
				results[j].Applied = false
			}
			return results, fmt.Errorf("op %d (%s): %w", i, op.Record.ID, err)
		}
		results[i] = store.OpResult{Applied: true, NewVersion: newVersion}
	}

	if err := tx.Commit(); err != nil {
		for j := range results {
			results[j].Applied = false
		}
		return results, fmt.Errorf("failed to commit batch: %w", err)
	}
	return results, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func conditionalPut(ctx context.Context, db execer, collection string, rec models.Record, expectedVersion uint64, tombstone bool) (uint64, error) {
	if rec.ModifiedAt.IsZero() {
		rec.ModifiedAt = time.Now().UTC()
	}
	deleted := rec.Deleted || tombstone

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal fields: %w", err)
	}

	newVersion := expectedVersion + 1

	if expectedVersion == 0 {
		// Create path: the insert fails on the primary key when the record
		// already exists, which is a version conflict by definition.
		res, err := db.ExecContext(ctx, `
			INSERT INTO documents (collection, id, fields, version, modified_at, deleted)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (collection, id) DO NOTHING
		`, collection, rec.ID, string(fields), int64(newVersion), rec.ModifiedAt.UnixNano(), boolToInt(deleted))
		if err != nil {
			return 0, fmt.Errorf("failed to insert record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return 0, store.ErrVersionConflict
		}
		return newVersion, nil
	}

	var res sql.Result
	if tombstone {
		res, err = db.ExecContext(ctx, `
			UPDATE documents
			SET version = ?, modified_at = ?, deleted = 1
			WHERE collection = ? AND id = ? AND version = ?
		`, int64(newVersion), rec.ModifiedAt.UnixNano(), collection, rec.ID, int64(expectedVersion))
	} else {
		res, err = db.ExecContext(ctx, `
			UPDATE documents
			SET fields = ?, version = ?, modified_at = ?, deleted = ?
			WHERE collection = ? AND id = ? AND version = ?
		`, string(fields), int64(newVersion), rec.ModifiedAt.UnixNano(), boolToInt(deleted), collection, rec.ID, int64(expectedVersion))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return 0, store.ErrVersionConflict
	}
	return newVersion, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.Record, error) {
	var rec models.Record
	var fields string
	var version, modifiedAt int64
	var deleted int

	if err := row.Scan(&rec.ID, &fields, &version, &modifiedAt, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}

	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return rec, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	rec.Version = uint64(version)
	rec.ModifiedAt = time.Unix(0, modifiedAt).UTC()
	rec.Deleted = intToBool(deleted)
	rec.Origin = models.OriginCloud
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
