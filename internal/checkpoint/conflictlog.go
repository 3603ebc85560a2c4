package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store"
)

const (
	conflictCollection = "_conflicts"
	entryField         = "entry"
)

// ConflictLog is an append-only log of conflict resolutions. Entries are
// immutable once written; an external review queue consumes them.
type ConflictLog struct {
	st     store.Store
	logger *slog.Logger
}

// NewConflictLog creates a conflict log backed by st.
func NewConflictLog(st store.Store, logger *slog.Logger) *ConflictLog {
	return &ConflictLog{st: st, logger: logger}
}

// Append writes one entry. Entry IDs are assigned here; the storage key
// includes collection, record and resolution time so entries never collide
// and never overwrite each other (expected version 0 = create only).
func (l *ConflictLog) Append(ctx context.Context, entry models.ConflictLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.ResolvedAt.IsZero() {
		entry.ResolvedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode conflict entry: %w", err)
	}

	rec := models.Record{
		ID: entry.Collection + "/" + entry.RecordID + "/" +
			strconv.FormatInt(entry.ResolvedAt.UnixNano(), 10) + "/" + entry.ID,
		Fields:     map[string]any{entryField: string(data)},
		ModifiedAt: entry.ResolvedAt,
	}
	if _, err := l.st.ConditionalPut(ctx, conflictCollection, rec, 0); err != nil {
		return fmt.Errorf("failed to append conflict entry: %w", err)
	}

	l.logger.Info("conflict logged",
		"collection", entry.Collection,
		"record_id", entry.RecordID,
		"policy", entry.Policy,
		"resolution", entry.Resolution)
	return nil
}

// List returns all logged entries, oldest first.
func (l *ConflictLog) List(ctx context.Context) ([]models.ConflictLogEntry, error) {
	var entries []models.ConflictLogEntry

	cursor := models.Cursor{Kind: models.CursorModifiedAt}
	for {
		records, next, hasMore, err := l.st.QuerySince(ctx, conflictCollection, cursor, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list conflict entries: %w", err)
		}
		for _, rec := range records {
			raw, _ := rec.Fields[entryField].(string)
			var entry models.ConflictLogEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				return nil, fmt.Errorf("failed to decode conflict entry %q: %w", rec.ID, err)
			}
			entries = append(entries, entry)
		}
		if !hasMore {
			return entries, nil
		}
		cursor = next
	}
}
