// Package change enumerates records modified since a checkpoint cursor.
// Results come back in ascending cursor-key order, so the returned cursor is
// always safely resumable: re-running after a crash never misses a record
// and at worst re-delivers already-applied ones. Consumers must therefore
// apply changes idempotently.
package change

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store"
)

// DefaultPageSize bounds one FetchChanges call when the caller passes no limit.
const DefaultPageSize = 200

// Detector reads change feeds from store adapters.
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a detector.
func NewDetector(logger *slog.Logger) *Detector {
	return &Detector{logger: logger}
}

// FetchChanges returns up to limit records modified since the checkpoint's
// cursor, the cursor of the last returned record, and whether more remain.
// An empty result keeps the checkpoint's cursor unchanged.
func (d *Detector) FetchChanges(ctx context.Context, st store.Store, collection string, cp models.Checkpoint, limit int) ([]models.Record, models.Cursor, bool, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	records, next, hasMore, err := st.QuerySince(ctx, collection, cp.Cursor, limit)
	if err != nil {
		return nil, cp.Cursor, false, fmt.Errorf("failed to fetch changes: %w", err)
	}

	// Adapters are contracted to return ascending key order; enforce it
	// anyway, because cursor advancement silently corrupts on unordered
	// input and that is not a failure mode worth trusting a driver with.
	ensureOrder(records, cp.Cursor.Kind)

	if len(records) > 0 {
		next = cp.Cursor.Key(&records[len(records)-1])
	} else {
		next = cp.Cursor
	}

	d.logger.Debug("fetched changes",
		"collection", collection,
		"count", len(records),
		"has_more", hasMore)

	return records, next, hasMore, nil
}

func ensureOrder(records []models.Record, kind models.CursorKind) {
	probe := models.Cursor{Kind: kind}
	sort.SliceStable(records, func(i, j int) bool {
		ki, kj := probe.Key(&records[i]), probe.Key(&records[j])
		if ki.Less(kj) {
			return true
		}
		if kj.Less(ki) {
			return false
		}
		return records[i].ID < records[j].ID
	})
}
