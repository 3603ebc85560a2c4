// Package checkpoint persists sync progress markers and the conflict log.
// Both live in reserved collections of a store adapter, which means a
// checkpoint update is itself a conditional write keyed by (collection,
// direction): two passes racing on the same checkpoint cannot corrupt each
// other's cursor even inside the AlreadyRunning guard's race window.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/store"
)

// Reserved collections. Adapter change feeds for user collections never
// overlap these because collections are fully isolated namespaces.
const (
	checkpointCollection = "_checkpoints"
	stateField           = "state"
)

// Store persists checkpoints with compare-and-swap semantics.
type Store struct {
	st     store.Store
	logger *slog.Logger
}

// NewStore creates a checkpoint store backed by st.
func NewStore(st store.Store, logger *slog.Logger) *Store {
	return &Store{st: st, logger: logger}
}

func key(collection string, direction models.Direction) string {
	return collection + "/" + string(direction)
}

// Load returns the checkpoint for (collection, direction), or a fresh idle
// checkpoint at the beginning of the feed when none is persisted yet.
func (s *Store) Load(ctx context.Context, collection string, direction models.Direction) (models.Checkpoint, error) {
	rec, found, err := s.st.Get(ctx, checkpointCollection, key(collection, direction))
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !found || rec.Deleted {
		return models.Checkpoint{
			Collection: collection,
			Direction:  direction,
			Status:     models.StatusIdle,
			Cursor:     models.Cursor{Kind: models.CursorModifiedAt},
		}, nil
	}

	state, _ := rec.Fields[stateField].(string)
	var cp models.Checkpoint
	if err := json.Unmarshal([]byte(state), &cp); err != nil {
		return models.Checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	cp.Generation = rec.Version
	return cp, nil
}

// Save persists cp if and only if nobody else saved it since it was loaded
// (cp.Generation is the precondition). The returned checkpoint carries the
// new generation. A lost race surfaces as store.ErrVersionConflict.
func (s *Store) Save(ctx context.Context, cp models.Checkpoint) (models.Checkpoint, error) {
	state, err := json.Marshal(cp)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	rec := models.Record{
		ID:         key(cp.Collection, cp.Direction),
		Fields:     map[string]any{stateField: string(state)},
		ModifiedAt: time.Now().UTC(),
	}
	newVersion, err := s.st.ConditionalPut(ctx, checkpointCollection, rec, cp.Generation)
	if err != nil {
		return models.Checkpoint{}, err
	}

	s.logger.Debug("checkpoint saved",
		"collection", cp.Collection,
		"direction", cp.Direction,
		"status", cp.Status,
		"generation", newVersion)

	cp.Generation = newVersion
	return cp, nil
}
