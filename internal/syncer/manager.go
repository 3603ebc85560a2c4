// Package syncer orchestrates sync passes between the cloud store and the
// local mirror: detect changes since the checkpoint, resolve conflicts,
// apply through the transaction coordinator or batch executor, advance the
// checkpoint. Per-record errors accumulate into the pass result; only
// configuration defects and store connectivity abort a pass.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/driftlab/driftsync/internal/batch"
	"github.com/driftlab/driftsync/internal/change"
	"github.com/driftlab/driftsync/internal/checkpoint"
	"github.com/driftlab/driftsync/internal/config"
	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/resolve"
	"github.com/driftlab/driftsync/internal/store"
	"github.com/driftlab/driftsync/internal/txn"
)

// ErrAlreadyRunning is returned when a pass for the same (collection,
// direction) is in flight. Second invocations return immediately rather
// than queuing.
var ErrAlreadyRunning = errors.New("sync pass already running")

// staleRunningTakeover bounds how long a persisted Running status blocks new
// passes. A process that crashed mid-pass leaves Running behind; after this
// window the next pass takes the checkpoint over instead of refusing forever.
const staleRunningTakeover = 15 * time.Minute

// RecordFailure is one failed record of a pass, with its reason.
type RecordFailure struct {
	Err      error
	RecordID string
}

// PassResult summarizes one RunPass invocation. A pass legitimately ends
// with Failed > 0; that is a reportable outcome, not a crash.
type PassResult struct {
	PassID     string
	Collection string
	Failures   []RecordFailure
	Duration   time.Duration
	Applied    int
	Conflicts  int
	Failed     int
}

// ManagerConfig wires a Manager's collaborators. A struct because the
// dependency list is too long for positional parameters.
type ManagerConfig struct {
	Local       store.Store
	Cloud       store.Store
	Checkpoints *checkpoint.Store
	Conflicts   *checkpoint.ConflictLog
	Policy      resolve.Policy
	Sync        config.Sync
	Logger      *slog.Logger
	Hook        Hook
}

// Manager owns sync passes for any number of collections. All state is
// instance state: the checkpoint store reference is passed in, never a
// process-wide static, so managers are isolated in tests and safe for
// multi-tenant use.
type Manager struct {
	local       store.Store
	cloud       store.Store
	checkpoints *checkpoint.Store
	conflicts   *checkpoint.ConflictLog
	policy      resolve.Policy
	detector    *change.Detector
	localTxn    *txn.Coordinator
	cloudTxn    *txn.Coordinator
	localBatch  *batch.Executor
	cloudBatch  *batch.Executor
	sem         *semaphore.Weighted
	logger      *slog.Logger
	hook        Hook
	cfg         config.Sync
	retryOpts   txn.RetryOptions
	manualMu    sync.Mutex // guards dirPass.manualLogged across fan-out goroutines
}

// NewManager builds a manager from its collaborators.
func NewManager(mc ManagerConfig) *Manager {
	logger := mc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		local:       mc.Local,
		cloud:       mc.Cloud,
		checkpoints: mc.Checkpoints,
		conflicts:   mc.Conflicts,
		policy:      mc.Policy,
		detector:    change.NewDetector(logger),
		localTxn:    txn.NewCoordinator(mc.Local, logger),
		cloudTxn:    txn.NewCoordinator(mc.Cloud, logger),
		localBatch:  batch.NewExecutor(mc.Local, logger),
		cloudBatch:  batch.NewExecutor(mc.Cloud, logger),
		sem:         semaphore.NewWeighted(int64(mc.Sync.MaxConcurrentSyncs)),
		logger:      logger,
		hook:        mc.Hook,
		cfg:         mc.Sync,
		retryOpts:   mc.Sync.RetryOptions(),
	}
}

// Status returns the persisted checkpoint for (collection, direction).
func (m *Manager) Status(ctx context.Context, collection string, direction models.Direction) (models.Checkpoint, error) {
	return m.checkpoints.Load(ctx, collection, direction)
}

// PendingCount reports how many records are waiting to sync in the given
// direction, i.e. changed on the source side since its checkpoint cursor.
func (m *Manager) PendingCount(ctx context.Context, collection string, direction models.Direction) (int, error) {
	cp, err := m.checkpoints.Load(ctx, collection, direction)
	if err != nil {
		return 0, err
	}
	source, _ := m.endpoints(direction)

	count := 0
	for {
		records, next, hasMore, err := m.detector.FetchChanges(ctx, source, collection, cp, m.cfg.PageSize)
		if err != nil {
			return 0, err
		}
		count += len(records)
		if !hasMore {
			return count, nil
		}
		cp.Cursor = next
	}
}

// endpoints maps a direction onto (source, target) stores.
func (m *Manager) endpoints(direction models.Direction) (source, target store.Store) {
	if direction == models.DirectionCloudToLocal {
		return m.cloud, m.local
	}
	return m.local, m.cloud
}

// coordinatorFor returns the coordinator writing into the direction's target.
func (m *Manager) coordinatorFor(direction models.Direction) *txn.Coordinator {
	if direction == models.DirectionCloudToLocal {
		return m.localTxn
	}
	return m.cloudTxn
}

// executorFor returns the batch executor writing into the direction's target.
func (m *Manager) executorFor(direction models.Direction) *batch.Executor {
	if direction == models.DirectionCloudToLocal {
		return m.localBatch
	}
	return m.cloudBatch
}

// RunPass executes one sync pass over the collection, in the direction(s)
// the configured mode implies. At most MaxConcurrentSyncs passes run at a
// time process-wide; the semaphore wait honors ctx.
func (m *Manager) RunPass(ctx context.Context, collection string) (PassResult, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return PassResult{Collection: collection}, fmt.Errorf("waiting for sync slot: %w", err)
	}
	defer m.sem.Release(1)

	result := PassResult{
		PassID:     uuid.New().String(),
		Collection: collection,
	}
	start := time.Now()

	m.logger.Info("sync pass started",
		"pass_id", result.PassID,
		"collection", collection,
		"mode", m.cfg.Mode,
		"policy", m.policy.Name())
	m.emit(Event{Kind: EventPassStarted, PassID: result.PassID, Collection: collection})

	var passErr error
	directions := directionsFor(m.cfg.Mode)

	// In two-way mode both directions judge "target changed too" against the
	// cursors as of pass start: the first direction advances its own cursor
	// while running, and detecting against the moved cursor would hide
	// conflicts from the second direction.
	startCursors := make(map[models.Direction]models.Cursor, len(directions))
	if m.cfg.Mode == config.ModeTwoWay {
		for _, direction := range directions {
			cp, err := m.checkpoints.Load(ctx, collection, direction)
			if err != nil {
				passErr = fmt.Errorf("direction %s: %w", direction, err)
				break
			}
			startCursors[direction] = cp.Cursor
		}
	}

	manualLogged := make(map[string]struct{})
	if passErr == nil {
		for _, direction := range directions {
			dp := &dirPass{
				result:       &result,
				manualLogged: manualLogged,
				passID:       result.PassID,
				collection:   collection,
				direction:    direction,
			}
			if m.cfg.Mode == config.ModeTwoWay {
				dp.outbound = startCursors[oppositeDirection(direction)]
				dp.detectConflicts = true
			}
			if err := m.runDirection(ctx, dp); err != nil {
				passErr = fmt.Errorf("direction %s: %w", direction, err)
				break
			}
		}
	}

	result.Duration = time.Since(start)

	if passErr != nil {
		m.logger.Error("sync pass failed",
			"pass_id", result.PassID,
			"collection", collection,
			"applied", result.Applied,
			"conflicts", result.Conflicts,
			"failed", result.Failed,
			"error", passErr)
		m.emit(Event{Kind: EventPassFailed, PassID: result.PassID, Collection: collection, Err: passErr})
		return result, passErr
	}

	m.logger.Info("sync pass completed",
		"pass_id", result.PassID,
		"collection", collection,
		"applied", result.Applied,
		"conflicts", result.Conflicts,
		"failed", result.Failed,
		"duration", result.Duration)
	m.emit(Event{Kind: EventPassCompleted, PassID: result.PassID, Collection: collection})
	return result, nil
}

// directionsFor expands the configured mode into pass directions. In two-way
// mode the cloud-to-local direction runs first and owns conflict resolution;
// by the time local-to-cloud runs, resolved records are already identical on
// both sides and flow through as no-ops.
func directionsFor(mode config.Mode) []models.Direction {
	switch mode {
	case config.ModeCloudToLocal:
		return []models.Direction{models.DirectionCloudToLocal}
	case config.ModeLocalToCloud:
		return []models.Direction{models.DirectionLocalToCloud}
	default:
		return []models.Direction{models.DirectionCloudToLocal, models.DirectionLocalToCloud}
	}
}
