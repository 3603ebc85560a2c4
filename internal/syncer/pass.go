package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftlab/driftsync/internal/batch"
	"github.com/driftlab/driftsync/internal/config"
	"github.com/driftlab/driftsync/internal/models"
	"github.com/driftlab/driftsync/internal/resolve"
	"github.com/driftlab/driftsync/internal/store"
	"github.com/driftlab/driftsync/internal/txn"
)

// errAlreadyApplied short-circuits an apply whose target already holds the
// desired state. Treated as success: re-delivered changes are the normal
// cost of at-least-once checkpointing.
var errAlreadyApplied = errors.New("already applied")

// recOutcome is the per-record outcome of one page.
type recOutcome struct {
	err      error
	fatal    error
	recordID string
	ok       bool
	conflict bool
	manual   bool
	dup      bool // already counted by the other direction of this pass
}

// dirPass carries the per-direction state of one RunPass invocation. The
// outbound cursor is the opposite direction's cursor as of pass start, so
// both directions judge "changed since" against the same baseline, and
// manualLogged is shared across directions so one unresolved conflict logs
// once per pass, not once per direction.
type dirPass struct {
	result          *PassResult
	manualLogged    map[string]struct{}
	passID          string
	collection      string
	direction       models.Direction
	outbound        models.Cursor
	detectConflicts bool
}

// runDirection runs the state machine for one (collection, direction):
// Idle -> Running -> {Completed, Failed} -> Idle. The cursor only ever
// advances past records that were successfully applied, so a failed pass
// resumes from the last success, not from scratch.
func (m *Manager) runDirection(ctx context.Context, dp *dirPass) error {
	collection, direction := dp.collection, dp.direction

	cp, err := m.checkpoints.Load(ctx, collection, direction)
	if err != nil {
		return err
	}
	if cp.Status == models.StatusRunning && time.Since(cp.LastSyncedAt) < staleRunningTakeover {
		return ErrAlreadyRunning
	}

	cp.Status = models.StatusRunning
	cp.LastSyncedAt = time.Now().UTC()
	cp, err = m.checkpoints.Save(ctx, cp)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// Lost the guard race: another pass claimed the checkpoint
			// between our load and save.
			return ErrAlreadyRunning
		}
		return err
	}

	source, _ := m.endpoints(direction)

	var fatal error
	for fatal == nil {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}

		records, _, hasMore, err := m.detector.FetchChanges(ctx, source, collection, cp, m.cfg.PageSize)
		if err != nil {
			fatal = err
			break
		}
		if len(records) == 0 {
			break
		}

		var outcomes []recOutcome
		if m.cfg.ApplyMode == config.ApplyBulk {
			outcomes, fatal = m.applyPageBulk(ctx, dp, records)
		} else {
			outcomes, fatal = m.applyPageSingle(ctx, dp, records)
		}
		if fatal != nil {
			// Aborted mid-page: nothing from this page advances the cursor,
			// so every record re-delivers on the next pass.
			break
		}

		pageClean := m.accumulate(dp.result, outcomes)

		// Advance the cursor past the contiguous prefix of successes.
		for i, oc := range outcomes {
			if !oc.ok {
				break
			}
			cp.Cursor = cp.Cursor.Key(&records[i])
		}
		cp, err = m.checkpoints.Save(ctx, cp)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return ErrAlreadyRunning
			}
			fatal = err
			break
		}

		// A page with failures would be re-fetched from the stalled cursor
		// forever; stop here and let the next pass retry the failures.
		if !pageClean || !hasMore {
			break
		}
	}

	cp.LastSyncedAt = time.Now().UTC()
	if fatal != nil {
		cp.Status = models.StatusFailed
	} else {
		cp.Status = models.StatusIdle
	}
	if _, err := m.checkpoints.Save(ctx, cp); err != nil && fatal == nil {
		fatal = fmt.Errorf("failed to finalize checkpoint: %w", err)
	}
	return fatal
}

// accumulate folds page outcomes into the pass result and reports whether
// the whole page succeeded.
func (m *Manager) accumulate(result *PassResult, outcomes []recOutcome) bool {
	clean := true
	for _, oc := range outcomes {
		if (oc.conflict || oc.manual) && !oc.dup {
			result.Conflicts++
		}
		switch {
		case oc.ok && oc.dup:
			// counted by the other direction of this pass
		case oc.ok && !oc.manual:
			result.Applied++
		case oc.ok:
			// manual: logged and skipped, neither applied nor failed
		default:
			clean = false
			result.Failed++
			result.Failures = append(result.Failures, RecordFailure{RecordID: oc.recordID, Err: oc.err})
		}
	}
	return clean
}

// applyPageSingle processes a page record-by-record through the transaction
// coordinator, fanned out up to cfg.FanOut. Records with different IDs carry
// no ordering guarantee relative to each other; per-ID serialization rests
// on the store's compare-and-swap, not on in-process locks.
func (m *Manager) applyPageSingle(ctx context.Context, dp *dirPass, records []models.Record) ([]recOutcome, error) {
	outcomes := make([]recOutcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.FanOut)

	for i := range records {
		g.Go(func() error {
			// On cancellation no new record starts; in-flight applies are
			// left to finish on their own coordinator attempts.
			if err := gctx.Err(); err != nil {
				outcomes[i] = recOutcome{recordID: records[i].ID, err: err}
				return nil
			}
			outcomes[i] = m.processRecord(gctx, dp, records[i])
			return outcomes[i].fatal
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// applyPageBulk accumulates one-sided changes into atomic batch chunks.
// Conflicted records still go through the coordinator individually: they
// are rare, and folding their two-store writes into per-store batches would
// trade correctness reasoning for little throughput.
func (m *Manager) applyPageBulk(ctx context.Context, dp *dirPass, records []models.Record) ([]recOutcome, error) {
	collection, direction := dp.collection, dp.direction
	outcomes := make([]recOutcome, len(records))
	_, target := m.endpoints(direction)

	var ops []store.WriteOp
	var opIndex []int

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			outcomes[i] = recOutcome{recordID: rec.ID, err: err}
			continue
		}

		current, found, err := target.Get(ctx, collection, rec.ID)
		if err != nil {
			outcomes[i] = m.classifyError(rec.ID, err)
			if outcomes[i].fatal != nil {
				return outcomes, outcomes[i].fatal
			}
			continue
		}

		if found && equivalent(&current, &rec) {
			outcomes[i] = recOutcome{recordID: rec.ID, ok: true}
			continue
		}

		if dp.detectConflicts && found && dp.outbound.Less(dp.outbound.Key(&current)) {
			outcomes[i] = m.resolveAndApply(ctx, dp, rec, &current)
			if outcomes[i].fatal != nil {
				return outcomes, outcomes[i].fatal
			}
			continue
		}

		var expected uint64
		if found {
			expected = current.Version
		}
		kind := store.OpPut
		if rec.Deleted {
			kind = store.OpDelete
		}
		ops = append(ops, store.WriteOp{Kind: kind, Record: desired(rec), ExpectedVersion: expected})
		opIndex = append(opIndex, i)
	}

	if len(ops) == 0 {
		return outcomes, nil
	}

	batchResult, err := m.executorFor(direction).Execute(ctx, collection, ops, batch.Options{
		ChunkSize:       m.cfg.BatchSize,
		MaxChunkRetries: m.cfg.MaxChunkRetries,
		Retry:           m.retryOpts,
	})
	var partial *batch.PartialFailureError
	if err != nil && !errors.As(err, &partial) {
		return outcomes, err
	}

	for j, oc := range batchResult.Outcomes {
		i := opIndex[j]
		if oc.Applied {
			outcomes[i] = recOutcome{recordID: records[i].ID, ok: true}
		} else {
			outcomes[i] = m.classifyError(records[i].ID, oc.Err)
			if outcomes[i].fatal != nil {
				return outcomes, outcomes[i].fatal
			}
		}
	}
	return outcomes, nil
}

// processRecord applies one source-side change to the target store,
// resolving a conflict first when the target side changed too.
func (m *Manager) processRecord(ctx context.Context, dp *dirPass, rec models.Record) recOutcome {
	collection, direction := dp.collection, dp.direction
	_, target := m.endpoints(direction)

	current, found, err := target.Get(ctx, collection, rec.ID)
	if err != nil {
		return m.classifyError(rec.ID, err)
	}

	// Idempotent re-delivery: the desired state is already there.
	if found && equivalent(&current, &rec) {
		return recOutcome{recordID: rec.ID, ok: true}
	}

	if dp.detectConflicts && found && dp.outbound.Less(dp.outbound.Key(&current)) {
		return m.resolveAndApply(ctx, dp, rec, &current)
	}

	// Only one side changed: apply directly, no resolver involved.
	if err := m.apply(ctx, m.coordinatorFor(direction), direction, collection, desired(rec)); err != nil {
		return m.classifyError(rec.ID, err)
	}
	return recOutcome{recordID: rec.ID, ok: true}
}

// resolveAndApply runs the conflict policy and writes the winner to both
// stores so the stores converge within this pass.
func (m *Manager) resolveAndApply(ctx context.Context, dp *dirPass, rec models.Record, current *models.Record) recOutcome {
	collection, direction := dp.collection, dp.direction
	local, cloud := orient(direction, rec, current)

	resolved, outcome, err := resolve.Resolve(m.policy, local, cloud)
	if err != nil {
		var manualErr *resolve.ManualResolutionError
		if errors.As(err, &manualErr) {
			return m.recordManual(ctx, dp, rec.ID, local, cloud, err)
		}
		return m.classifyError(rec.ID, err)
	}

	if m.cfg.LogResolutions {
		entry := models.ConflictLogEntry{
			Collection: collection,
			RecordID:   rec.ID,
			Local:      local,
			Cloud:      cloud,
			Policy:     m.policy.Name(),
			Resolution: outcome,
		}
		if err := m.conflicts.Append(ctx, entry); err != nil {
			return m.classifyError(rec.ID, err)
		}
	}

	if err := m.apply(ctx, m.coordinatorFor(direction), direction, collection, *resolved); err != nil {
		return m.classifyError(rec.ID, err)
	}
	opposite := oppositeDirection(direction)
	if err := m.apply(ctx, m.coordinatorFor(opposite), opposite, collection, *resolved); err != nil {
		return m.classifyError(rec.ID, err)
	}

	m.emit(Event{
		Kind:       EventConflictResolved,
		PassID:     dp.passID,
		Collection: collection,
		RecordID:   rec.ID,
		Policy:     m.policy.Name(),
		Outcome:    outcome,
	})
	return recOutcome{recordID: rec.ID, ok: true, conflict: true}
}

// recordManual persists the conflict for external review and skips the
// record. The cursor advances past it: the entry is durably logged, and
// re-delivering it every pass would only duplicate log entries. A two-way
// pass sees the same conflict from both directions; only the first sighting
// logs and counts it.
func (m *Manager) recordManual(ctx context.Context, dp *dirPass, recordID string, local, cloud *models.Record, cause error) recOutcome {
	m.manualMu.Lock()
	_, seen := dp.manualLogged[recordID]
	if !seen {
		dp.manualLogged[recordID] = struct{}{}
	}
	m.manualMu.Unlock()
	if seen {
		return recOutcome{recordID: recordID, ok: true, manual: true, dup: true}
	}

	entry := models.ConflictLogEntry{
		Collection: dp.collection,
		RecordID:   recordID,
		Local:      local,
		Cloud:      cloud,
		Policy:     m.policy.Name(),
		Resolution: models.ResolutionManual,
	}
	if err := m.conflicts.Append(ctx, entry); err != nil {
		return recOutcome{recordID: recordID, err: fmt.Errorf("failed to log manual conflict: %w", err)}
	}

	m.logger.Info("manual resolution required",
		"collection", dp.collection,
		"record_id", recordID,
		"reason", cause)
	m.emit(Event{
		Kind:       EventManualResolutionRequired,
		PassID:     dp.passID,
		Collection: dp.collection,
		RecordID:   recordID,
		Policy:     m.policy.Name(),
		Outcome:    models.ResolutionManual,
		Err:        cause,
	})
	return recOutcome{recordID: recordID, ok: true, manual: true}
}

// apply writes the desired record state through the coordinator: read the
// target's current version, write conditionally on it, retry conflicts.
func (m *Manager) apply(ctx context.Context, coord *txn.Coordinator, direction models.Direction, collection string, want models.Record) error {
	_, target := m.endpoints(direction)

	op := func(ctx context.Context) (models.Record, uint64, error) {
		current, found, err := target.Get(ctx, collection, want.ID)
		if err != nil {
			return models.Record{}, 0, err
		}
		if found && equivalent(&current, &want) {
			return models.Record{}, 0, errAlreadyApplied
		}
		var expected uint64
		if found {
			expected = current.Version
		}
		out := want.Clone()
		return *out, expected, nil
	}

	_, _, err := coord.Execute(ctx, collection, op, m.retryOpts)
	if errors.Is(err, errAlreadyApplied) {
		return nil
	}
	return err
}

// classifyError splits fatal pass errors from per-record failures.
func (m *Manager) classifyError(recordID string, err error) recOutcome {
	if errors.Is(err, resolve.ErrPolicyMisconfigured) || errors.Is(err, store.ErrUnavailable) {
		return recOutcome{recordID: recordID, err: err, fatal: err}
	}
	return recOutcome{recordID: recordID, err: err}
}

// orient maps (source record, target record) onto (local, cloud) snapshots
// for the resolver.
func orient(direction models.Direction, rec models.Record, current *models.Record) (local, cloud *models.Record) {
	if direction == models.DirectionCloudToLocal {
		return current, &rec
	}
	return &rec, current
}

func oppositeDirection(direction models.Direction) models.Direction {
	if direction == models.DirectionCloudToLocal {
		return models.DirectionLocalToCloud
	}
	return models.DirectionCloudToLocal
}

// desired projects a source-side record into the state to write on the
// target: same fields, same wall-clock timestamp (so last-write-wins stays
// stable across stores), target-assigned version.
func desired(rec models.Record) models.Record {
	out := rec.Clone()
	out.Version = 0
	out.Origin = ""
	return *out
}

// equivalent reports whether two records carry the same visible state.
// Fields are compared through their canonical JSON encoding, which
// normalizes the numeric type differences JSON round-trips introduce.
func equivalent(a, b *models.Record) bool {
	if a.Deleted != b.Deleted {
		return false
	}
	aj, errA := json.Marshal(a.Fields)
	bj, errB := json.Marshal(b.Fields)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
