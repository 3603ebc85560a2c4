package syncer

import (
	"time"

	"github.com/driftlab/driftsync/internal/models"
)

// EventKind identifies an emitted sync event.
type EventKind string

const (
	EventPassStarted              EventKind = "pass_started"
	EventPassCompleted            EventKind = "pass_completed"
	EventPassFailed               EventKind = "pass_failed"
	EventConflictResolved         EventKind = "conflict_resolved"
	EventManualResolutionRequired EventKind = "manual_resolution_required"
)

// Event is delivered to the configured hook for consumption by logging or
// CLI layers. Hooks run synchronously on the pass goroutine; slow consumers
// should hand off.
type Event struct {
	At         time.Time
	Err        error
	Kind       EventKind
	PassID     string
	Collection string
	RecordID   string
	Policy     string
	Outcome    models.ResolutionOutcome
}

// Hook receives emitted events. A nil hook disables emission.
type Hook func(Event)

func (m *Manager) emit(e Event) {
	if m.hook == nil {
		return
	}
	e.At = time.Now().UTC()
	m.hook(e)
}
