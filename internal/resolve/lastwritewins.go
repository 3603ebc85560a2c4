package resolve

import (
	"time"

	"github.com/driftlab/driftsync/internal/models"
)

// DefaultSkewTolerance is the window inside which two wall-clock timestamps
// are treated as indistinguishable noise rather than an ordering.
const DefaultSkewTolerance = time.Second

// LastWriteWins picks the side with the later modification timestamp. When
// the two timestamps are within SkewTolerance of each other the timestamps
// carry no signal, so the configured numeric SecondaryKey (for example an
// edit counter) decides instead; if that cannot decide either, the higher
// version wins, and as the final deterministic tie-break the cloud side.
//
// The comparison chain is symmetric in its inputs, so Resolve(a, b) and
// Resolve(b, a) pick the same winner.
type LastWriteWins struct {
	SecondaryKey  string
	SkewTolerance time.Duration
}

func (p *LastWriteWins) Name() string { return PolicyLastWriteWins }

func (p *LastWriteWins) Resolve(local, cloud *models.Record) (*models.Record, models.ResolutionOutcome, error) {
	winner := p.pick(local, cloud)
	return winner.Clone(), outcomeFor(winner), nil
}

func (p *LastWriteWins) pick(local, cloud *models.Record) *models.Record {
	tolerance := p.SkewTolerance
	if tolerance <= 0 {
		tolerance = DefaultSkewTolerance
	}

	diff := local.ModifiedAt.Sub(cloud.ModifiedAt)
	if diff < 0 {
		diff = -diff
	}
	if diff >= tolerance {
		if local.ModifiedAt.After(cloud.ModifiedAt) {
			return local
		}
		return cloud
	}

	// Timestamps are within clock-skew noise. Consult the secondary key.
	if p.SecondaryKey != "" {
		lv, lok := numericField(local, p.SecondaryKey)
		cv, cok := numericField(cloud, p.SecondaryKey)
		if lok && cok && lv != cv {
			if lv > cv {
				return local
			}
			return cloud
		}
	}

	if local.Version != cloud.Version {
		if local.Version > cloud.Version {
			return local
		}
		return cloud
	}
	return cloud
}
