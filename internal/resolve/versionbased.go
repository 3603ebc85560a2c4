package resolve

import "github.com/driftlab/driftsync/internal/models"

// VersionBased picks the side with the higher version; the loser's differing
// fields are discarded entirely. Meaningful only when callers enforce a
// strict single-writer-per-version-bump protocol, otherwise versions from
// the two stores are not comparable.
type VersionBased struct{}

func (p *VersionBased) Name() string { return PolicyVersionBased }

func (p *VersionBased) Resolve(local, cloud *models.Record) (*models.Record, models.ResolutionOutcome, error) {
	winner := cloud
	if local.Version > cloud.Version {
		winner = local
	} else if local.Version == cloud.Version && local.ModifiedAt.After(cloud.ModifiedAt) {
		// Equal versions should not happen under the single-writer protocol;
		// fall back to the later write so the choice stays deterministic.
		winner = local
	}
	return winner.Clone(), outcomeFor(winner), nil
}

// static unconditionally selects one side. Used for reference data
// (cloud-authoritative) or locally-authoritative caches.
type static struct {
	name   string
	winner models.Origin
}

// CloudWins returns the policy that always selects the cloud snapshot.
func CloudWins() Policy { return &static{name: PolicyCloudWins, winner: models.OriginCloud} }

// LocalWins returns the policy that always selects the local snapshot.
func LocalWins() Policy { return &static{name: PolicyLocalWins, winner: models.OriginLocal} }

func (p *static) Name() string { return p.name }

func (p *static) Resolve(local, cloud *models.Record) (*models.Record, models.ResolutionOutcome, error) {
	if p.winner == models.OriginCloud {
		return cloud.Clone(), models.ResolutionCloudWon, nil
	}
	return local.Clone(), models.ResolutionLocalWon, nil
}

// Manual never resolves automatically. The caller persists a conflict log
// entry and surfaces the record to an external reviewer.
type Manual struct{}

func (p *Manual) Name() string { return PolicyManual }

func (p *Manual) Resolve(local, cloud *models.Record) (*models.Record, models.ResolutionOutcome, error) {
	return nil, models.ResolutionManual, &ManualResolutionError{
		RecordID: local.ID,
		Fields:   diffFields(local, cloud),
	}
}
