// Package resolve implements conflict resolution policies over two record
// snapshots. Policies are pure: they never touch a store, and resolving the
// same pair twice yields the same winner, which is what makes crash-resumed
// at-least-once change delivery safe to re-apply.
package resolve

import (
	"fmt"
	"sort"
	"time"

	"github.com/driftlab/driftsync/internal/models"
)

// Policy names as they appear in configuration.
const (
	PolicyLastWriteWins = "last_write_wins"
	PolicyVersionBased  = "version_based"
	PolicyCloudWins     = "cloud_wins"
	PolicyLocalWins     = "local_wins"
	PolicyFieldLevel    = "field_level"
	PolicyManual        = "manual"
)

// Policy settles a conflict between the local and cloud snapshots of one
// record. Both inputs are non-nil and share the same ID; one-sided absence
// is handled by Resolve before a policy ever runs.
type Policy interface {
	// Name returns the configuration name of the policy.
	Name() string

	// Resolve returns the winning (possibly merged) record and how it won.
	Resolve(local, cloud *models.Record) (*models.Record, models.ResolutionOutcome, error)
}

// Resolve applies policy p to the two snapshots, handling one-sided
// creation/deletion first: when either side is absent the non-absent side
// wins without consulting the policy, unless the policy is manual.
func Resolve(p Policy, local, cloud *models.Record) (*models.Record, models.ResolutionOutcome, error) {
	if local == nil && cloud == nil {
		return nil, "", fmt.Errorf("%w: both snapshots absent", ErrPolicyMisconfigured)
	}

	if local == nil || cloud == nil {
		if p.Name() == PolicyManual {
			present := local
			if present == nil {
				present = cloud
			}
			return nil, models.ResolutionManual, &ManualResolutionError{RecordID: present.ID}
		}
		if local == nil {
			return cloud.Clone(), models.ResolutionOneSided, nil
		}
		return local.Clone(), models.ResolutionOneSided, nil
	}

	if local.ID != cloud.ID {
		return nil, "", fmt.Errorf("%w: snapshot ids differ (%q vs %q)",
			ErrPolicyMisconfigured, local.ID, cloud.ID)
	}

	return p.Resolve(local, cloud)
}

// Options carries the per-collection tuning a policy may need.
type Options struct {
	FieldRules    map[string]string
	FieldDefault  string
	SecondaryKey  string
	SkewTolerance time.Duration
}

// New builds a policy by configuration name. Unknown names and malformed
// field tables surface as ErrPolicyMisconfigured so startup fails fast.
func New(name string, opts Options) (Policy, error) {
	switch name {
	case PolicyLastWriteWins:
		return &LastWriteWins{
			SkewTolerance: opts.SkewTolerance,
			SecondaryKey:  opts.SecondaryKey,
		}, nil
	case PolicyVersionBased:
		return &VersionBased{}, nil
	case PolicyCloudWins:
		return CloudWins(), nil
	case PolicyLocalWins:
		return LocalWins(), nil
	case PolicyFieldLevel:
		return NewFieldLevel(opts)
	case PolicyManual:
		return &Manual{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", ErrPolicyMisconfigured, name)
	}
}

// outcomeFor maps a winning snapshot to the resolution outcome by origin.
func outcomeFor(winner *models.Record) models.ResolutionOutcome {
	if winner.Origin == models.OriginCloud {
		return models.ResolutionCloudWon
	}
	return models.ResolutionLocalWon
}

// diffFields returns the names of fields whose values differ between the two
// snapshots, including fields present on only one side, sorted for stable
// error messages.
func diffFields(local, cloud *models.Record) []string {
	seen := map[string]struct{}{}
	var out []string
	for name, lv := range local.Fields {
		cv, ok := cloud.Fields[name]
		if !ok || fmt.Sprintf("%v", lv) != fmt.Sprintf("%v", cv) {
			out = append(out, name)
		}
		seen[name] = struct{}{}
	}
	for name := range cloud.Fields {
		if _, ok := seen[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// numericField extracts a field as float64 for secondary-key comparison.
// JSON round-trips turn numbers into float64, but records that never left
// memory may still carry integer types.
func numericField(rec *models.Record, key string) (float64, bool) {
	v, ok := rec.Fields[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
