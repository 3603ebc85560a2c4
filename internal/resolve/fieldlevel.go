package resolve

import (
	"fmt"
	"sort"

	"github.com/driftlab/driftsync/internal/models"
)

// FieldRule is a per-field sub-policy inside a field-level table.
type FieldRule string

const (
	RuleCloudWins     FieldRule = "cloud_wins"
	RuleLocalWins     FieldRule = "local_wins"
	RuleLastWriteWins FieldRule = "last_write_wins"
	RuleManual        FieldRule = "manual"
)

// FieldLevel resolves each field independently using a per-field rule table.
// Fields not named in the table follow the fallback rule. Fields ruled
// manual whose values actually differ are collected; a non-empty collection
// forces a ManualResolutionError listing exactly those fields.
type FieldLevel struct {
	rules    map[string]FieldRule
	fallback FieldRule
	lww      *LastWriteWins
}

// NewFieldLevel validates the rule table up front so a malformed table is a
// startup failure, not a mid-pass one.
func NewFieldLevel(opts Options) (*FieldLevel, error) {
	rules := make(map[string]FieldRule, len(opts.FieldRules))
	for field, rule := range opts.FieldRules {
		r := FieldRule(rule)
		switch r {
		case RuleCloudWins, RuleLocalWins, RuleLastWriteWins, RuleManual:
			rules[field] = r
		default:
			return nil, fmt.Errorf("%w: field %q has unknown rule %q", ErrPolicyMisconfigured, field, rule)
		}
	}

	fallback := FieldRule(opts.FieldDefault)
	if fallback == "" {
		fallback = RuleLastWriteWins
	}
	switch fallback {
	case RuleCloudWins, RuleLocalWins, RuleLastWriteWins, RuleManual:
	default:
		return nil, fmt.Errorf("%w: unknown fallback rule %q", ErrPolicyMisconfigured, opts.FieldDefault)
	}

	return &FieldLevel{
		rules:    rules,
		fallback: fallback,
		lww: &LastWriteWins{
			SkewTolerance: opts.SkewTolerance,
			SecondaryKey:  opts.SecondaryKey,
		},
	}, nil
}

func (p *FieldLevel) Name() string { return PolicyFieldLevel }

func (p *FieldLevel) Resolve(local, cloud *models.Record) (*models.Record, models.ResolutionOutcome, error) {
	// A rule referencing a field neither side carries indicates the table
	// was written against a different record class. Fatal.
	for field := range p.rules {
		_, inLocal := local.Fields[field]
		_, inCloud := cloud.Fields[field]
		if !inLocal && !inCloud {
			return nil, "", fmt.Errorf("%w: rule references unknown field %q", ErrPolicyMisconfigured, field)
		}
	}

	// Record-level LWW winner decides last_write_wins-ruled fields; there is
	// no per-field timestamp in the data model.
	later := p.lww.pick(local, cloud)

	merged := &models.Record{
		ID:         local.ID,
		Fields:     make(map[string]any),
		Version:    maxVersion(local, cloud),
		ModifiedAt: later.ModifiedAt,
		Origin:     later.Origin,
		Deleted:    later.Deleted,
	}

	var manual []string
	for _, field := range unionFields(local, cloud) {
		rule, ok := p.rules[field]
		if !ok {
			rule = p.fallback
		}

		switch rule {
		case RuleCloudWins:
			if v, ok := cloud.Fields[field]; ok {
				merged.Fields[field] = v
			}
		case RuleLocalWins:
			if v, ok := local.Fields[field]; ok {
				merged.Fields[field] = v
			}
		case RuleLastWriteWins:
			// The winner's state decides presence too: a field absent on
			// the winning side was removed by the winning write.
			if v, ok := later.Fields[field]; ok {
				merged.Fields[field] = v
			}
		case RuleManual:
			lv, inLocal := local.Fields[field]
			cv, inCloud := cloud.Fields[field]
			if inLocal != inCloud || fmt.Sprintf("%v", lv) != fmt.Sprintf("%v", cv) {
				manual = append(manual, field)
				continue
			}
			if inLocal {
				merged.Fields[field] = lv
			}
		}
	}

	if len(manual) > 0 {
		sort.Strings(manual)
		return nil, models.ResolutionManual, &ManualResolutionError{RecordID: local.ID, Fields: manual}
	}

	return merged, models.ResolutionMerged, nil
}

func maxVersion(a, b *models.Record) uint64 {
	if a.Version > b.Version {
		return a.Version
	}
	return b.Version
}

func unionFields(local, cloud *models.Record) []string {
	set := make(map[string]struct{}, len(local.Fields)+len(cloud.Fields))
	for name := range local.Fields {
		set[name] = struct{}{}
	}
	for name := range cloud.Fields {
		set[name] = struct{}{}
	}
	fields := make([]string, 0, len(set))
	for name := range set {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}
