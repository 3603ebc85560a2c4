package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPolicyMisconfigured indicates a configuration defect, e.g. a field-level
// rule table referencing an unknown field or rule. Fatal: callers must abort
// the current pass rather than retry.
var ErrPolicyMisconfigured = errors.New("resolution policy misconfigured")

// ManualResolutionError is returned when a policy cannot settle a conflict
// automatically. It is recoverable: the caller logs a conflict entry, skips
// the record and continues the pass.
type ManualResolutionError struct {
	RecordID string
	Fields   []string
}

func (e *ManualResolutionError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("manual resolution required for record %q", e.RecordID)
	}
	return fmt.Sprintf("manual resolution required for record %q, fields: %s",
		e.RecordID, strings.Join(e.Fields, ", "))
}

// IsManualResolution reports whether err is a ManualResolutionError.
func IsManualResolution(err error) bool {
	var m *ManualResolutionError
	return errors.As(err, &m)
}
