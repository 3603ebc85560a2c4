package txn

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Default retry tuning, used when options are left zero.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	jitterPercent      = 20
)

// RetryOptions bounds the retry loop of a coordinator invocation.
type RetryOptions struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before attempt 2; doubles per attempt
	MaxDelay    time.Duration // cap on the doubling schedule
	Timeout     time.Duration // overall deadline; 0 means none
	Jitter      bool          // randomize delays by ±20%
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	return o
}

// NewBackoff builds the delay schedule for the options: exponential doubling
// from BaseDelay, capped at MaxDelay, optionally jittered. The schedule is a
// pure value independent of any sleeping, so tests can drain it directly.
func NewBackoff(opts RetryOptions) retry.Backoff {
	opts = opts.withDefaults()
	b := retry.NewExponential(opts.BaseDelay)
	b = retry.WithCappedDuration(opts.MaxDelay, b)
	if opts.Jitter {
		b = retry.WithJitterPercent(jitterPercent, b)
	}
	return b
}
