package poller

import "time"

const (
	// DefaultInterval is the delay between two successful polls
	DefaultInterval = 2 * time.Second
	// DefaultRetryDelay is the delay before retrying a failed poll
	DefaultRetryDelay = 3 * time.Second
	// DefaultMaxTransientFailures is the number of consecutive failed polls
	// that are retried before the session gives up
	DefaultMaxTransientFailures = 3
)

// Policy holds the polling cadence and the transient failure budget.
type Policy struct {
	Interval             time.Duration
	RetryDelay           time.Duration
	MaxTransientFailures int
}

// DefaultPolicy returns the standard 2s / 3s / 3 failures policy
func DefaultPolicy() Policy {
	return Policy{
		Interval:             DefaultInterval,
		RetryDelay:           DefaultRetryDelay,
		MaxTransientFailures: DefaultMaxTransientFailures,
	}
}

// withDefaults replaces unset values with the defaults. A negative
// MaxTransientFailures disables retries.
func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	if p.MaxTransientFailures == 0 {
		p.MaxTransientFailures = DefaultMaxTransientFailures
	}
	if p.MaxTransientFailures < 0 {
		p.MaxTransientFailures = 0
	}
	return p
}
