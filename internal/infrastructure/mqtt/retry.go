package mqtt

import "time"

// Defaults for the resilient connect loop, used until ConnectWithRetry is
// called with explicit values.
const (
	DefaultRetryBound  = 5
	DefaultRetryPeriod = 5 * time.Second
)

// RetryConfig bounds the resilient connect loop.
//
// Bound semantics:
//   - 0: try once, no retry
//   - >0: at most Bound attempts
//   - <0: retry until connected, shut down, or the address changes
//
// Period is the fixed wait between failed attempts. There is no jitter or
// exponential growth so reconnect cadence stays predictable.
type RetryConfig struct {
	Bound  int
	Period time.Duration
}

// DefaultRetryConfig returns the retry settings used for implicit reconnects
// before any explicit ConnectWithRetry call.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Bound:  DefaultRetryBound,
		Period: DefaultRetryPeriod,
	}
}

// Unbounded reports whether the config retries forever.
func (r RetryConfig) Unbounded() bool {
	return r.Bound < 0
}

// ShouldAttempt reports whether attempt (0-based) may run under bound.
func ShouldAttempt(attempt, bound int) bool {
	switch {
	case bound == 0:
		return attempt == 0
	case bound > 0:
		return attempt < bound
	default:
		return true
	}
}
