package backoff

import (
	"time"
)

// Policy is the reconnection policy shared by every stream connection.
// The delay before reconnect attempt n (0-based) is
// min(BaseDelay * 2^n, MaxDelay).
type Policy struct {
	// BaseDelay is the delay before the first reconnect attempt
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth
	MaxDelay time.Duration

	// MaxAttempts is the number of consecutive failed reconnects tolerated
	// before the connection gives up. Zero or less means never retry.
	MaxAttempts int
}

// DefaultPolicy returns a Policy with sensible defaults
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before reconnect attempt n
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	max := p.MaxDelay
	if max <= 0 {
		max = p.BaseDelay
	}

	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		// Stop doubling once past the cap; this also keeps d from overflowing
		if d >= max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Exhausted reports whether attempt consecutive failures exceed the budget
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Sequence returns the first n delays, mostly useful for display and tests
func (p Policy) Sequence(n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, p.Delay(i))
	}
	return out
}
