package hls

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff describes how often a segment fetch is attempted and how long to
// wait between attempts. It holds no state; see RetryState.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Jitter returns a factor applied to each computed delay. Nil means no jitter.
	Jitter func() float64
}

// DefaultBackoff is 3 attempts, 1s base delay doubling up to 30s, with 75%-125% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      RandomJitter,
	}
}

// RandomJitter spreads retries of concurrent fetches between 75% and 125%
// of the nominal delay.
func RandomJitter() float64 {
	return 0.75 + 0.5*rand.Float64()
}

// Delay returns the wait after the given failed attempt (1-based):
// BaseDelay * Multiplier^(failed-1), jittered and capped at MaxDelay.
func (b Backoff) Delay(failed int) time.Duration {
	if failed < 1 {
		failed = 1
	}

	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(b.BaseDelay) * math.Pow(mult, float64(failed-1))
	if b.Jitter != nil {
		d *= b.Jitter()
	}

	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(d)
}

// Start returns the retry state for one operation.
func (b Backoff) Start() *RetryState {
	return &RetryState{policy: b}
}

// RetryState counts the attempts of one operation.
type RetryState struct {
	policy   Backoff
	attempts int
}

// Next records a failed attempt. It returns the delay before the next
// attempt, or false when the attempt budget is spent.
func (s *RetryState) Next() (time.Duration, bool) {
	s.attempts++

	maxAttempts := s.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if s.attempts >= maxAttempts {
		return 0, false
	}

	return s.policy.Delay(s.attempts), true
}

// Attempts returns how many attempts have failed so far.
func (s *RetryState) Attempts() int {
	return s.attempts
}
