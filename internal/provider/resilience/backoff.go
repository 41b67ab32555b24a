package resilience

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LinearBackOff waits Step, 2*Step, 3*Step, ... between attempts.
type LinearBackOff struct {
	Step    time.Duration
	attempt int64
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

// NewLinearBackOff returns a LinearBackOff with the given step.
func NewLinearBackOff(step time.Duration) *LinearBackOff {
	return &LinearBackOff{Step: step}
}

// NextBackOff returns the delay before the next attempt.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.Step
}

// Reset restarts the sequence.
func (b *LinearBackOff) Reset() {
	b.attempt = 0
}
