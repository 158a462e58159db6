package utils

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const retryJitter = 0.125

// NewRetryBackOff returns an exponential schedule for redelivering one message: base, 2*base,
// 4*base and so on, capped at max and jittered by 12.5% either way. It never gives up; the caller
// stops retrying when its context ends.
func NewRetryBackOff(base, max time.Duration) backoff.BackOff {
	if base <= 0 {
		return &backoff.ZeroBackOff{}
	}
	if max < base {
		max = base
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: retryJitter,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
