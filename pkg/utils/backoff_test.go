package utils

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestNewRetryBackOff(t *testing.T) {
	base := 100 * time.Millisecond
	max := 2 * time.Second

	b := NewRetryBackOff(base, max)
	for attempt := 1; attempt <= 4; attempt++ {
		expected := base * time.Duration(1<<(attempt-1))
		got := b.NextBackOff()
		assert.GreaterOrEqual(t, got, expected-expected/8, "attempt %d", attempt)
		assert.LessOrEqual(t, got, expected+expected/8, "attempt %d", attempt)
	}

	// long outages settle around max and never stop
	for i := 0; i < 200; i++ {
		got := b.NextBackOff()
		assert.NotEqual(t, backoff.Stop, got)
		assert.LessOrEqual(t, got, max+max/8)
	}

	assert.Equal(t, time.Duration(0), NewRetryBackOff(0, max).NextBackOff())
}
