package eth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedDelayStrategy(t *testing.T) {
	s := FixedDelayStrategy{Interval: 250 * time.Millisecond}
	assert.Equal(t, 250*time.Millisecond, s.SleepDuration(0, nil))
	assert.Equal(t, 250*time.Millisecond, s.SleepDuration(10, nil))
}

func TestExponentialBackoffStrategy(t *testing.T) {
	s := ExponentialBackoffStrategy{Base: 500 * time.Millisecond, Factor: 2, Max: 8 * time.Second}

	assert.Equal(t, 500*time.Millisecond, s.SleepDuration(0, nil))
	assert.Equal(t, time.Second, s.SleepDuration(1, nil))
	assert.Equal(t, 2*time.Second, s.SleepDuration(2, nil))
	assert.Equal(t, 8*time.Second, s.SleepDuration(4, nil))
	assert.Equal(t, 8*time.Second, s.SleepDuration(20, nil), "growth is capped at Max")
	assert.Equal(t, 500*time.Millisecond, s.SleepDuration(-3, nil), "negative attempts clamp to the base delay")
}

func TestExponentialBackoffUncapped(t *testing.T) {
	s := ExponentialBackoffStrategy{Base: time.Second, Factor: 3}
	assert.Equal(t, 9*time.Second, s.SleepDuration(2, nil))
}
