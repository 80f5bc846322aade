package eth

import (
	"math"
	"time"
)

// RetryStrategy decides the delay before the next receipt poll. The
// attempt index starts at 0, incrementing after each miss.
type RetryStrategy interface {
	SleepDuration(attempt int, err error) time.Duration
}

// FixedDelayStrategy polls on a constant interval.
type FixedDelayStrategy struct {
	Interval time.Duration
}

func (f FixedDelayStrategy) SleepDuration(_ int, _ error) time.Duration {
	return f.Interval
}

// ExponentialBackoffStrategy grows the poll interval geometrically,
// capped at Max.
type ExponentialBackoffStrategy struct {
	// Base is the starting delay (e.g. 500ms)
	Base time.Duration
	// Factor is multiplied each iteration (e.g. 2 => 500ms, 1s, 2s, ...)
	Factor float64
	// Max caps the growth; zero means uncapped
	Max time.Duration
}

func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(e.Base) * math.Pow(e.Factor, float64(attempt))
	if e.Max > 0 && time.Duration(delay) > e.Max {
		return e.Max
	}
	return time.Duration(delay)
}

func defaultReceiptBackoff() RetryStrategy {
	return ExponentialBackoffStrategy{
		Base:   500 * time.Millisecond,
		Factor: 2,
		Max:    8 * time.Second,
	}
}
