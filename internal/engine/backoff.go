package engine

import (
	"math"
	"time"
)

// Backoff spaces retries of one task: Base * Factor^(attempt-1), capped at Max.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Factor: 2, Max: time.Minute}
}

// Delay returns the wait after the given (1-based) failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	seconds := b.Base.Seconds() * math.Pow(factor, float64(attempt-1))
	if b.Max > 0 && seconds > b.Max.Seconds() {
		return b.Max
	}
	return time.Duration(seconds * float64(time.Second))
}
