package ratelimit

import "time"

// Limiter bounds how fast a value may change: at most Rate units per second,
// advanced by a fixed period per Step.  A Rate of zero disables limiting.
type Limiter struct {
	rate     float64
	maxDelta float64
	value    float64
}

func New(ratePerSec float64, period time.Duration) *Limiter {
	if ratePerSec < 0 {
		ratePerSec = -ratePerSec
	}
	return &Limiter{
		rate:     ratePerSec,
		maxDelta: ratePerSec * period.Seconds(),
	}
}

// Step moves the output towards target by no more than one period's worth of
// change and returns it.
func (l *Limiter) Step(target float64) float64 {
	if l.rate == 0 {
		l.value = target
	} else if target > l.value+l.maxDelta {
		l.value += l.maxDelta
	} else if target < l.value-l.maxDelta {
		l.value -= l.maxDelta
	} else {
		l.value = target
	}
	return l.value
}

// Value is the most recent output.
func (l *Limiter) Value() float64 {
	return l.value
}

// Reset jumps the output straight to v.
func (l *Limiter) Reset(v float64) {
	l.value = v
}
