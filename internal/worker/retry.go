package worker

import (
	"math"
	"time"
)

// RetryPolicy shapes how the auto-drain loop backs off while the backend is
// unreachable: each consecutive stopped drain waits BackoffFactor times
// longer, up to MaxDelay. After MaxRetries the loop falls back to its normal
// poll interval.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns how long to wait before the given 1-based attempt.
// Unset or nonsense fields fall back to one second and a factor of two, so a
// zero-value config still yields a sane schedule.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
