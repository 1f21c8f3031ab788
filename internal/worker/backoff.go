package worker

import "time"

// Backoff is a capped exponential retry delay.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before attempt n (1-based): Base·2^(n-1), capped
// at Max. Non-positive n yields Base.
func (b Backoff) Delay(n int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
