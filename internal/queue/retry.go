package queue

import (
	mrand "math/rand"
	"time"
)

const DefaultBaseDelay = 30 * time.Second

// Backoff computes retry delays: Base * 2^(n-1) for the n-th retry, so
// 30s, 60s, 120s, ... with the default base. Jitter is off by default to
// keep delays exact; enabling it spreads simultaneous failures by adding
// up to 20% on top of each delay.
type Backoff struct {
	Base   time.Duration
	Jitter bool
}

// NextDelay returns the wait before the given retry. attempt is 1-based:
// 1 is the first retry after the initial failed attempt.
func (b Backoff) NextDelay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so a misconfigured max_retry cannot overflow.
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	delay := base << uint(shift)
	if b.Jitter {
		delay += time.Duration(mrand.Int63n(int64(delay)/5 + 1))
	}
	return delay
}
