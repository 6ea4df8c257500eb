package aggstore

import (
	"math/rand"
	"time"
)

const (
	backoffInitial = time.Second
	backoffMax     = time.Minute
)

// backoff doubles the retry delay after each failed write, up to a ceiling,
// and spreads retries by ±25%.
type backoff struct {
	initial, limit time.Duration
	attempt        int
	jitter         func() float64 // in [0, 1)
}

func newBackoff(initial, limit time.Duration) *backoff {
	return &backoff{initial: initial, limit: limit, jitter: rand.Float64} //nolint:gosec
}

// next returns the delay before the next retry.
func (b *backoff) next() time.Duration {
	base := b.initial << b.attempt
	if base <= 0 || base > b.limit {
		base = b.limit
	} else {
		b.attempt++
	}
	spread := float64(base) * 0.25 * (2*b.jitter() - 1)
	if d := base + time.Duration(spread); d > 0 {
		return d
	}
	return 0
}

func (b *backoff) reset() { b.attempt = 0 }
