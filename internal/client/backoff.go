// README: Capped exponential backoff with jitter for reconnect attempts.
package client

import (
	"math/rand"
	"time"
)

const (
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultJitter         = 0.2
)

type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter takes up to this fraction off each delay (0.0-1.0).
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: DefaultInitialBackoff, Max: DefaultMaxBackoff, Jitter: DefaultJitter}
}

// Delay returns the wait before reconnect attempt n (0-based). It never exceeds Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Max
	// Past 2^20 the cap has long been reached.
	if attempt < 20 {
		if exp := b.Initial * time.Duration(1<<attempt); exp < b.Max {
			d = exp
		}
	}
	if b.Jitter > 0 {
		d -= time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}
