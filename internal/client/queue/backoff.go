package queue

import (
	"math/rand/v2"
	"time"
)

// Default backoff parameters
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
	DefaultJitter    = time.Second
)

// maxShift keeps base << retries from overflowing
const maxShift = 32

// Backoff computes min(base * 2^retries, max) + jitter, with jitter uniform in
// [0, jitter).
func Backoff(retries int, base, maxDelay, jitter time.Duration) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if retries > maxShift {
		retries = maxShift
	}

	d := base << retries
	if d <= 0 || d > maxDelay {
		d = maxDelay
	}

	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter)))
	}

	return d
}
