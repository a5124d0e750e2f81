package events

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultThrottle is the minimum interval between two reactions to the same
// trigger kind.
const DefaultThrottle = 30 * time.Second

// Throttle lets at most one trigger of each kind through per interval.
type Throttle struct {
	limiters map[Kind]*rate.Limiter
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottle creates a throttle. A non-positive interval disables it.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		limiters: make(map[Kind]*rate.Limiter),
		interval: interval,
	}
}

// Allow reports whether a trigger of kind k may run now.
func (t *Throttle) Allow(k Kind) bool {
	return t.AllowAt(k, time.Now())
}

// AllowAt is Allow with an explicit clock.
func (t *Throttle) AllowAt(k Kind, now time.Time) bool {
	if t.interval <= 0 {
		return true
	}

	t.mu.Lock()
	limiter, ok := t.limiters[k]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[k] = limiter
	}
	t.mu.Unlock()

	return limiter.AllowN(now, 1)
}
