package clock

import (
	"sync"
	"time"
)

// Monotonic выдает миллисекундные временные метки, которые строго возрастают
// даже если системные часы стоят на месте или идут назад.
// Используется для updatedAt: каждое локальное изменение получает метку
// больше предыдущей.
type Monotonic struct {
	now  func() time.Time // источник физического времени
	last int64            // последняя выданная метка
	mu   sync.Mutex
}

// New creates a clock backed by time.Now.
func New() *Monotonic {
	return &Monotonic{now: time.Now}
}

// NewWithSource creates a clock backed by the given time source.
// Used in tests to pin physical time.
func NewWithSource(now func() time.Time) *Monotonic {
	return &Monotonic{now: now}
}

// Tick returns the next timestamp in Unix milliseconds.
// Как у часов Лампорта: result = max(physical, last + 1)
func (c *Monotonic) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// After returns a timestamp strictly greater than both prev and every value
// returned so far. Used when a record already carries an updatedAt that may be
// ahead of the local clock (written by a device with a fast clock).
func (c *Monotonic) After(prev int64) int64 {
	c.mu.Lock()
	if prev > c.last {
		c.last = prev
	}
	c.mu.Unlock()

	return c.Tick()
}

// Now returns the current physical time in Unix milliseconds without
// advancing the clock.
func (c *Monotonic) Now() int64 {
	return c.now().UnixMilli()
}
