package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestMonotonic_Tick_FrozenTime(t *testing.T) {
	c := NewWithSource(fixed(1000))

	tests := []struct {
		name     string
		expected int64
	}{
		{"first tick uses physical time", 1000},
		{"second tick", 1001},
		{"third tick", 1002},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Tick())
		})
	}
}

func TestMonotonic_Tick_ClockGoesBackwards(t *testing.T) {
	current := int64(5000)
	c := NewWithSource(func() time.Time { return time.UnixMilli(current) })

	first := c.Tick()
	current = 4000
	second := c.Tick()

	assert.Equal(t, int64(5000), first)
	assert.Greater(t, second, first)
}

func TestMonotonic_Tick_FollowsPhysicalTime(t *testing.T) {
	current := int64(1000)
	c := NewWithSource(func() time.Time { return time.UnixMilli(current) })

	c.Tick()
	current = 9000
	assert.Equal(t, int64(9000), c.Tick())
}

func TestMonotonic_After(t *testing.T) {
	c := NewWithSource(fixed(1000))

	assert.Equal(t, int64(5001), c.After(5000), "must jump past a record from the future")
	assert.Equal(t, int64(5002), c.Tick())
	assert.Equal(t, int64(5003), c.After(10), "older prev does not move the clock back")
}

func TestMonotonic_Concurrent(t *testing.T) {
	c := NewWithSource(fixed(1))

	const workers = 10
	const perWorker = 100

	var mu sync.Mutex
	seen := make(map[int64]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ts := c.Tick()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker, "every tick must be unique")
}

func TestNew_UsesWallClock(t *testing.T) {
	c := New()
	before := time.Now().UnixMilli()
	ts := c.Tick()
	assert.GreaterOrEqual(t, ts, before)
	assert.GreaterOrEqual(t, c.Now(), before)
}
