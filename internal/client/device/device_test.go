package device

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/jobsync/internal/client/storage/memory"
)

var idPattern = regexp.MustCompile(`^device_\d+_[0-9a-f]{9}$`)

func TestNewID_Format(t *testing.T) {
	id := NewID(time.UnixMilli(1700000000000))
	assert.Regexp(t, idPattern, id)
	assert.Contains(t, id, "_1700000000000_")
	assert.NotEqual(t, id, NewID(time.UnixMilli(1700000000000)))
}

func TestID_StableAcrossCalls(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()

	first, err := ID(ctx, kv, "jobsync_device_id")
	require.NoError(t, err)
	assert.Regexp(t, idPattern, first)

	second, err := ID(ctx, kv, "jobsync_device_id")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, err := kv.Get(ctx, "jobsync_device_id")
	require.NoError(t, err)
	assert.Equal(t, first, string(stored))
}

func TestID_ConcurrentFirstAccess(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := ID(ctx, kv, "jobsync_device_id")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
