package syncstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/jobsync/internal/client/storage/memory"
)

func newTestTracker(t *testing.T) (*Tracker, *memory.Storage) {
	t.Helper()
	kv := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(kv, "app_sync_state", logger), kv
}

func TestTracker_GetZeroOnFirstUse(t *testing.T) {
	tr, _ := newTestTracker(t)

	s, err := tr.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, State{}, s)
	assert.False(t, s.HasSynced())
}

func TestTracker_UpdateShallowMerge(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	_, err := tr.Update(ctx, Patch{LastCloudSync: Int64(100), DeviceID: String("device_1_x")})
	require.NoError(t, err)

	s, err := tr.Update(ctx, Patch{PendingCount: Int(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(100), s.LastCloudSync, "untouched field keeps its value")
	assert.Equal(t, "device_1_x", s.DeviceID)
	assert.Equal(t, 3, s.PendingCount)

	// Явный ноль перезаписывает значение
	s, err = tr.Update(ctx, Patch{LastCloudSync: Int64(0)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.LastCloudSync)

	got, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestTracker_PassErrors(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	s, err := tr.PassFailed(ctx, errors.New("fetch failed"), 1234)
	require.NoError(t, err)
	assert.Equal(t, "fetch failed", s.LastError)
	assert.Equal(t, int64(1234), s.LastErrorTime)
	assert.False(t, s.LastErrorFatal)

	s, err = tr.PassSucceeded(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.LastError)
	assert.Zero(t, s.LastErrorTime)
}

func TestTracker_FatalErrorSurvivesPasses(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	_, err := tr.Update(ctx, Fatal("create jobs/j1 failed after 5 attempts", 1000))
	require.NoError(t, err)

	s, err := tr.PassFailed(ctx, errors.New("failed to push 1 records"), 2000)
	require.NoError(t, err)
	assert.Equal(t, "create jobs/j1 failed after 5 attempts", s.LastError)
	assert.Equal(t, int64(1000), s.LastErrorTime)

	s, err = tr.PassSucceeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, "create jobs/j1 failed after 5 attempts", s.LastError)

	s, err = tr.Update(ctx, ClearError())
	require.NoError(t, err)
	assert.Empty(t, s.LastError)
	assert.False(t, s.LastErrorFatal)
}

func TestTracker_Rejected(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	s, err := tr.Update(ctx, Patch{Reject: map[string]*Rejection{
		"j1": {Error: "bad request", Revision: 100, Time: 5},
		"j2": {Error: "bad request", Revision: 200, Time: 5},
	}})
	require.NoError(t, err)
	assert.True(t, s.Blocked("j1", 100))
	assert.False(t, s.Blocked("j1", 101), "a newer revision is not blocked")
	assert.False(t, s.Blocked("j3", 100))

	s, err = tr.Update(ctx, Patch{Reject: map[string]*Rejection{"j1": nil}})
	require.NoError(t, err)
	assert.False(t, s.Blocked("j1", 100))
	assert.True(t, s.Blocked("j2", 200))

	s, err = tr.Update(ctx, Patch{ResetRejected: true})
	require.NoError(t, err)
	assert.Nil(t, s.Rejected)

	got, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestTracker_CorruptStateResets(t *testing.T) {
	ctx := context.Background()
	tr, kv := newTestTracker(t)
	require.NoError(t, kv.Put(ctx, "app_sync_state", []byte("{broken")))

	s, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{}, s)

	s, err = tr.Update(ctx, Patch{PendingCount: Int(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, s.PendingCount)
}

func TestTracker_Clear(t *testing.T) {
	ctx := context.Background()
	tr, kv := newTestTracker(t)

	_, err := tr.Update(ctx, Patch{LastCloudSync: Int64(5)})
	require.NoError(t, err)
	require.NoError(t, tr.Clear(ctx))

	keys, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
