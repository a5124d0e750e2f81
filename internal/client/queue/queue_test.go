package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/jobsync/internal/client/storage/memory"
	"github.com/iudanet/jobsync/internal/client/syncstate"
)

type testEnv struct {
	queue *Queue
	state *syncstate.Tracker
	kv    *memory.Storage
	now   time.Time
}

func newTestQueue(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{kv: memory.New(), now: time.UnixMilli(1_000_000)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.state = syncstate.NewTracker(env.kv, "app_sync_state", logger)
	env.queue = New(env.kv, "app_sync_queue", env.state, Config{
		Now:    func() time.Time { return env.now },
		Jitter: -1,
	}, logger)

	return env
}

func (e *testEnv) list(t *testing.T) []Operation {
	t.Helper()
	ops, err := e.queue.List(context.Background())
	require.NoError(t, err)
	return ops
}

func (e *testEnv) pending(t *testing.T) int {
	t.Helper()
	s, err := e.state.Get(context.Background())
	require.NoError(t, err)
	return s.PendingCount
}

func TestEnqueue_Append(t *testing.T) {
	ctx := context.Background()
	env := newTestQueue(t)

	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j1", Type: OpCreate, EntityType: "jobs"}))
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j2", Type: OpUpdate, EntityType: "jobs"}))
	// Тот же id, но другая сущность - отдельная запись
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j1", Type: OpCreate, EntityType: "invoices"}))

	ops := env.list(t)
	require.Len(t, ops, 3)
	assert.Equal(t, "jobs/j1", ops[0].Key())
	assert.Equal(t, "jobs/j2", ops[1].Key())
	assert.Equal(t, "invoices/j1", ops[2].Key())
	assert.Equal(t, DefaultMaxRetries, ops[0].MaxRetries)
	assert.Equal(t, env.now.UnixMilli(), ops[0].Timestamp)
	assert.Equal(t, 3, env.pending(t))
}

func TestEnqueue_Validation(t *testing.T) {
	env := newTestQueue(t)
	err := env.queue.Enqueue(context.Background(), Operation{Type: OpCreate, EntityType: "jobs"})
	assert.Error(t, err)
}

func TestEnqueue_Collapse(t *testing.T) {
	tests := []struct {
		name     string
		first    Operation
		second   Operation
		wantLen  int
		wantType OpType
		wantData map[string]any
	}{
		{
			name:    "delete cancels create",
			first:   Operation{ID: "j1", Type: OpCreate, Data: map[string]any{"foo": 1}},
			second:  Operation{ID: "j1", Type: OpDelete},
			wantLen: 0,
		},
		{
			name:     "update merges into create",
			first:    Operation{ID: "j1", Type: OpCreate, Data: map[string]any{"foo": 1}},
			second:   Operation{ID: "j1", Type: OpUpdate, Data: map[string]any{"bar": 2}},
			wantLen:  1,
			wantType: OpCreate,
			wantData: map[string]any{"foo": 1, "bar": 2},
		},
		{
			name:     "new values win",
			first:    Operation{ID: "j1", Type: OpUpdate, Data: map[string]any{"foo": 1, "keep": true}},
			second:   Operation{ID: "j1", Type: OpUpdate, Data: map[string]any{"foo": 9}},
			wantLen:  1,
			wantType: OpUpdate,
			wantData: map[string]any{"foo": 9, "keep": true},
		},
		{
			name:     "delete replaces update",
			first:    Operation{ID: "j1", Type: OpUpdate, Data: map[string]any{"foo": 1}},
			second:   Operation{ID: "j1", Type: OpDelete, Data: map[string]any{"snapshot": true}},
			wantLen:  1,
			wantType: OpDelete,
			wantData: map[string]any{"snapshot": true},
		},
		{
			name:     "create after delete becomes update",
			first:    Operation{ID: "j1", Type: OpDelete},
			second:   Operation{ID: "j1", Type: OpCreate, Data: map[string]any{"foo": 1}},
			wantLen:  1,
			wantType: OpUpdate,
			wantData: map[string]any{"foo": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestQueue(t)

			tt.first.EntityType = "jobs"
			tt.second.EntityType = "jobs"
			require.NoError(t, env.queue.Enqueue(ctx, tt.first))
			require.NoError(t, env.queue.Enqueue(ctx, tt.second))

			ops := env.list(t)
			require.Len(t, ops, tt.wantLen)
			assert.Equal(t, tt.wantLen, env.pending(t))
			if tt.wantLen == 0 {
				return
			}
			assert.Equal(t, tt.wantType, ops[0].Type)

			// После JSON числа становятся float64
			want := make(map[string]any, len(tt.wantData))
			for k, v := range tt.wantData {
				if n, ok := v.(int); ok {
					want[k] = float64(n)
				} else {
					want[k] = v
				}
			}
			assert.Equal(t, want, ops[0].Data)
		})
	}
}

func TestEnqueue_MergeKeepsPosition(t *testing.T) {
	ctx := context.Background()
	env := newTestQueue(t)

	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "a", Type: OpCreate, EntityType: "jobs"}))
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "b", Type: OpCreate, EntityType: "jobs"}))
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "a", Type: OpUpdate, EntityType: "jobs"}))

	ops := env.list(t)
	require.Len(t, ops, 2)
	assert.Equal(t, "a", ops[0].ID)
	assert.Equal(t, "b", ops[1].ID)
}

func TestDequeue(t *testing.T) {
	ctx := context.Background()
	env := newTestQueue(t)

	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j1", Type: OpCreate, EntityType: "jobs"}))
	require.NoError(t, env.queue.Dequeue(ctx, "j1", "jobs"))
	require.NoError(t, env.queue.Dequeue(ctx, "missing", "jobs"))

	assert.Empty(t, env.list(t))
	assert.Equal(t, 0, env.pending(t))

	n, err := env.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDequeue_TypeFilter(t *testing.T) {
	ctx := context.Background()
	env := newTestQueue(t)

	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j1", Type: OpDelete, EntityType: "jobs"}))
	require.NoError(t, env.queue.Dequeue(ctx, "j1", "jobs", OpCreate, OpUpdate))
	require.Len(t, env.list(t), 1, "delete must survive a write-only dequeue")

	require.NoError(t, env.queue.Dequeue(ctx, "j1", "jobs", OpDelete))
	assert.Empty(t, env.list(t))
}

func TestMarkRetried_Backoff(t *testing.T) {
	ctx := context.Background()
	env := newTestQueue(t)
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j1", Type: OpUpdate, EntityType: "jobs"}))

	ops := env.list(t)
	assert.True(t, env.queue.Ready(ops[0], env.now), "fresh entry is ready")

	op, exhausted, found, err := env.queue.MarkRetried(ctx, "j1", "jobs", errors.New("503"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, exhausted)
	assert.Equal(t, 1, op.Retries)
	assert.Equal(t, env.now.UnixMilli(), op.LastAttempt)

	// retries=1: 1s * 2^1 = 2s без джиттера
	assert.Equal(t, env.now.Add(2*time.Second).UnixMilli(), op.NextAttempt)
	assert.False(t, env.queue.Ready(op, env.now.Add(time.Second)))
	assert.True(t, env.queue.Ready(op, env.now.Add(2*time.Second)))

	stored, ok, err := env.queue.Get(ctx, "j1", "jobs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, op, stored)
}

func TestMarkRetried_Exhaustion(t *testing.T) {
	ctx := context.Background()
	env := newTestQueue(t)
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j1", Type: OpCreate, EntityType: "jobs"}))

	var (
		exhausted bool
		op        Operation
		err       error
	)
	for i := 0; i < DefaultMaxRetries; i++ {
		state, _ := env.state.Get(ctx)
		assert.Empty(t, state.LastError, "no error before exhaustion")

		op, exhausted, _, err = env.queue.MarkRetried(ctx, "j1", "jobs", errors.New("boom"))
		require.NoError(t, err)
	}

	assert.True(t, exhausted)
	assert.Equal(t, DefaultMaxRetries, op.Retries)
	assert.Empty(t, env.list(t), "exhausted entry is dropped")

	state, err := env.state.Get(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, state.LastError)
	assert.Contains(t, state.LastError, "jobs/j1")
	assert.Contains(t, state.LastError, "boom")
	assert.Equal(t, env.now.UnixMilli(), state.LastErrorTime)
	assert.True(t, state.LastErrorFatal)
	assert.Equal(t, 0, state.PendingCount)
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	env := newTestQueue(t)
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j1", Type: OpUpdate, EntityType: "jobs"}))
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j2", Type: OpUpdate, EntityType: "jobs"}))

	op, found, err := env.queue.Drop(ctx, "j1", "jobs", errors.New("server error (400): customer is required"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, op.Retries, "the refused attempt is counted")

	ops := env.list(t)
	require.Len(t, ops, 1)
	assert.Equal(t, "j2", ops[0].ID)

	state, err := env.state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "update jobs/j1 rejected by server: server error (400): customer is required", state.LastError)
	assert.True(t, state.LastErrorFatal)
	assert.Equal(t, 1, state.PendingCount)

	_, found, err = env.queue.Drop(ctx, "nope", "jobs", nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMarkRetried_Missing(t *testing.T) {
	env := newTestQueue(t)
	_, exhausted, found, err := env.queue.MarkRetried(context.Background(), "nope", "jobs", nil)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, exhausted)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	env := newTestQueue(t)
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j1", Type: OpCreate, EntityType: "jobs"}))

	require.NoError(t, env.queue.Clear(ctx))
	assert.Empty(t, env.list(t))
	assert.Equal(t, 0, env.pending(t))
}

func TestQueue_CorruptDataIsDiscarded(t *testing.T) {
	ctx := context.Background()
	env := newTestQueue(t)
	require.NoError(t, env.kv.Put(ctx, "app_sync_queue", []byte("not json")))

	assert.Empty(t, env.list(t))
	require.NoError(t, env.queue.Enqueue(ctx, Operation{ID: "j1", Type: OpCreate, EntityType: "jobs"}))
	assert.Len(t, env.list(t), 1)
}
