package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpClient "github.com/iudanet/jobsync/internal/client/api"
	"github.com/iudanet/jobsync/internal/client/events"
	"github.com/iudanet/jobsync/internal/client/syncstate"
	"github.com/iudanet/jobsync/internal/models"
	"github.com/iudanet/jobsync/pkg/api"
)

func batchFailing(code int, msg string) func(context.Context, string, api.BatchSyncRequest) (*api.BatchSyncResponse, error) {
	return func(ctx context.Context, entity string, req api.BatchSyncRequest) (*api.BatchSyncResponse, error) {
		return nil, &httpClient.StatusError{StatusCode: code, Message: msg}
	}
}

func TestEngine_ExhaustedWriteIsHeldBack(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{
		FetchFunc:     fetchReturning(t, 7000),
		BatchSyncFunc: batchFailing(500, "boom"),
		UpsertFunc:    upsertOK(9000),
	}

	var now atomic.Int64
	now.Store(testNow)
	env := newTestEnv(t, remote, func(cfg *Config[*models.Job]) {
		cfg.Queue.MaxRetries = 2
		cfg.Queue.Now = func() time.Time { return time.UnixMilli(now.Load()) }
	})
	env.seed(t, job("j1", 1000, "device-x", models.SyncStatusPending))
	require.NoError(t, env.engine.reload(ctx))

	failed := env.bus.Subscribe(events.OperationFailed)
	defer failed.Close()

	for range 2 {
		require.Error(t, env.engine.Reconcile(ctx))
		now.Add(time.Hour.Milliseconds())
	}
	require.Len(t, remote.BatchSyncCalls(), 2)
	assert.Empty(t, env.queued(t))

	select {
	case ev := <-failed.C:
		assert.Equal(t, "create jobs/j1", ev.Op)
	case <-time.After(time.Second):
		t.Fatal("operation-failed event not published")
	}

	st, err := env.engine.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "create jobs/j1 failed after 2 attempts: server error (500): boom", st.LastError,
		"the pass error does not replace the exhaustion report")
	assert.True(t, st.LastErrorFatal)
	assert.True(t, st.Blocked("j1", 1000))

	// Следующий проход не отправляет ту же ревизию заново
	require.NoError(t, env.engine.Reconcile(ctx))
	assert.Len(t, remote.BatchSyncCalls(), 2)
	assert.Empty(t, env.queued(t))
	assert.Equal(t, StatusSynced, env.engine.Status())

	stored, ok := env.engine.Get("j1")
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusPending, stored.SyncStatus)

	st, err = env.engine.State(ctx)
	require.NoError(t, err)
	assert.Contains(t, st.LastError, "failed after 2 attempts", "a clean pass keeps the report")

	// Правка создает новую ревизию, и она уходит на сервер
	edited, err := env.engine.Update(ctx, "j1", func(j *models.Job) { j.Notes = "customer added" })
	require.NoError(t, err)
	env.engine.Wait()

	require.Len(t, remote.UpsertCalls(), 1)
	assert.Equal(t, edited.UpdatedAt, decodeJob(t, remote.UpsertCalls()[0].Item).UpdatedAt)

	stored, ok = env.engine.Get("j1")
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusSynced, stored.SyncStatus)

	st, err = env.engine.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Rejected, "confirmation lifts the rejection")
}

func TestEngine_ForceFullSyncLiftsRejections(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{
		FetchFunc:     fetchReturning(t, 7000),
		BatchSyncFunc: batchOK(9000),
	}
	env := newTestEnv(t, remote)
	env.seed(t, job("j1", 1000, "device-x", models.SyncStatusPending))
	require.NoError(t, env.engine.reload(ctx))

	fatal := syncstate.Fatal("create jobs/j1 failed after 5 attempts", testNow)
	fatal.Reject = map[string]*syncstate.Rejection{"j1": {Error: "boom", Revision: 1000, Time: testNow}}
	_, err := env.engine.state.Update(ctx, fatal)
	require.NoError(t, err)

	require.NoError(t, env.engine.Reconcile(ctx))
	assert.Empty(t, remote.BatchSyncCalls(), "rejected revision is held back")

	require.NoError(t, env.engine.ForceFullSync(ctx))
	require.Len(t, remote.BatchSyncCalls(), 1)
	require.Len(t, remote.BatchSyncCalls()[0].Req.Items, 1)
	assert.Equal(t, "j1", decodeJob(t, remote.BatchSyncCalls()[0].Req.Items[0]).ID)

	st, err := env.engine.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Rejected)
	assert.Empty(t, st.LastError)
	assert.False(t, st.LastErrorFatal)

	stored, ok := env.engine.Get("j1")
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusSynced, stored.SyncStatus)
}

func TestEngine_ClientErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{
		FetchFunc:     fetchReturning(t, 7000),
		BatchSyncFunc: batchOK(9000),
		UpsertFunc: func(ctx context.Context, entity string, item json.RawMessage) (*api.UpsertResponse, error) {
			return nil, &httpClient.StatusError{StatusCode: 400, Message: "customer is required"}
		},
	}
	env := newTestEnv(t, remote)

	failed := env.bus.Subscribe(events.OperationFailed)
	defer failed.Close()

	added, err := env.engine.Add(ctx, job("j1", 0, "", ""))
	require.NoError(t, err)
	env.engine.Wait()

	assert.Empty(t, env.queued(t), "a 4xx is dropped on the first attempt")
	require.Len(t, failed.C, 1)
	assert.Equal(t, "create jobs/j1", (<-failed.C).Op)

	st, err := env.engine.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "create jobs/j1 rejected by server: server error (400): customer is required", st.LastError)
	assert.True(t, st.LastErrorFatal)
	require.Contains(t, st.Rejected, "j1")
	assert.Equal(t, "server error (400): customer is required", st.Rejected["j1"].Error)
	assert.True(t, st.Blocked("j1", added.UpdatedAt))

	require.NoError(t, env.engine.Reconcile(ctx))
	assert.Empty(t, remote.BatchSyncCalls())

	stored, ok := env.engine.Get("j1")
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusPending, stored.SyncStatus, "the local copy is kept")
}

func TestEngine_ExpiredSessionDefersWrite(t *testing.T) {
	remote := &RemoteMock{
		UpsertFunc: func(ctx context.Context, entity string, item json.RawMessage) (*api.UpsertResponse, error) {
			return nil, &httpClient.StatusError{StatusCode: 401, Message: "token expired"}
		},
	}
	env := newTestEnv(t, remote)

	_, err := env.engine.Add(context.Background(), job("j1", 0, "", ""))
	require.NoError(t, err)
	env.engine.Wait()

	ops := env.queued(t)
	require.Len(t, ops, 1)
	assert.Zero(t, ops[0].Retries)

	st, err := env.engine.State(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Rejected)
}

func TestEngine_SuccessfulPassClearsError(t *testing.T) {
	ctx := context.Background()
	var down atomic.Bool
	down.Store(true)
	ok := fetchReturning(t, 7000)
	remote := &RemoteMock{
		FetchFunc: func(ctx context.Context, entity string, since int64) (*api.FetchResponse, error) {
			if down.Load() {
				return nil, &httpClient.StatusError{StatusCode: 503, Message: "unavailable"}
			}
			return ok(ctx, entity, since)
		},
	}
	env := newTestEnv(t, remote)

	require.Error(t, env.engine.Reconcile(ctx))
	st, err := env.engine.State(ctx)
	require.NoError(t, err)
	require.Contains(t, st.LastError, "503")

	down.Store(false)
	require.NoError(t, env.engine.Reconcile(ctx))

	st, err = env.engine.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.LastError)
	assert.Zero(t, st.LastErrorTime)
}

func TestEngine_TransportErrorReportsUnreachable(t *testing.T) {
	ctx := context.Background()
	refused := &url.Error{Op: "Post", URL: "http://127.0.0.1:1/api/v1/jobs", Err: errors.New("connection refused")}
	remote := &RemoteMock{
		FetchFunc: func(ctx context.Context, entity string, since int64) (*api.FetchResponse, error) {
			return nil, refused
		},
		UpsertFunc: func(ctx context.Context, entity string, item json.RawMessage) (*api.UpsertResponse, error) {
			return nil, refused
		},
	}

	var (
		env     *testEnv
		reports atomic.Int32
	)
	env = newTestEnv(t, remote, func(cfg *Config[*models.Job]) {
		cfg.Unreachable = func(err error) {
			reports.Add(1)
			env.online.Store(false)
		}
	})

	require.Error(t, env.engine.Reconcile(ctx))
	assert.Equal(t, int32(1), reports.Load())
	assert.Equal(t, StatusOffline, env.engine.Status())

	env.online.Store(true)
	_, err := env.engine.Add(ctx, job("j1", 0, "", ""))
	require.NoError(t, err)
	env.engine.Wait()

	assert.Equal(t, int32(2), reports.Load())
	ops := env.queued(t)
	require.Len(t, ops, 1)
	assert.Zero(t, ops[0].Retries, "an unreachable server does not use up attempts")
}
