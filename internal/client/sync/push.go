package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	httpClient "github.com/iudanet/jobsync/internal/client/api"
	"github.com/iudanet/jobsync/internal/client/events"
	"github.com/iudanet/jobsync/internal/client/queue"
	"github.com/iudanet/jobsync/internal/client/syncstate"
	"github.com/iudanet/jobsync/internal/merge"
	"github.com/iudanet/jobsync/internal/models"
	"github.com/iudanet/jobsync/pkg/api"
)

// failure is a remote call that did not go through together with the
// action undoing its optimistic local effect.
type failure struct {
	cause      error
	compensate func(ctx context.Context) error
	op         queue.Operation
}

// schedule pushes op in the background, or queues it when the remote cannot
// be reached right now. rec is the record revision for create and update.
func (e *Engine[T]) schedule(ctx context.Context, op queue.Operation, rec T) {
	if !e.reachable(ctx) {
		if err := e.enqueue(ctx, op); err != nil {
			e.logger.Warn("Failed to queue operation", "op", op.String(), "error", err)
		}
		if !e.online() && e.Status() != StatusIdle {
			e.setStatus(StatusOffline)
		}
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		if err := e.enqueue(ctx, op); err != nil {
			e.logger.Warn("Failed to queue operation", "op", op.String(), "error", err)
		}
		return
	}
	e.inflight[op.ID]++
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.release(op.ID)
		e.push(e.ctx, op, rec)
	}()
}

func (e *Engine[T]) release(ids ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if e.inflight[id]--; e.inflight[id] <= 0 {
			delete(e.inflight, id)
		}
	}
}

// push performs a single remote call for op.
func (e *Engine[T]) push(ctx context.Context, op queue.Operation, rec T) {
	if op.Type == queue.OpDelete {
		if err := e.remote.Delete(ctx, e.entity, op.ID); err != nil {
			e.fail(ctx, op, err, true)
			return
		}
		// Более ранние update для удаленной записи больше не нужны
		if err := e.queue.Dequeue(ctx, op.ID, e.entity); err != nil {
			e.logger.Warn("Failed to dequeue operation", "op", op.String(), "error", err)
		}
		e.logger.Debug("Remote delete confirmed", "id", op.ID)
		return
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		e.logger.Error("Failed to encode record", "id", op.ID, "error", err)
		return
	}

	resp, err := e.remote.Upsert(ctx, e.entity, raw)
	if err != nil {
		e.fail(ctx, op, err, true)
		return
	}

	e.metrics.AddPushed(1)
	e.confirm(ctx, []T{rec}, resp.ServerTime)
}

// pushPending sends every pending record not already in flight, waiting for
// its backoff or rejected by the server in its current revision in one batch.
func (e *Engine[T]) pushPending(ctx context.Context) error {
	ops, err := e.queue.List(ctx)
	if err != nil {
		return err
	}
	st, err := e.state.Get(ctx)
	if err != nil {
		return err
	}
	now := e.now()
	waiting := make(map[string]bool)
	for _, op := range ops {
		if op.EntityType == e.entity && !e.queue.Ready(op, now) {
			waiting[op.ID] = true
		}
	}

	e.mu.Lock()
	var batch []T
	for _, item := range e.items {
		m := item.SyncMeta()
		if m.SyncStatus != models.SyncStatusPending || waiting[m.ID] || e.inflight[m.ID] > 0 {
			continue
		}
		if st.Blocked(m.ID, m.Timestamp()) {
			continue
		}
		batch = append(batch, item.Clone())
		e.inflight[m.ID]++
	}
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	ids := make([]string, len(batch))
	raw := make([]json.RawMessage, len(batch))
	for i, rec := range batch {
		ids[i] = rec.SyncMeta().ID
		if raw[i], err = json.Marshal(rec); err != nil {
			e.release(ids...)
			return fmt.Errorf("failed to encode record %s: %w", ids[i], err)
		}
	}
	defer e.release(ids...)

	resp, err := e.remote.BatchSync(ctx, e.entity, api.BatchSyncRequest{Items: raw, DeviceID: e.deviceID})
	if err == nil && !resp.Success {
		err = errors.New("batch rejected by server")
	}
	if err != nil {
		for _, rec := range batch {
			opType := queue.OpUpdate
			if rec.SyncMeta().SyncedAt == 0 {
				opType = queue.OpCreate
			}
			op, oerr := e.writeOperation(rec, opType)
			if oerr != nil {
				e.logger.Error("Failed to encode record", "id", rec.SyncMeta().ID, "error", oerr)
				continue
			}
			e.fail(ctx, op, err, true)
		}
		return fmt.Errorf("failed to push %d records: %w", len(batch), err)
	}

	e.logger.Info("Pushed pending records", "count", len(batch), "synced", resp.Synced)
	e.metrics.AddPushed(resp.Synced)
	e.confirm(ctx, batch, resp.ServerTime)
	return nil
}

// confirm marks the pushed revisions as synced. A record changed again since
// it was pushed stays pending.
func (e *Engine[T]) confirm(ctx context.Context, pushed []T, serverTime int64) {
	e.mu.Lock()
	items := slices.Clone(e.items)
	var confirmed []string
	for _, rec := range pushed {
		id := rec.SyncMeta().ID
		i := slices.IndexFunc(items, func(item T) bool { return item.SyncMeta().ID == id })
		if i < 0 || items[i].SyncMeta().Timestamp() != rec.SyncMeta().Timestamp() {
			continue
		}
		cur := items[i].Clone()
		m := cur.SyncMeta()
		m.SyncStatus = models.SyncStatusSynced
		m.SyncedAt = serverTime
		if err := e.stamp(cur); err != nil {
			e.logger.Warn("Failed to stamp confirmed record", "id", id, "error", err)
			continue
		}
		items[i] = cur
		confirmed = append(confirmed, id)
	}

	if len(confirmed) > 0 {
		if err := e.save(ctx, items); err != nil {
			e.mu.Unlock()
			e.logger.Warn("Failed to persist confirmation", "error", err)
			return
		}
		e.items = items
	}
	e.mu.Unlock()

	for _, id := range confirmed {
		e.dequeueWrite(ctx, id)
	}
	if len(confirmed) > 0 {
		e.lift(ctx, confirmed...)
		e.logger.Debug("Records confirmed", "count", len(confirmed))
		e.publishStorage()
	}
}

// drain replays queued operations whose backoff has elapsed. Creates and
// updates of records still in the collection are covered by pushPending.
func (e *Engine[T]) drain(ctx context.Context) error {
	ops, err := e.queue.List(ctx)
	if err != nil {
		return err
	}

	now := e.now()
	var errs []error

	for _, op := range ops {
		if op.EntityType != e.entity || !e.queue.Ready(op, now) {
			continue
		}

		if op.Type == queue.OpDelete {
			if err := e.remote.Delete(ctx, e.entity, op.ID); err != nil {
				e.fail(ctx, op, err, false)
				errs = append(errs, fmt.Errorf("%s: %w", op, err))
				continue
			}
			if err := e.queue.Dequeue(ctx, op.ID, e.entity); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		rec, ok := e.Get(op.ID)
		switch {
		case ok && rec.SyncMeta().SyncStatus != models.SyncStatusPending:
			if err := e.queue.Dequeue(ctx, op.ID, e.entity); err != nil {
				errs = append(errs, err)
			}
		case ok:
			// запись изменилась во время отправки, уйдет следующим проходом
		default:
			raw, err := json.Marshal(op.Data)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if _, err := e.remote.Upsert(ctx, e.entity, raw); err != nil {
				e.fail(ctx, op, err, false)
				errs = append(errs, fmt.Errorf("%s: %w", op, err))
				continue
			}
			if err := e.queue.Dequeue(ctx, op.ID, e.entity); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// fail handles a failed remote call for op. The attempt is counted unless
// the call could not be made at all (offline, no session, shutdown); an
// exhausted operation is dropped and compensated. A response the server will
// never accept (4xx) exhausts the operation at once.
func (e *Engine[T]) fail(ctx context.Context, op queue.Operation, cause error, enqueue bool) {
	if enqueue {
		if err := e.enqueue(ctx, op); err != nil {
			e.logger.Error("Failed to queue operation", "op", op.String(), "error", err)
			return
		}
	}
	e.observe(cause)

	if !e.online() || sessionLost(cause) || errors.Is(cause, context.Canceled) {
		e.logger.Debug("Operation deferred", "op", op.String(), "error", cause)
		if e.Status() != StatusIdle {
			e.setStatus(e.failureStatus())
		}
		return
	}

	var (
		dropped   queue.Operation
		exhausted bool
		found     bool
		err       error
	)
	if httpClient.IsRetryable(cause) {
		dropped, exhausted, found, err = e.queue.MarkRetried(ctx, op.ID, op.EntityType, cause)
	} else {
		dropped, found, err = e.queue.Drop(ctx, op.ID, op.EntityType, cause)
		exhausted = found
	}
	if err != nil {
		e.logger.Error("Failed to record retry", "op", op.String(), "error", err)
		return
	}
	if e.Status() != StatusSyncing {
		e.setStatus(e.failureStatus())
	}
	if !found || !exhausted {
		return
	}

	e.handleFailure(ctx, failure{
		cause:      cause,
		compensate: e.compensation(dropped, cause),
		op:         dropped,
	})
}

// sessionLost reports a call refused for lack of a valid session. The record
// itself is fine; it goes out once the user signs in again.
func sessionLost(err error) bool {
	return errors.Is(err, httpClient.ErrUnauthenticated) || httpClient.IsStatus(err, http.StatusUnauthorized)
}

func (e *Engine[T]) handleFailure(ctx context.Context, f failure) {
	e.metrics.IncDropped()

	if f.compensate != nil {
		if err := f.compensate(ctx); err != nil {
			e.logger.Error("Compensation failed", "op", f.op.String(), "error", err)
		}
	}

	e.bus.Publish(events.Event{
		Kind:   events.OperationFailed,
		Op:     f.op.String(),
		Err:    f.cause,
		Key:    e.primaryKey(),
		Source: e.source,
	})
}

// compensation returns the action undoing the optimistic effect of op.
// A failed delete restores the removed revision. A failed create or update
// keeps the local revision pending but rejected: it is not pushed again until
// the user edits it or forces a full resync.
func (e *Engine[T]) compensation(op queue.Operation, cause error) func(ctx context.Context) error {
	if op.Type != queue.OpDelete {
		return func(ctx context.Context) error {
			return e.reject(ctx, op, cause)
		}
	}

	return func(ctx context.Context) error {
		rec, err := fromData[T](op.Data)
		if err != nil {
			return fmt.Errorf("failed to decode snapshot of %s: %w", op.ID, err)
		}
		if err := e.check(rec); err != nil {
			return err
		}

		e.mu.Lock()
		if e.indexOf(op.ID) >= 0 {
			e.mu.Unlock()
			return nil
		}
		items := append(slices.Clone(e.items), rec)
		merge.Sort(items)
		if err := e.save(ctx, items); err != nil {
			e.mu.Unlock()
			return err
		}
		e.items = items
		e.mu.Unlock()

		e.logger.Info("Restored record after failed delete", "id", op.ID)
		e.publishStorage()
		return nil
	}
}

// reject records that the server refused the revision carried by op.
func (e *Engine[T]) reject(ctx context.Context, op queue.Operation, cause error) error {
	if op.Data == nil {
		return fmt.Errorf("no snapshot of %s to reject", op.ID)
	}
	rec, err := fromData[T](op.Data)
	if err != nil {
		return fmt.Errorf("failed to decode snapshot of %s: %w", op.ID, err)
	}

	msg := "rejected by server"
	if cause != nil {
		msg = cause.Error()
	}
	rejection := &syncstate.Rejection{
		Error:    msg,
		Revision: rec.SyncMeta().Timestamp(),
		Time:     e.clock.Now(),
	}
	if _, err := e.state.Update(ctx, syncstate.Patch{Reject: map[string]*syncstate.Rejection{op.ID: rejection}}); err != nil {
		return err
	}

	e.logger.Warn("Record held back until edited or force-synced", "id", op.ID, "revision", rejection.Revision)
	return nil
}

// lift forgets rejections of ids whose revision the server has now accepted
// or that no longer exist locally.
func (e *Engine[T]) lift(ctx context.Context, ids ...string) {
	st, err := e.state.Get(ctx)
	if err != nil || len(st.Rejected) == 0 {
		return
	}

	p := syncstate.Patch{Reject: make(map[string]*syncstate.Rejection)}
	for _, id := range ids {
		if _, ok := st.Rejected[id]; ok {
			p.Reject[id] = nil
		}
	}
	if len(p.Reject) == 0 {
		return
	}
	if _, err := e.state.Update(ctx, p); err != nil {
		e.logger.Warn("Failed to lift rejection", "error", err)
	}
}

func (e *Engine[T]) enqueue(ctx context.Context, op queue.Operation) error {
	if err := e.queue.Enqueue(ctx, op); err != nil {
		return err
	}
	if n, err := e.queue.Len(ctx); err == nil {
		e.metrics.SetQueueDepth(e.entity, n)
	}
	return nil
}

// dequeueWrite removes a queued create or update for id; a queued delete
// stays.
func (e *Engine[T]) dequeueWrite(ctx context.Context, id string) {
	if err := e.queue.Dequeue(ctx, id, e.entity, queue.OpCreate, queue.OpUpdate); err != nil {
		e.logger.Warn("Failed to dequeue operation", "id", id, "error", err)
	}
}
