package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/iudanet/jobsync/internal/checksum"
	"github.com/iudanet/jobsync/internal/client/syncstate"
	"github.com/iudanet/jobsync/internal/merge"
	"github.com/iudanet/jobsync/internal/metrics"
	"github.com/iudanet/jobsync/internal/models"
)

// Reconcile runs one reconciliation pass. It returns ErrSyncInProgress when
// another pass is running. Without a session the engine stays idle and
// without network it settles at offline; neither is an error.
func (e *Engine[T]) Reconcile(ctx context.Context) error {
	if !e.pass.TryLock() {
		return ErrSyncInProgress
	}
	defer e.pass.Unlock()

	return e.run(ctx, false)
}

// ForceFullSync resets lastCloudSync, forgets rejected revisions together
// with the error they left and replays a full reconciliation. A pass already
// in flight is waited for, not raced.
func (e *Engine[T]) ForceFullSync(ctx context.Context) error {
	e.pass.Lock()
	defer e.pass.Unlock()

	reset := syncstate.ClearError()
	reset.LastCloudSync = syncstate.Int64(0)
	reset.ResetRejected = true
	if _, err := e.state.Update(ctx, reset); err != nil {
		return fmt.Errorf("failed to reset sync state: %w", err)
	}

	e.logger.Info("Full resync requested")
	return e.run(ctx, true)
}

// run executes a pass; pass must be held.
func (e *Engine[T]) run(ctx context.Context, full bool) error {
	if e.ctx.Err() != nil {
		return ErrClosed
	}

	if !e.authenticated(ctx) {
		e.setStatus(StatusIdle)
		e.metrics.ObservePass(e.entity, metrics.ResultSkipped, 0)
		return nil
	}
	if !e.online() {
		e.setStatus(StatusOffline)
		e.metrics.ObservePass(e.entity, metrics.ResultOffline, 0)
		return nil
	}

	start := time.Now()
	e.setStatus(StatusSyncing)

	conflicts, err := e.reconcile(ctx, full)
	if err != nil {
		e.observe(err)
		status := e.failureStatus()
		if _, serr := e.state.PassFailed(ctx, err, e.clock.Now()); serr != nil {
			e.logger.Warn("Failed to record sync error", "error", serr)
		}
		e.logger.Warn("Reconciliation failed", "status", status, "error", err)
		e.setStatus(status)
		e.metrics.ObservePass(e.entity, metricsResult(status), time.Since(start))
		return err
	}

	if _, err := e.state.PassSucceeded(ctx); err != nil {
		e.logger.Warn("Failed to clear sync error", "error", err)
	}

	status := StatusSynced
	if conflicts > 0 {
		status = StatusConflict
	}
	e.setStatus(status)
	e.metrics.ObservePass(e.entity, metricsResult(status), time.Since(start))
	return nil
}

func metricsResult(s Status) string {
	switch s {
	case StatusSynced:
		return metrics.ResultSynced
	case StatusConflict:
		return metrics.ResultConflict
	case StatusOffline:
		return metrics.ResultOffline
	}
	return metrics.ResultError
}

// reconcile fetches, merges, persists and pushes. It returns the number of
// unresolved conflicts.
func (e *Engine[T]) reconcile(ctx context.Context, full bool) (int, error) {
	st, err := e.state.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read sync state: %w", err)
	}

	local, versions, orphans := e.snapshot()

	// Конфликтная запись без пары (например, после перезапуска) требует
	// полной выборки, иначе пару не восстановить
	var since int64
	if !full && st.HasSynced() && len(local) > 0 && !orphans {
		since = st.LastCloudSync
	}

	resp, err := e.remote.Fetch(ctx, e.entity, since)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", e.entity, err)
	}

	cloud := e.decodeCloud(resp.Items, resp.ServerTime)
	input, passthrough := e.prepareLocal(local, cloud, since == 0)

	result := merge.Records(input, cloud, e.merge)
	for _, rec := range result.Merged {
		if err := checksum.Add(rec); err != nil {
			return 0, fmt.Errorf("failed to stamp checksum: %w", err)
		}
	}

	e.logger.Info("Fetched remote records",
		"since", since,
		"cloud", len(cloud),
		"local", len(local),
		"merged", len(result.Merged),
		"conflicts", len(result.Conflicts))

	conflicts, err := e.commit(ctx, versions, result, passthrough, resp.ServerTime)
	if err != nil {
		return 0, err
	}

	if _, err := e.state.Update(ctx, syncstate.Patch{LastCloudSync: syncstate.Int64(resp.ServerTime)}); err != nil {
		return 0, fmt.Errorf("failed to update sync state: %w", err)
	}

	e.publishStorage()
	e.publishConflicts(conflicts)

	pushErr := e.pushPending(ctx)
	drainErr := e.drain(ctx)

	if n, err := e.queue.Len(ctx); err == nil {
		e.metrics.SetQueueDepth(e.entity, n)
	}

	if pushErr != nil {
		return conflicts, pushErr
	}
	return conflicts, drainErr
}

// snapshot copies the collection and records each revision. orphans is true
// when a record is in conflict but its pair is unknown.
func (e *Engine[T]) snapshot() ([]T, map[string]version, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	paired := make(map[string]bool, len(e.conflicts))
	for _, c := range e.conflicts {
		paired[c.Local.SyncMeta().ID] = true
	}

	items := make([]T, len(e.items))
	versions := make(map[string]version, len(e.items))
	orphans := false

	for i, item := range e.items {
		items[i] = item.Clone()
		m := item.SyncMeta()
		versions[m.ID] = versionOf(item)
		if m.SyncStatus == models.SyncStatusConflict && !paired[m.ID] {
			orphans = true
		}
	}

	return items, versions, orphans
}

// decodeCloud decodes fetched items, dropping malformed and invalid ones.
// Every fetched revision is confirmed as of serverTime.
func (e *Engine[T]) decodeCloud(raw []json.RawMessage, serverTime int64) []T {
	items := make([]T, 0, len(raw))
	for i, r := range raw {
		var item T
		if err := json.Unmarshal(r, &item); err != nil {
			e.logger.Warn("Skipping malformed remote record", "index", i, "error", err)
			continue
		}
		if err := e.check(item); err != nil {
			e.logger.Warn("Skipping invalid remote record", "index", i, "error", err)
			continue
		}
		item.SyncMeta().SyncedAt = serverTime
		items = append(items, item)
	}
	return items
}

// prepareLocal selects the local records that take part in the merge.
// Records in conflict whose cloud side was not fetched again pass through
// unchanged. On a full fetch, confirmed records missing from the cloud were
// deleted remotely and are dropped.
func (e *Engine[T]) prepareLocal(local, cloud []T, full bool) (input, passthrough []T) {
	inCloud := make(map[string]bool, len(cloud))
	for _, c := range cloud {
		inCloud[c.SyncMeta().ID] = true
	}

	e.mu.RLock()
	paired := make(map[string]bool, len(e.conflicts))
	for _, c := range e.conflicts {
		paired[c.Local.SyncMeta().ID] = true
	}
	e.mu.RUnlock()

	for _, item := range local {
		m := item.SyncMeta()
		switch {
		case inCloud[m.ID]:
			input = append(input, item)
		case m.SyncStatus == models.SyncStatusConflict && paired[m.ID]:
			passthrough = append(passthrough, item)
		case full && m.SyncStatus == models.SyncStatusSynced && m.SyncedAt > 0:
			e.logger.Debug("Record deleted remotely", "id", m.ID)
		default:
			input = append(input, item)
		}
	}

	return input, passthrough
}

// commit installs the merge result. Records changed locally while the pass
// was running win over the merged revision.
func (e *Engine[T]) commit(ctx context.Context, versions map[string]version, result merge.Result[T], passthrough []T, serverTime int64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := make(map[string]T, len(e.items))
	for _, item := range e.items {
		current[item.SyncMeta().ID] = item
	}

	final := make([]T, 0, len(result.Merged)+len(passthrough))
	seen := make(map[string]bool, len(result.Merged)+len(passthrough))

	for _, rec := range append(result.Merged, passthrough...) {
		id := rec.SyncMeta().ID
		seen[id] = true

		cur, inCurrent := current[id]
		ver, inSnapshot := versions[id]

		switch {
		case inSnapshot && !inCurrent:
			// удалена во время прохода
		case inCurrent && (!inSnapshot || versionOf(cur) != ver):
			final = append(final, cur)
		default:
			final = append(final, rec)
		}
	}

	for id, cur := range current {
		if seen[id] {
			continue
		}
		if ver, inSnapshot := versions[id]; !inSnapshot || versionOf(cur) != ver {
			final = append(final, cur)
		}
	}

	merge.Sort(final)

	conflicts := slices.Clone(e.conflicts)
	for _, c := range result.Conflicts {
		id := c.Local.SyncMeta().ID
		conflicts = slices.DeleteFunc(conflicts, func(old merge.Conflict[T]) bool {
			return old.Local.SyncMeta().ID == id
		})
		conflicts = append(conflicts, c)
	}
	conflicts = e.liveConflicts(conflicts, final)

	if err := e.collection.Save(ctx, final, serverTime); err != nil {
		return 0, fmt.Errorf("failed to save merged collection: %w", err)
	}

	e.items = final
	e.conflicts = conflicts
	e.lastSync = serverTime

	return len(conflicts), nil
}
