package sync

import (
	"context"
	"fmt"
	"slices"

	"github.com/iudanet/jobsync/internal/checksum"
	"github.com/iudanet/jobsync/internal/client/queue"
	"github.com/iudanet/jobsync/internal/client/syncstate"
	"github.com/iudanet/jobsync/internal/merge"
	"github.com/iudanet/jobsync/internal/models"
)

// Add stores a new record and pushes it in the background.
// A missing id is generated; timestamps, device id and status are stamped
// by the engine.
func (e *Engine[T]) Add(ctx context.Context, item T) (T, error) {
	var zero T

	rec := item.Clone()
	m := rec.SyncMeta()
	if m.ID == "" {
		m.ID = e.newID()
	}
	now := e.clock.Tick()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.DeviceID = e.deviceID
	m.SyncStatus = models.SyncStatusPending
	m.SyncedAt = 0

	if err := e.stamp(rec); err != nil {
		return zero, err
	}

	e.mu.Lock()
	if e.indexOf(m.ID) >= 0 {
		e.mu.Unlock()
		return zero, fmt.Errorf("%w: %s", ErrDuplicate, m.ID)
	}
	items := append(slices.Clone(e.items), rec)
	merge.Sort(items)
	if err := e.save(ctx, items); err != nil {
		e.mu.Unlock()
		return zero, err
	}
	e.items = items
	e.mu.Unlock()

	e.logger.Debug("Record added", "id", m.ID)
	e.touched(ctx, now)

	op, err := e.writeOperation(rec, queue.OpCreate)
	if err != nil {
		return zero, err
	}
	e.schedule(ctx, op, rec.Clone())

	return rec.Clone(), nil
}

// Update applies mutate to a copy of the record with id and stores it as a
// new pending revision. Identity fields changed by mutate are restored.
// Editing a record in conflict settles the conflict in favor of the edit.
func (e *Engine[T]) Update(ctx context.Context, id string, mutate func(T)) (T, error) {
	var zero T

	e.mu.Lock()
	i := e.indexOf(id)
	if i < 0 {
		e.mu.Unlock()
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	old := e.items[i].SyncMeta()
	rec := e.items[i].Clone()
	mutate(rec)

	m := rec.SyncMeta()
	m.ID = old.ID
	m.CreatedAt = old.CreatedAt
	m.SyncedAt = old.SyncedAt
	m.UpdatedAt = e.clock.After(old.Timestamp())
	m.DeviceID = e.deviceID
	m.SyncStatus = models.SyncStatusPending

	if err := e.stamp(rec); err != nil {
		e.mu.Unlock()
		return zero, err
	}

	items := slices.Clone(e.items)
	items[i] = rec
	if err := e.save(ctx, items); err != nil {
		e.mu.Unlock()
		return zero, err
	}
	e.items = items
	resolved, remaining := e.dropConflict(id)
	e.mu.Unlock()

	e.logger.Debug("Record updated", "id", id)
	e.touched(ctx, m.UpdatedAt)
	if resolved {
		e.conflictsChanged(remaining)
	}

	opType := queue.OpUpdate
	if m.SyncedAt == 0 {
		opType = queue.OpCreate
	}
	op, err := e.writeOperation(rec, opType)
	if err != nil {
		return zero, err
	}
	e.schedule(ctx, op, rec.Clone())

	return rec.Clone(), nil
}

// Remove deletes the record with id locally and remotely. The removed
// revision is kept in the queued operation so it can be restored if the
// remote delete finally fails.
func (e *Engine[T]) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	i := e.indexOf(id)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	snapshot := e.items[i].Clone()
	items := slices.Delete(slices.Clone(e.items), i, i+1)
	if err := e.save(ctx, items); err != nil {
		e.mu.Unlock()
		return err
	}
	e.items = items
	resolved, remaining := e.dropConflict(id)
	e.mu.Unlock()

	e.logger.Debug("Record removed", "id", id)
	e.touched(ctx, e.clock.Now())
	e.lift(ctx, id)
	if resolved {
		e.conflictsChanged(remaining)
	}

	data, err := toData(snapshot)
	if err != nil {
		return fmt.Errorf("failed to snapshot record %s: %w", id, err)
	}
	op := queue.Operation{ID: id, Type: queue.OpDelete, EntityType: e.entity, Data: data}

	queued, found, err := e.queue.Get(ctx, id, e.entity)
	if err != nil {
		e.logger.Warn("Failed to read queue", "error", err)
	}
	if found && queued.Type == queue.OpCreate {
		// Сервер запись не видел: create и delete взаимно уничтожаются в очереди
		return e.enqueue(ctx, op)
	}

	var none T
	e.schedule(ctx, op, none)
	return nil
}

// ResolveConflict settles the conflict for id:
//   - local keeps the local copy and pushes it as the newest revision
//   - cloud replaces the local copy with the cloud one
//   - merge keeps the cloud copy and duplicates the local one under a new id
//
// Resolving an id without a conflict does nothing.
func (e *Engine[T]) ResolveConflict(ctx context.Context, id string, choice merge.Resolution) error {
	if _, err := merge.ParseResolution(string(choice)); err != nil {
		return err
	}

	e.mu.Lock()
	ci := slices.IndexFunc(e.conflicts, func(c merge.Conflict[T]) bool { return c.Local.SyncMeta().ID == id })
	if ci < 0 {
		e.mu.Unlock()
		e.logger.Debug("No conflict to resolve", "id", id)
		return nil
	}
	pair := e.conflicts[ci]

	items := slices.Clone(e.items)
	i := e.indexOf(id)

	var (
		push    T
		pushOp  queue.OpType
		dropOp  bool
		changed []T
	)

	switch choice {
	case merge.ResolveLocal:
		rec := pair.Local.Clone()
		m := rec.SyncMeta()
		m.UpdatedAt = e.clock.After(max(m.Timestamp(), pair.Cloud.SyncMeta().Timestamp()))
		m.DeviceID = e.deviceID
		m.SyncStatus = models.SyncStatusPending
		m.SyncedAt = max(m.SyncedAt, pair.Cloud.SyncMeta().SyncedAt)
		items = replaceOrAppend(items, i, rec)
		changed = append(changed, rec)
		push, pushOp = rec, queue.OpUpdate

	case merge.ResolveCloud:
		rec := e.confirmedCopy(pair.Cloud)
		items = replaceOrAppend(items, i, rec)
		changed = append(changed, rec)
		dropOp = true

	case merge.ResolveMerge:
		rec := e.confirmedCopy(pair.Cloud)
		items = replaceOrAppend(items, i, rec)
		dup := pair.Local.Clone()
		m := dup.SyncMeta()
		now := e.clock.Tick()
		m.ID = e.newID()
		m.CreatedAt = now
		m.UpdatedAt = now
		m.DeviceID = e.deviceID
		m.SyncStatus = models.SyncStatusPending
		m.SyncedAt = 0
		items = append(items, dup)
		changed = append(changed, rec, dup)
		push, pushOp = dup, queue.OpCreate
		dropOp = true
	}

	for _, rec := range changed {
		if err := e.stamp(rec); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	merge.Sort(items)

	if err := e.save(ctx, items); err != nil {
		e.mu.Unlock()
		return err
	}
	e.items = items
	pair.Resolution = choice
	e.conflicts = slices.Delete(slices.Clone(e.conflicts), ci, ci+1)
	remaining := len(e.conflicts)
	e.mu.Unlock()

	e.logger.Info("Conflict resolved", "id", id, "resolution", pair.Resolution)
	e.touched(ctx, e.clock.Now())
	e.conflictsChanged(remaining)

	if dropOp {
		e.dequeueWrite(ctx, id)
	}
	if pushOp != "" {
		op, err := e.writeOperation(push, pushOp)
		if err != nil {
			return err
		}
		e.schedule(ctx, op, push.Clone())
	}
	return nil
}

// confirmedCopy returns the cloud revision as the synced local copy.
func (e *Engine[T]) confirmedCopy(cloud T) T {
	rec := cloud.Clone()
	m := rec.SyncMeta()
	m.SyncStatus = models.SyncStatusSynced
	if m.SyncedAt == 0 {
		m.SyncedAt = e.clock.Now()
	}
	return rec
}

func replaceOrAppend[T any](items []T, i int, rec T) []T {
	if i < 0 {
		return append(items, rec)
	}
	items[i] = rec
	return items
}

// dropConflict removes the pair for id; must be called with mu held.
func (e *Engine[T]) dropConflict(id string) (bool, int) {
	ci := slices.IndexFunc(e.conflicts, func(c merge.Conflict[T]) bool { return c.Local.SyncMeta().ID == id })
	if ci < 0 {
		return false, len(e.conflicts)
	}
	e.conflicts = slices.Delete(slices.Clone(e.conflicts), ci, ci+1)
	return true, len(e.conflicts)
}

// conflictsChanged publishes the new conflict count and leaves the conflict
// status once nothing is left to resolve.
func (e *Engine[T]) conflictsChanged(remaining int) {
	e.publishConflicts(remaining)
	if remaining == 0 && e.Status() == StatusConflict {
		e.setStatus(StatusSynced)
	}
}

// check runs record validation before a local write.
func (e *Engine[T]) check(rec T) error {
	if rec.SyncMeta().ID == "" {
		return fmt.Errorf("record id is empty")
	}
	if e.validate != nil {
		if err := e.validate(rec); err != nil {
			return fmt.Errorf("invalid record %s: %w", rec.SyncMeta().ID, err)
		}
	}
	return nil
}

// stamp validates rec and refreshes its checksum.
func (e *Engine[T]) stamp(rec T) error {
	if err := e.check(rec); err != nil {
		return err
	}
	return checksum.Add(rec)
}

// touched records a local modification and notifies other engines.
func (e *Engine[T]) touched(ctx context.Context, ts int64) {
	if _, err := e.state.Update(ctx, syncstate.Patch{LastLocalModified: syncstate.Int64(ts)}); err != nil {
		e.logger.Warn("Failed to update sync state", "error", err)
	}
	e.publishStorage()
}

func (e *Engine[T]) writeOperation(rec T, opType queue.OpType) (queue.Operation, error) {
	data, err := toData(rec)
	if err != nil {
		return queue.Operation{}, fmt.Errorf("failed to encode record %s: %w", rec.SyncMeta().ID, err)
	}
	return queue.Operation{
		ID:         rec.SyncMeta().ID,
		Type:       opType,
		EntityType: e.entity,
		Data:       data,
	}, nil
}
