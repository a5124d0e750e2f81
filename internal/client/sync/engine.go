// Package sync is the synchronization orchestrator. An Engine owns one record
// collection: it serves reads from the local store, writes through it
// optimistically, pushes changes to the remote API in the background and
// reconciles local and cloud state on start and on external triggers.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	httpClient "github.com/iudanet/jobsync/internal/client/api"
	"github.com/iudanet/jobsync/internal/checksum"
	"github.com/iudanet/jobsync/internal/client/device"
	"github.com/iudanet/jobsync/internal/client/events"
	"github.com/iudanet/jobsync/internal/client/keys"
	"github.com/iudanet/jobsync/internal/client/localstore"
	"github.com/iudanet/jobsync/internal/client/queue"
	"github.com/iudanet/jobsync/internal/client/storage"
	"github.com/iudanet/jobsync/internal/client/syncstate"
	"github.com/iudanet/jobsync/internal/clock"
	"github.com/iudanet/jobsync/internal/merge"
	"github.com/iudanet/jobsync/internal/metrics"
	"github.com/iudanet/jobsync/internal/models"
)

// Status is the state of an engine.
type Status string

const (
	StatusIdle     Status = "idle"     // нет сессии, работаем только локально
	StatusSyncing  Status = "syncing"  // идет проход синхронизации
	StatusSynced   Status = "synced"   // локальные данные совпадают с облаком
	StatusError    Status = "error"    // последний обмен с сервером не удался
	StatusOffline  Status = "offline"  // сеть недоступна
	StatusConflict Status = "conflict" // есть конфликты, ожидающие решения
)

// Config configures an Engine. KV, App and Entity are required.
type Config[T models.Record[T]] struct {
	KV            storage.KV
	Remote        Remote                         // nil - только локальный режим
	Authenticated func(ctx context.Context) bool // nil - авторизован, если задан Remote
	Online        func() bool                    // nil - сеть считается доступной
	Unreachable   func(err error)                // сообщает о транспортной ошибке, nil - не сообщать
	Bus           *events.Bus
	Metrics       *metrics.Engine
	Logger        *slog.Logger
	Clock         *clock.Monotonic
	NewID         func() string
	Migrate       localstore.MigrateFunc
	Validate      localstore.ValidateFunc[T]
	App           string
	Entity        string
	User          string
	Merge         merge.Options
	Queue         queue.Config
	Throttle      time.Duration // 0 - events.DefaultThrottle, отрицательное значение отключает
	SchemaVersion int           // 0 - версия 1
}

// version identifies a record revision for mid-pass change detection.
type version struct {
	status    models.SyncStatus
	timestamp int64
	syncedAt  int64
}

func versionOf(r models.Syncable) version {
	m := r.SyncMeta()
	return version{status: m.SyncStatus, timestamp: m.Timestamp(), syncedAt: m.SyncedAt}
}

// Engine synchronizes one collection of T.
type Engine[T models.Record[T]] struct {
	ctx        context.Context
	remote     Remote
	authFn     func(ctx context.Context) bool
	onlineFn   func() bool
	downFn     func(err error)
	newID      func() string
	now        func() time.Time
	validate   localstore.ValidateFunc[T]
	collection *localstore.Collection[T]
	queue      *queue.Queue
	state      *syncstate.Tracker
	bus        *events.Bus
	throttle   *events.Throttle
	metrics    *metrics.Engine
	logger     *slog.Logger
	clock      *clock.Monotonic
	cancel     context.CancelFunc
	inflight   map[string]int
	loopDone   chan struct{}
	items      []T
	conflicts  []merge.Conflict[T]
	merge      merge.Options
	entity     string
	deviceID   string
	source     string
	status     Status
	lastSync   int64
	wg         sync.WaitGroup
	pass       sync.Mutex // удерживается на время прохода синхронизации
	mu         sync.RWMutex
	startOnce  sync.Once
	closeOnce  sync.Once
	closed     bool
}

// New creates an engine. It resolves the device id and prepares storage but
// does not load data or talk to the network until Start.
func New[T models.Record[T]](ctx context.Context, cfg Config[T]) (*Engine[T], error) {
	if cfg.KV == nil {
		return nil, errors.New("sync: KV is required")
	}
	if cfg.App == "" || cfg.Entity == "" {
		return nil, errors.New("sync: App and Entity are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("entity", cfg.Entity)

	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.SchemaVersion <= 0 {
		cfg.SchemaVersion = 1
	}
	if cfg.Queue.Now == nil {
		cfg.Queue.Now = time.Now
	}

	throttle := cfg.Throttle
	switch {
	case throttle == 0:
		throttle = events.DefaultThrottle
	case throttle < 0:
		throttle = 0
	}

	ns := keys.New(cfg.App, cfg.User)

	deviceID, err := device.ID(ctx, cfg.KV, ns.Device())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device id: %w", err)
	}

	state := syncstate.NewTracker(cfg.KV, ns.State(), logger)
	if _, err := state.Update(ctx, syncstate.Patch{DeviceID: syncstate.String(deviceID)}); err != nil {
		return nil, fmt.Errorf("failed to initialize sync state: %w", err)
	}

	store := localstore.New(cfg.KV, logger)
	collection := localstore.NewCollection(store, localstore.CollectionConfig[T]{
		Migrate:  cfg.Migrate,
		Validate: cfg.Validate,
		Logger:   logger,
		Keys:     ns.CollectionVariants(cfg.Entity),
		Version:  cfg.SchemaVersion,
	})

	engineCtx, cancel := context.WithCancel(context.Background())

	e := &Engine[T]{
		ctx:        engineCtx,
		cancel:     cancel,
		remote:     cfg.Remote,
		authFn:     cfg.Authenticated,
		onlineFn:   cfg.Online,
		downFn:     cfg.Unreachable,
		newID:      cfg.NewID,
		now:        cfg.Queue.Now,
		validate:   cfg.Validate,
		collection: collection,
		queue:      queue.New(cfg.KV, ns.Queue(), state, cfg.Queue, logger),
		state:      state,
		bus:        cfg.Bus,
		throttle:   events.NewThrottle(throttle),
		metrics:    cfg.Metrics,
		logger:     logger,
		clock:      cfg.Clock,
		inflight:   make(map[string]int),
		merge:      cfg.Merge,
		entity:     cfg.Entity,
		deviceID:   deviceID,
		source:     "engine-" + cfg.NewID(),
		status:     StatusIdle,
	}

	return e, nil
}

// Start loads the local collection, subscribes to triggers and runs the
// first reconciliation. Only a local storage failure is returned; a failed
// pass is reflected in Status and State.
func (e *Engine[T]) Start(ctx context.Context) error {
	if err := e.reload(ctx); err != nil {
		return err
	}

	e.startOnce.Do(func() {
		sub := e.bus.Subscribe(events.Online, events.Offline, events.Focus, events.Visible, events.Storage)
		e.loopDone = make(chan struct{})
		go e.loop(sub)
	})

	e.logger.Info("Sync engine started", "device_id", e.deviceID, "items", len(e.Items()))

	if err := e.Reconcile(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		e.logger.Debug("Initial reconciliation failed", "error", err)
	}
	return nil
}

// Close stops the trigger loop and waits for background pushes.
func (e *Engine[T]) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.cancel()
		if e.loopDone != nil {
			<-e.loopDone
		}
		e.wg.Wait()
	})
}

// Wait blocks until every background push has finished.
func (e *Engine[T]) Wait() {
	e.wg.Wait()
}

// DeviceID returns the identifier of this installation
func (e *Engine[T]) DeviceID() string {
	return e.deviceID
}

// Items returns copies of all records, newest first.
func (e *Engine[T]) Items() []T {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]T, len(e.items))
	for i, item := range e.items {
		out[i] = item.Clone()
	}
	return out
}

// Get returns a copy of the record with id.
func (e *Engine[T]) Get(id string) (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if i := e.indexOf(id); i >= 0 {
		return e.items[i].Clone(), true
	}
	var zero T
	return zero, false
}

// Conflicts returns copies of the unresolved conflict pairs.
func (e *Engine[T]) Conflicts() []merge.Conflict[T] {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]merge.Conflict[T], len(e.conflicts))
	for i, c := range e.conflicts {
		out[i] = merge.Conflict[T]{Local: c.Local.Clone(), Cloud: c.Cloud.Clone(), Resolution: c.Resolution}
	}
	return out
}

// Status returns the current engine state
func (e *Engine[T]) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// State returns the persisted sync state of the namespace
func (e *Engine[T]) State(ctx context.Context) (syncstate.State, error) {
	return e.state.Get(ctx)
}

// PendingOperations returns the queued operations of this entity.
func (e *Engine[T]) PendingOperations(ctx context.Context) ([]queue.Operation, error) {
	ops, err := e.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(ops, func(op queue.Operation) bool { return op.EntityType != e.entity }), nil
}

// VerifyIntegrity scans the stored collection for checksum mismatches.
// Nothing is repaired.
func (e *Engine[T]) VerifyIntegrity(ctx context.Context) ([]checksum.Corruption, error) {
	stored, _, err := e.collection.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	return e.reportCorrupted(stored), nil
}

// ClearCache drops the local collection, the queue and the sync state.
// It waits for a running reconciliation to finish.
func (e *Engine[T]) ClearCache(ctx context.Context) error {
	e.pass.Lock()
	defer e.pass.Unlock()

	e.mu.Lock()
	err := errors.Join(
		e.queue.Clear(ctx),
		e.collection.Clear(ctx),
		e.state.Clear(ctx),
	)
	if err == nil {
		e.items = nil
		e.conflicts = nil
		e.lastSync = 0
	}
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	if _, err := e.state.Update(ctx, syncstate.Patch{DeviceID: syncstate.String(e.deviceID)}); err != nil {
		return err
	}

	e.logger.Info("Local cache cleared")
	e.metrics.SetConflicts(e.entity, 0)
	e.metrics.SetQueueDepth(e.entity, 0)
	e.publishStorage()
	e.publishConflicts(0)
	e.setStatus(StatusIdle)
	return nil
}

// reload replaces the in-memory collection with the stored one.
func (e *Engine[T]) reload(ctx context.Context) error {
	items, lastSync, err := e.collection.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	e.reportCorrupted(items)
	merge.Sort(items)

	e.mu.Lock()
	e.items = items
	e.lastSync = lastSync
	e.conflicts = e.liveConflicts(e.conflicts, items)
	e.mu.Unlock()

	return nil
}

func (e *Engine[T]) reportCorrupted(items []T) []checksum.Corruption {
	corrupted := checksum.FindCorrupted(items)
	for _, c := range corrupted {
		e.logger.Warn("Checksum mismatch", "id", c.ID, "expected", c.Expected, "actual", c.Actual)
	}
	e.metrics.AddCorrupted(len(corrupted))
	return corrupted
}

// loop reacts to triggers until the engine is closed.
func (e *Engine[T]) loop(sub *events.Subscription) {
	defer close(e.loopDone)
	defer sub.Close()

	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			e.handle(ev)
		}
	}
}

func (e *Engine[T]) handle(ev events.Event) {
	switch ev.Kind {
	case events.Offline:
		if e.Status() != StatusIdle {
			e.setStatus(StatusOffline)
		}
		return
	case events.Storage:
		if ev.Source == e.source {
			return
		}
		if slices.Contains(e.collection.Keys(), ev.Key) {
			if err := e.reload(e.ctx); err != nil {
				e.logger.Warn("Failed to reload collection", "error", err)
			}
		}
	}

	if !e.throttle.Allow(ev.Kind) {
		e.logger.Debug("Trigger throttled", "trigger", ev.Kind)
		return
	}

	e.logger.Debug("Reconciliation triggered", "trigger", ev.Kind)
	if err := e.Reconcile(e.ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		e.logger.Debug("Triggered reconciliation failed", "trigger", ev.Kind, "error", err)
	}
}

func (e *Engine[T]) authenticated(ctx context.Context) bool {
	if e.remote == nil {
		return false
	}
	if e.authFn == nil {
		return true
	}
	return e.authFn(ctx)
}

func (e *Engine[T]) online() bool {
	return e.onlineFn == nil || e.onlineFn()
}

// observe passes a transport failure on to the connectivity source so the
// engine stops trying until the network comes back.
func (e *Engine[T]) observe(err error) {
	if e.downFn != nil && httpClient.IsUnreachable(err) {
		e.downFn(err)
	}
}

// reachable reports whether a remote call can be attempted right now.
func (e *Engine[T]) reachable(ctx context.Context) bool {
	return e.authenticated(ctx) && e.online()
}

func (e *Engine[T]) setStatus(s Status) {
	e.mu.Lock()
	changed := e.status != s
	e.status = s
	e.mu.Unlock()

	if changed {
		e.logger.Debug("Status changed", "status", s)
		e.bus.Publish(events.Event{Kind: events.Status, Status: string(s), Key: e.primaryKey(), Source: e.source})
	}
}

// failureStatus is the status a failed remote call settles at.
func (e *Engine[T]) failureStatus() Status {
	if e.online() {
		return StatusError
	}
	return StatusOffline
}

func (e *Engine[T]) publishStorage() {
	e.bus.Publish(events.Event{Kind: events.Storage, Key: e.primaryKey(), Source: e.source})
}

func (e *Engine[T]) publishConflicts(n int) {
	e.metrics.SetConflicts(e.entity, n)
	e.bus.Publish(events.Event{Kind: events.Conflicts, Count: n, Key: e.primaryKey(), Source: e.source})
}

func (e *Engine[T]) primaryKey() string {
	return e.collection.Keys()[0]
}

// indexOf must be called with mu held.
func (e *Engine[T]) indexOf(id string) int {
	return slices.IndexFunc(e.items, func(item T) bool { return item.SyncMeta().ID == id })
}

// save persists items; must be called with mu held.
func (e *Engine[T]) save(ctx context.Context, items []T) error {
	if err := e.collection.Save(ctx, items, e.lastSync); err != nil {
		return fmt.Errorf("failed to save collection: %w", err)
	}
	return nil
}

// liveConflicts keeps the pairs whose record is still in conflict.
func (e *Engine[T]) liveConflicts(conflicts []merge.Conflict[T], items []T) []merge.Conflict[T] {
	inConflict := make(map[string]bool)
	for _, item := range items {
		if item.SyncMeta().SyncStatus == models.SyncStatusConflict {
			inConflict[item.SyncMeta().ID] = true
		}
	}
	return slices.DeleteFunc(slices.Clone(conflicts), func(c merge.Conflict[T]) bool {
		return !inConflict[c.Local.SyncMeta().ID]
	})
}

func toData(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func fromData[T any](data map[string]any) (T, error) {
	var item T
	raw, err := json.Marshal(data)
	if err != nil {
		return item, err
	}
	err = json.Unmarshal(raw, &item)
	return item, err
}
