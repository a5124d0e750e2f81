// Package queue implements the durable operation queue: at most one pending
// operation per (id, entityType), with retry bookkeeping and backoff.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/iudanet/jobsync/internal/client/storage"
	"github.com/iudanet/jobsync/internal/client/syncstate"
)

// Config holds queue tuning. Zero values fall back to the defaults; a
// negative Jitter disables jitter.
type Config struct {
	Now        func() time.Time
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	switch {
	case c.Jitter == 0:
		c.Jitter = DefaultJitter
	case c.Jitter < 0:
		c.Jitter = 0
	}
	return c
}

// Queue persists operations under a single key. Each mutation is one atomic
// read-modify-write, after which pendingCount in the sync state is refreshed.
type Queue struct {
	kv     storage.KV
	state  *syncstate.Tracker
	logger *slog.Logger
	key    string
	cfg    Config
}

// New creates a queue stored under key
func New(kv storage.KV, key string, state *syncstate.Tracker, cfg Config, logger *slog.Logger) *Queue {
	return &Queue{
		kv:     kv,
		state:  state,
		logger: logger,
		key:    key,
		cfg:    cfg.withDefaults(),
	}
}

// Delay returns the backoff before the next attempt after retries failures
func (q *Queue) Delay(retries int) time.Duration {
	return Backoff(retries, q.cfg.BaseDelay, q.cfg.MaxDelay, q.cfg.Jitter)
}

// Ready reports whether op's backoff has elapsed at now.
func (q *Queue) Ready(op Operation, now time.Time) bool {
	return op.NextAttempt == 0 || now.UnixMilli() >= op.NextAttempt
}

// Enqueue adds op, collapsing it into an existing entry for the same
// (id, entityType).
func (q *Queue) Enqueue(ctx context.Context, op Operation) error {
	if op.ID == "" || op.EntityType == "" {
		return fmt.Errorf("operation requires id and entity type")
	}
	if op.Timestamp == 0 {
		op.Timestamp = q.cfg.Now().UnixMilli()
	}
	if op.MaxRetries <= 0 {
		op.MaxRetries = q.cfg.MaxRetries
	}

	n, err := q.modify(ctx, func(ops []Operation) ([]Operation, error) {
		i := indexOf(ops, op.ID, op.EntityType)
		if i < 0 {
			return append(ops, op), nil
		}

		merged, keep := collapse(ops[i], op)
		if !keep {
			q.logger.Debug("Queued operation cancelled out", "op", ops[i].String())
			return slices.Delete(ops, i, i+1), nil
		}
		ops[i] = merged
		return ops, nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", op, err)
	}

	q.logger.Debug("Operation enqueued", "op", op.String(), "pending", n)
	return nil
}

// Dequeue removes the entry for (id, entityType) after confirmed success.
// When types are given, the entry is removed only if its type is one of
// them. Removing a missing entry is not an error.
func (q *Queue) Dequeue(ctx context.Context, id, entityType string, types ...OpType) error {
	_, err := q.modify(ctx, func(ops []Operation) ([]Operation, error) {
		i := indexOf(ops, id, entityType)
		if i < 0 || (len(types) > 0 && !slices.Contains(types, ops[i].Type)) {
			return ops, nil
		}
		return slices.Delete(ops, i, i+1), nil
	})
	if err != nil {
		return fmt.Errorf("failed to dequeue %s/%s: %w", entityType, id, err)
	}
	return nil
}

// MarkRetried records a failed attempt. When the retry budget is exhausted
// the entry is dropped, a fatal lastError is set in the sync state and the
// dropped operation is returned with exhausted=true so the caller can
// compensate. found is false when no entry exists.
func (q *Queue) MarkRetried(ctx context.Context, id, entityType string, cause error) (op Operation, exhausted, found bool, err error) {
	return q.markFailed(ctx, id, entityType, cause, false)
}

// Drop counts a final attempt that must not be repeated (the server refused
// the operation) and removes the entry the same way an exhausted one is.
func (q *Queue) Drop(ctx context.Context, id, entityType string, cause error) (op Operation, found bool, err error) {
	op, _, found, err = q.markFailed(ctx, id, entityType, cause, true)
	return op, found, err
}

func (q *Queue) markFailed(ctx context.Context, id, entityType string, cause error, final bool) (op Operation, exhausted, found bool, err error) {
	now := q.cfg.Now()

	_, err = q.modify(ctx, func(ops []Operation) ([]Operation, error) {
		i := indexOf(ops, id, entityType)
		if i < 0 {
			return ops, nil
		}
		found = true

		ops[i].Retries++
		ops[i].LastAttempt = now.UnixMilli()
		ops[i].NextAttempt = now.Add(q.Delay(ops[i].Retries)).UnixMilli()
		op = ops[i]

		if final || op.Exhausted() {
			exhausted = true
			return slices.Delete(ops, i, i+1), nil
		}
		return ops, nil
	})
	if err != nil {
		return Operation{}, false, false, fmt.Errorf("failed to mark %s/%s retried: %w", entityType, id, err)
	}

	if exhausted {
		msg := fmt.Sprintf("%s failed after %d attempts", op, op.Retries)
		if final && !op.Exhausted() {
			msg = fmt.Sprintf("%s rejected by server", op)
		}
		if cause != nil {
			msg += ": " + cause.Error()
		}
		q.logger.Error("Operation dropped", "op", op.String(), "retries", op.Retries, "error", cause)
		if _, err := q.state.Update(ctx, syncstate.Fatal(msg, now.UnixMilli())); err != nil {
			return op, exhausted, found, err
		}
	} else if found {
		q.logger.Warn("Operation failed, will retry",
			"op", op.String(),
			"retries", op.Retries,
			"next_attempt", time.UnixMilli(op.NextAttempt),
			"error", cause)
	}

	return op, exhausted, found, nil
}

// List returns all queued operations in enqueue order
func (q *Queue) List(ctx context.Context) ([]Operation, error) {
	data, err := q.kv.Get(ctx, q.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	return q.decode(data), nil
}

// Get returns the entry for (id, entityType)
func (q *Queue) Get(ctx context.Context, id, entityType string) (Operation, bool, error) {
	ops, err := q.List(ctx)
	if err != nil {
		return Operation{}, false, err
	}
	if i := indexOf(ops, id, entityType); i >= 0 {
		return ops[i], true, nil
	}
	return Operation{}, false, nil
}

// Len returns the number of queued operations
func (q *Queue) Len(ctx context.Context) (int, error) {
	ops, err := q.List(ctx)
	return len(ops), err
}

// Clear drops every queued operation
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.kv.Delete(ctx, q.key); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	_, err := q.state.Update(ctx, syncstate.Patch{PendingCount: syncstate.Int(0)})
	return err
}

// modify applies fn to the stored operations atomically and mirrors the
// resulting length into the sync state.
func (q *Queue) modify(ctx context.Context, fn func([]Operation) ([]Operation, error)) (int, error) {
	var n int

	err := q.kv.Update(ctx, q.key, func(current []byte) ([]byte, error) {
		ops, err := fn(q.decode(current))
		if err != nil {
			return nil, err
		}
		n = len(ops)
		if n == 0 {
			return nil, nil
		}
		return json.Marshal(ops)
	})
	if err != nil {
		return 0, err
	}

	if _, err := q.state.Update(ctx, syncstate.Patch{PendingCount: syncstate.Int(n)}); err != nil {
		return n, err
	}

	return n, nil
}

func (q *Queue) decode(data []byte) []Operation {
	if len(data) == 0 {
		return nil
	}
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		q.logger.Warn("Discarding corrupt operation queue", "key", q.key, "error", err)
		return nil
	}
	return ops
}

func indexOf(ops []Operation, id, entityType string) int {
	return slices.IndexFunc(ops, func(o Operation) bool {
		return o.ID == id && o.EntityType == entityType
	})
}
