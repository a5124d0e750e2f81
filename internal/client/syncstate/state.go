// Package syncstate persists the per-namespace synchronization bookkeeping.
package syncstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iudanet/jobsync/internal/client/storage"
)

// State is the persisted sync bookkeeping of one storage namespace.
// All timestamps are Unix milliseconds; zero means "never".
type State struct {
	// Rejected - записи, которые сервер окончательно не принял, по id
	Rejected          map[string]Rejection `json:"rejected,omitempty"`
	LastError         string               `json:"lastError,omitempty"`
	DeviceID          string               `json:"deviceId"`
	LastCloudSync     int64                `json:"lastCloudSync"`
	LastLocalModified int64                `json:"lastLocalModified"`
	LastErrorTime     int64                `json:"lastErrorTime,omitempty"`
	PendingCount      int                  `json:"pendingCount"`
	// LastErrorFatal помечает отчет о сброшенной операции; его не затирает
	// ошибка очередного прохода
	LastErrorFatal bool `json:"lastErrorFatal,omitempty"`
}

// Rejection is a record revision the server refused for good. The revision
// is not pushed automatically again; a local edit or a full resync lifts it.
type Rejection struct {
	Error    string `json:"error"`
	Revision int64  `json:"revision"`
	Time     int64  `json:"time"`
}

// HasSynced reports whether a successful fetch has ever completed.
func (s State) HasSynced() bool {
	return s.LastCloudSync > 0
}

// Blocked reports whether revision of record id was rejected.
func (s State) Blocked(id string, revision int64) bool {
	r, ok := s.Rejected[id]
	return ok && r.Revision == revision
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	LastCloudSync     *int64
	LastLocalModified *int64
	PendingCount      *int
	LastError         *string
	LastErrorTime     *int64
	LastErrorFatal    *bool
	DeviceID          *string
	// Reject добавляет отметки; nil-значение снимает отметку с записи
	Reject map[string]*Rejection
	// ResetRejected снимает все отметки до применения Reject
	ResetRejected bool
}

// Int64 returns a pointer to v, for building patches
func Int64(v int64) *int64 { return &v }

// Int returns a pointer to v, for building patches
func Int(v int) *int { return &v }

// String returns a pointer to v, for building patches
func String(v string) *string { return &v }

// Bool returns a pointer to v, for building patches
func Bool(v bool) *bool { return &v }

// Fatal returns a patch recording the report of a dropped operation.
func Fatal(msg string, now int64) Patch {
	return Patch{LastError: String(msg), LastErrorTime: Int64(now), LastErrorFatal: Bool(true)}
}

// ClearError returns a patch removing any recorded error.
func ClearError() Patch {
	return Patch{LastError: String(""), LastErrorTime: Int64(0), LastErrorFatal: Bool(false)}
}

func (p Patch) apply(s *State) {
	if p.LastCloudSync != nil {
		s.LastCloudSync = *p.LastCloudSync
	}
	if p.LastLocalModified != nil {
		s.LastLocalModified = *p.LastLocalModified
	}
	if p.PendingCount != nil {
		s.PendingCount = *p.PendingCount
	}
	if p.LastError != nil {
		s.LastError = *p.LastError
	}
	if p.LastErrorTime != nil {
		s.LastErrorTime = *p.LastErrorTime
	}
	if p.LastErrorFatal != nil {
		s.LastErrorFatal = *p.LastErrorFatal
	}
	if p.DeviceID != nil {
		s.DeviceID = *p.DeviceID
	}
	if p.ResetRejected {
		s.Rejected = nil
	}
	for id, r := range p.Reject {
		if r == nil {
			delete(s.Rejected, id)
			continue
		}
		if s.Rejected == nil {
			s.Rejected = make(map[string]Rejection)
		}
		s.Rejected[id] = *r
	}
	if len(s.Rejected) == 0 {
		s.Rejected = nil
	}
}

// Tracker reads and updates the State stored under one key.
type Tracker struct {
	kv     storage.KV
	logger *slog.Logger
	key    string
}

// NewTracker creates a tracker for the state stored under key
func NewTracker(kv storage.KV, key string, logger *slog.Logger) *Tracker {
	return &Tracker{kv: kv, key: key, logger: logger}
}

// Get returns the current state. A missing or unreadable record yields the
// zero state.
func (t *Tracker) Get(ctx context.Context) (State, error) {
	data, err := t.kv.Get(ctx, t.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to get sync state: %w", err)
	}

	return t.decode(data), nil
}

func (t *Tracker) decode(data []byte) State {
	var s State
	if len(data) == 0 {
		return s
	}
	if err := json.Unmarshal(data, &s); err != nil {
		t.logger.Warn("Resetting corrupt sync state", "key", t.key, "error", err)
		return State{}
	}
	return s
}

// Update shallow-merges p into the stored state and returns the result.
// The read-modify-write runs in a single storage transaction.
func (t *Tracker) Update(ctx context.Context, p Patch) (State, error) {
	return t.modify(ctx, p.apply)
}

// PassFailed records the error of a failed pass unless a fatal report is
// stored already.
func (t *Tracker) PassFailed(ctx context.Context, err error, now int64) (State, error) {
	return t.modify(ctx, func(s *State) {
		if s.LastErrorFatal {
			return
		}
		s.LastError = err.Error()
		s.LastErrorTime = now
	})
}

// PassSucceeded clears the error left by an earlier failed pass. A fatal
// report stays until a full resync or "clear cache".
func (t *Tracker) PassSucceeded(ctx context.Context) (State, error) {
	return t.modify(ctx, func(s *State) {
		if s.LastErrorFatal {
			return
		}
		s.LastError = ""
		s.LastErrorTime = 0
	})
}

func (t *Tracker) modify(ctx context.Context, fn func(s *State)) (State, error) {
	var next State

	err := t.kv.Update(ctx, t.key, func(current []byte) ([]byte, error) {
		next = t.decode(current)
		fn(&next)
		return json.Marshal(next)
	})
	if err != nil {
		return State{}, fmt.Errorf("failed to update sync state: %w", err)
	}

	return next, nil
}

// Clear removes the stored state. Only used by "clear cache".
func (t *Tracker) Clear(ctx context.Context) error {
	if err := t.kv.Delete(ctx, t.key); err != nil {
		return fmt.Errorf("failed to clear sync state: %w", err)
	}
	return nil
}
