// Package localstore reads and writes versioned record collections on the
// local key-value store.
package localstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iudanet/jobsync/internal/client/storage"
)

// Envelope is the persisted form of a collection.
type Envelope struct {
	Items         []json.RawMessage `json:"items"`
	SchemaVersion int               `json:"schemaVersion"`
	LastSync      int64             `json:"lastSync"`
}

// Loaded is the result of Store.Load.
type Loaded struct {
	Envelope
	// NeedsMigration is set when the stored schema version differs from the
	// expected one. Items are returned untouched in that case.
	NeedsMigration bool
	// Found is false when nothing usable was stored under the key
	Found bool
}

// Store is the untyped collection layer over storage.KV.
type Store struct {
	kv     storage.KV
	logger *slog.Logger
}

// New creates a new local store
func New(kv storage.KV, logger *slog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// Load reads the collection stored under key.
// Absent or corrupt data yields an empty result, not an error. Only storage
// failures are returned. A version mismatch is flagged via NeedsMigration and
// never discards data by itself.
func (s *Store) Load(ctx context.Context, key string, expectedVersion int) (Loaded, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Loaded{Envelope: Envelope{SchemaVersion: expectedVersion}}, nil
		}
		return Loaded{}, fmt.Errorf("failed to read %s: %w", key, err)
	}

	env, ok := decodeEnvelope(data)
	if !ok {
		s.logger.Warn("Ignoring corrupt collection", "key", key, "size", len(data))
		return Loaded{Envelope: Envelope{SchemaVersion: expectedVersion}}, nil
	}

	return Loaded{
		Envelope:       env,
		NeedsMigration: env.SchemaVersion != expectedVersion,
		Found:          true,
	}, nil
}

// decodeEnvelope accepts both the versioned envelope and a bare JSON array,
// which is how collections were stored before versioning (schema version 0).
func decodeEnvelope(data []byte) (Envelope, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Envelope{}, false
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Envelope{}, false
		}
		return Envelope{Items: items}, true
	case '{':
		var env Envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Envelope{}, false
		}
		return env, true
	default:
		return Envelope{}, false
	}
}

// Save writes items under every key in one storage transaction: either all
// keys are updated or the previous state remains.
func (s *Store) Save(ctx context.Context, keys []string, env Envelope) error {
	if env.Items == nil {
		env.Items = []json.RawMessage{}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal collection: %w", err)
	}

	values := make(map[string][]byte, len(keys))
	for _, k := range keys {
		values[k] = data
	}

	if err := s.kv.PutAll(ctx, values); err != nil {
		return fmt.Errorf("failed to save collection: %w", err)
	}

	return nil
}

// Delete removes every key
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return nil
}
