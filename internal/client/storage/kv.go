package storage

import "context"

//go:generate moq -out kv_mock.go . KV

// KV is the local key-value store every sync component persists into.
// Values are opaque bytes (JSON documents in practice). Implementations must be
// safe for concurrent use.
type KV interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if the key doesn't exist
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value
	Put(ctx context.Context, key string, value []byte) error

	// PutAll stores every pair in a single transaction: either all values land
	// or none of them do
	PutAll(ctx context.Context, values map[string][]byte) error

	// Update runs a read-modify-write cycle on key atomically.
	// fn receives nil when the key is absent. Returning a nil value deletes the key.
	// An error from fn aborts the transaction and is returned as is.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error

	// Delete removes key. Deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Keys returns all keys starting with prefix, sorted
	Keys(ctx context.Context, prefix string) ([]string, error)
}
