package localstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iudanet/jobsync/internal/models"
)

// MigrateFunc upgrades the items of a collection stored at oldVersion.
// data is the JSON array of stored items; the result must be the JSON array of
// items in the current schema.
type MigrateFunc func(oldVersion int, data json.RawMessage) (json.RawMessage, error)

// ValidateFunc rejects records that must not reach application code.
type ValidateFunc[T any] func(item T) error

// ErrInvalidRecord is returned by the default validation
var ErrInvalidRecord = errors.New("invalid record")

// CollectionConfig configures a typed collection.
type CollectionConfig[T any] struct {
	Migrate  MigrateFunc     // nil discards data stored at another version
	Validate ValidateFunc[T] // optional, runs after the built-in checks
	Logger   *slog.Logger
	Keys     []string // primary key first, then legacy variants
	Version  int
}

// Collection is the typed layer: it decodes items one by one, runs migration
// or discard, filters invalid records, merges key variants on read and fans
// writes out to all of them.
type Collection[T models.Record[T]] struct {
	store    *Store
	migrate  MigrateFunc
	validate ValidateFunc[T]
	logger   *slog.Logger
	keys     []string
	version  int
}

// NewCollection creates a typed collection over store
func NewCollection[T models.Record[T]](store *Store, cfg CollectionConfig[T]) *Collection[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = store.logger
	}
	return &Collection[T]{
		store:    store,
		migrate:  cfg.Migrate,
		validate: cfg.Validate,
		logger:   logger,
		keys:     cfg.Keys,
		version:  cfg.Version,
	}
}

// Keys returns the storage keys of the collection, primary first
func (c *Collection[T]) Keys() []string {
	return c.keys
}

// Load returns the merged items of all key variants and the most recent
// lastSync among them. When two variants hold the same id, the copy with the
// newer timestamp wins; on a tie the primary key wins.
func (c *Collection[T]) Load(ctx context.Context) ([]T, int64, error) {
	var (
		result   []T
		index    = make(map[string]int)
		lastSync int64
	)

	for _, key := range c.keys {
		raw, ls, err := c.loadKey(ctx, key)
		if err != nil {
			return nil, 0, err
		}
		lastSync = max(lastSync, ls)

		for _, item := range c.decode(key, raw) {
			id := item.SyncMeta().ID
			pos, seen := index[id]
			if !seen {
				index[id] = len(result)
				result = append(result, item)
				continue
			}
			if item.SyncMeta().Timestamp() > result[pos].SyncMeta().Timestamp() {
				result[pos] = item
			}
		}
	}

	return result, lastSync, nil
}

// loadKey loads one variant, migrating or discarding it on a version mismatch.
func (c *Collection[T]) loadKey(ctx context.Context, key string) ([]json.RawMessage, int64, error) {
	loaded, err := c.store.Load(ctx, key, c.version)
	if err != nil {
		return nil, 0, err
	}
	if !loaded.NeedsMigration {
		return loaded.Items, loaded.LastSync, nil
	}

	if c.migrate == nil {
		c.logger.Warn("Discarding collection stored at another schema version",
			"key", key,
			"stored_version", loaded.SchemaVersion,
			"expected_version", c.version,
			"items", len(loaded.Items))
		return nil, 0, nil
	}

	data, err := json.Marshal(loaded.Items)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal items for migration: %w", err)
	}

	migrated, err := c.migrate(loaded.SchemaVersion, data)
	if err != nil {
		// Данные остаются на диске нетронутыми до следующей записи
		c.logger.Warn("Migration failed, ignoring stored collection",
			"key", key,
			"stored_version", loaded.SchemaVersion,
			"error", err)
		return nil, 0, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(migrated, &items); err != nil {
		c.logger.Warn("Migration returned malformed data", "key", key, "error", err)
		return nil, 0, nil
	}

	env := Envelope{Items: items, SchemaVersion: c.version, LastSync: loaded.LastSync}
	if err := c.store.Save(ctx, []string{key}, env); err != nil {
		return nil, 0, err
	}

	c.logger.Info("Collection migrated",
		"key", key,
		"from_version", loaded.SchemaVersion,
		"to_version", c.version,
		"items", len(items))

	return items, loaded.LastSync, nil
}

// decode converts raw items, dropping malformed and invalid ones.
func (c *Collection[T]) decode(key string, raw []json.RawMessage) []T {
	items := make([]T, 0, len(raw))

	for i, r := range raw {
		if bytes.Equal(bytes.TrimSpace(r), []byte("null")) {
			c.logger.Warn("Skipping null record", "key", key, "index", i)
			continue
		}

		var item T
		if err := json.Unmarshal(r, &item); err != nil {
			c.logger.Warn("Skipping malformed record", "key", key, "index", i, "error", err)
			continue
		}

		if err := c.check(item); err != nil {
			c.logger.Warn("Skipping invalid record", "key", key, "index", i, "error", err)
			continue
		}

		items = append(items, item)
	}

	return items
}

func (c *Collection[T]) check(item T) error {
	meta := item.SyncMeta()
	if meta.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if meta.SyncStatus == "" {
		// Записи из старых версий могли не иметь статуса
		meta.SyncStatus = models.SyncStatusPending
	}
	if !meta.SyncStatus.Valid() {
		return fmt.Errorf("%w: unknown sync status %q", ErrInvalidRecord, meta.SyncStatus)
	}
	if meta.CreatedAt < 0 || meta.UpdatedAt < 0 {
		return fmt.Errorf("%w: negative timestamp", ErrInvalidRecord)
	}

	if c.validate != nil {
		return c.validate(item)
	}
	return nil
}

// Save writes items to every key variant in a single transaction
func (c *Collection[T]) Save(ctx context.Context, items []T, lastSync int64) error {
	raw := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", item.SyncMeta().ID, err)
		}
		raw = append(raw, data)
	}

	return c.store.Save(ctx, c.keys, Envelope{
		Items:         raw,
		SchemaVersion: c.version,
		LastSync:      lastSync,
	})
}

// Clear removes every key variant
func (c *Collection[T]) Clear(ctx context.Context) error {
	return c.store.Delete(ctx, c.keys...)
}
