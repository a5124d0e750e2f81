package boltdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/jobsync/internal/client/storage"
)

var (
	// bucketKV хранит все ключи локального хранилища
	bucketKV = []byte("kv")
)

// Storage represents BoltDB storage implementation for client
type Storage struct {
	db *bbolt.DB
	mu sync.RWMutex
}

var _ storage.KV = (*Storage)(nil)

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	// Таймаут нужен, чтобы второй процесс не висел вечно на файловой блокировке
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}

	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKV); err != nil {
			return fmt.Errorf("failed to create kv bucket: %w", err)
		}
		return nil
	})
}

// view и update держат RLock на время транзакции, чтобы Close не закрыл БД
// посреди операции
func (s *Storage) view(fn func(b *bbolt.Bucket) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketKV)
		if bucket == nil {
			return fmt.Errorf("kv bucket not found")
		}
		return fn(bucket)
	})
}

func (s *Storage) update(fn func(b *bbolt.Bucket) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketKV)
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return fn(bucket)
	})
}

// Get returns the value stored under key
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.view(func(b *bbolt.Bucket) error {
		data := b.Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		// Значение валидно только внутри транзакции, копируем
		value = bytes.Clone(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Put stores value under key
func (s *Storage) Put(ctx context.Context, key string, value []byte) error {
	err := s.update(func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), value)
	})
	if err != nil {
		if errors.Is(err, storage.ErrStorageClosed) {
			return err
		}
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

// PutAll stores all values in one transaction
func (s *Storage) PutAll(ctx context.Context, values map[string][]byte) error {
	err := s.update(func(b *bbolt.Bucket) error {
		for key, value := range values {
			if err := b.Put([]byte(key), value); err != nil {
				return fmt.Errorf("failed to put %q: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStorageClosed) {
			return err
		}
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// Update performs an atomic read-modify-write on key
func (s *Storage) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	return s.update(func(b *bbolt.Bucket) error {
		var current []byte
		if data := b.Get([]byte(key)); data != nil {
			current = bytes.Clone(data)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		if next == nil {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), next)
	})
}

// Delete removes key
func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.update(func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	})
	if err != nil {
		if errors.Is(err, storage.ErrStorageClosed) {
			return err
		}
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix
func (s *Storage) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := s.view(func(b *bbolt.Bucket) error {
		c := b.Cursor()
		p := []byte(prefix)
		// bbolt хранит ключи отсортированными, поэтому достаточно Seek
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}
