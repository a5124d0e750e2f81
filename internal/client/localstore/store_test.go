package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/jobsync/internal/client/storage"
	"github.com/iudanet/jobsync/internal/client/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failingKV возвращает ошибку ввода-вывода на любое чтение
type failingKV struct {
	storage.KV
}

func (failingKV) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func TestStore_Load(t *testing.T) {
	tests := []struct {
		name          string
		stored        string
		wantFound     bool
		wantMigration bool
		wantItems     int
		wantVersion   int
	}{
		{name: "absent key", stored: "", wantVersion: 2},
		{name: "corrupt json", stored: "{not json", wantVersion: 2},
		{name: "garbage", stored: "42", wantVersion: 2},
		{
			name:        "current envelope",
			stored:      `{"schemaVersion":2,"lastSync":5,"items":[{"id":"a"},{"id":"b"}]}`,
			wantFound:   true,
			wantItems:   2,
			wantVersion: 2,
		},
		{
			name:          "older envelope",
			stored:        `{"schemaVersion":1,"lastSync":5,"items":[{"id":"a"}]}`,
			wantFound:     true,
			wantMigration: true,
			wantItems:     1,
			wantVersion:   1,
		},
		{
			name:          "bare array from before versioning",
			stored:        `[{"id":"a"}]`,
			wantFound:     true,
			wantMigration: true,
			wantItems:     1,
			wantVersion:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			kv := memory.New()
			if tt.stored != "" {
				require.NoError(t, kv.Put(ctx, "k", []byte(tt.stored)))
			}

			loaded, err := New(kv, testLogger()).Load(ctx, "k", 2)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, loaded.Found)
			assert.Equal(t, tt.wantMigration, loaded.NeedsMigration)
			assert.Len(t, loaded.Items, tt.wantItems)
			assert.Equal(t, tt.wantVersion, loaded.SchemaVersion)
		})
	}
}

func TestStore_Load_StorageError(t *testing.T) {
	_, err := New(failingKV{}, testLogger()).Load(context.Background(), "k", 1)
	assert.Error(t, err)
}

func TestStore_SaveFansOut(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	s := New(kv, testLogger())

	err := s.Save(ctx, []string{"primary", "legacy"}, Envelope{
		Items:         []json.RawMessage{json.RawMessage(`{"id":"a"}`)},
		SchemaVersion: 3,
		LastSync:      77,
	})
	require.NoError(t, err)

	for _, key := range []string{"primary", "legacy"} {
		loaded, err := s.Load(ctx, key, 3)
		require.NoError(t, err)
		assert.True(t, loaded.Found)
		assert.False(t, loaded.NeedsMigration)
		assert.Equal(t, int64(77), loaded.LastSync)
		require.Len(t, loaded.Items, 1)
		assert.JSONEq(t, `{"id":"a"}`, string(loaded.Items[0]))
	}
}

func TestStore_SaveEmptyWritesArray(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()

	require.NoError(t, New(kv, testLogger()).Save(ctx, []string{"k"}, Envelope{SchemaVersion: 1}))

	raw, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"schemaVersion":1,"lastSync":0}`, string(raw))
}
