package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/jobsync/internal/client/storage"
)

func TestStorage_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", []byte("v1")))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	// Возвращаемое значение - копия
	got[0] = 'X'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(again))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_PutAllAndKeys(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.PutAll(ctx, map[string][]byte{
		"app_b": []byte("2"),
		"app_a": []byte("1"),
		"zzz":   []byte("3"),
	}))

	keys, err := s.Keys(ctx, "app_")
	require.NoError(t, err)
	assert.Equal(t, []string{"app_a", "app_b"}, keys)
}

func TestStorage_Update(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Update(ctx, "k", func(cur []byte) ([]byte, error) {
		assert.Nil(t, cur)
		return []byte("a"), nil
	}))

	boom := errors.New("boom")
	err := s.Update(ctx, "k", func(cur []byte) ([]byte, error) {
		return []byte("b"), boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))

	require.NoError(t, s.Update(ctx, "k", func(cur []byte) ([]byte, error) { return nil, nil }))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
