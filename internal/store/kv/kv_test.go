package kv_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/knowledge-portal/backend/internal/store/kv"
)

func openStore(t *testing.T) (*kv.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "portal.db")
	store, err := kv.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestGetMissingKey(t *testing.T) {
	store, _ := openStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestPutOverwrites(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("one")))
	require.NoError(t, store.Put(ctx, "k", []byte("two")))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestJSONSurvivesReopen(t *testing.T) {
	store, path := openStore(t)
	ctx := context.Background()

	in := map[string]int{"a": 1, "b": 2}
	require.NoError(t, store.PutJSON(ctx, "counts", in))
	require.NoError(t, store.Close())

	reopened, err := kv.Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	var out map[string]int
	require.NoError(t, reopened.GetJSON(ctx, "counts", &out))
	assert.Equal(t, in, out)
}

func TestGetJSONRejectsGarbage(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "bad", []byte("{")))

	var out map[string]any
	err := store.GetJSON(ctx, "bad", &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, kv.ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	store, err := kv.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(context.Background(), "k", []byte("v")))
	got, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}
