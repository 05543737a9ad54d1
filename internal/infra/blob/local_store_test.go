package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	k1, created, err := store.Put(ctx, []byte("%PDF-1.4 hello %%EOF"))
	require.NoError(t, err)
	assert.True(t, created)
	k2, created, err := store.Put(ctx, []byte("%PDF-1.4 hello %%EOF"))
	require.NoError(t, err)
	assert.False(t, created, "same content is stored once")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	assert.FileExists(t, filepath.Join(store.dir, k1))

	require.NoError(t, store.Delete(ctx, k1))
	require.NoError(t, store.Delete(ctx, k1), "deleting twice is not an error")
	assert.NoFileExists(t, filepath.Join(store.dir, k1))
}

func TestLocalStore_RejectsInvalidKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	assert.ErrorIs(t, store.Delete(context.Background(), "../etc/passwd"), ErrInvalidKey)
	assert.ErrorIs(t, store.Delete(context.Background(), "zz"), ErrInvalidKey)
}

func TestLocalStore_ListOlderThan(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	oldKey, _, err := store.Put(ctx, []byte("old"))
	require.NoError(t, err)
	newKey, _, err := store.Put(ctx, []byte("new"))
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, oldKey), past, past))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	keys, err := store.ListOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{oldKey}, keys)
	assert.NotContains(t, keys, newKey)
}
