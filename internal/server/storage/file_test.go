package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/measurekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestFileBackend_StoreAppendsContiguously(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	n, err := b.Store(ctx, "u1", []byte("hello "), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	n, err = b.Store(ctx, "u1", []byte("world"), 6)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	stored, err := b.BytesStored(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), stored)

	data, err := os.ReadFile(b.stagingPath("u1"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFileBackend_StoreGapFails(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	_, err := b.Store(ctx, "u1", []byte("abc"), 0)
	require.NoError(t, err)

	_, err = b.Store(ctx, "u1", []byte("xyz"), 10)
	require.ErrorIs(t, err, common.ErrStorageFailure)

	// The earlier bytes stay intact.
	stored, err := b.BytesStored(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored)
}

func TestFileBackend_StoreRetryOverwritesInFlightBytes(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	_, err := b.Store(ctx, "u1", []byte("abc"), 0)
	require.NoError(t, err)
	_, err = b.Store(ctx, "u1", []byte("defg"), 3)
	require.NoError(t, err)

	// A retried chunk at an older offset drops everything past it, as a
	// crashed append would be dropped.
	_, err = b.Store(ctx, "u1", []byte("DEF"), 3)
	require.NoError(t, err)

	data, err := os.ReadFile(b.stagingPath("u1"))
	require.NoError(t, err)
	assert.Equal(t, "abcDEF", string(data))
}

func TestFileBackend_BytesStoredUnknownID(t *testing.T) {
	b := newFileBackend(t)

	n, err := b.BytesStored(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestFileBackend_CompleteMovesToObjects(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	_, err := b.Store(ctx, "u1", []byte("payload"), 0)
	require.NoError(t, err)

	name, err := b.Complete(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, name)

	data, err := os.ReadFile(filepath.Join(b.objectsDir, name))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = os.Stat(b.stagingPath("u1"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "staging file must be gone")
}

func TestFileBackend_Discard(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	_, err := b.Store(ctx, "u1", []byte("payload"), 0)
	require.NoError(t, err)

	require.NoError(t, b.Discard(ctx, "u1"))

	n, err := b.BytesStored(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Unknown identifiers are fine.
	require.NoError(t, b.Discard(ctx, "u2"))
}

func TestFileBackend_CleanupRemovesStaleStagingFiles(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	_, err := b.Store(ctx, "stale", []byte("old"), 0)
	require.NoError(t, err)
	_, err = b.Store(ctx, "fresh", []byte("new"), 0)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(b.stagingPath("stale"), old, old))

	removed, err := b.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(b.stagingPath("stale"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	n, err := b.BytesStored(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestFileBackend_CleanupDoesNotTouchObjects(t *testing.T) {
	b := newFileBackend(t)
	ctx := context.Background()

	_, err := b.Store(ctx, "u1", []byte("payload"), 0)
	require.NoError(t, err)
	name, err := b.Complete(ctx, "u1")
	require.NoError(t, err)

	objPath := filepath.Join(b.objectsDir, name)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(objPath, old, old))

	_, err = b.Cleanup(ctx, time.Hour)
	require.NoError(t, err)

	_, err = os.Stat(objPath)
	assert.NoError(t, err, "finalized objects are permanent")
}
