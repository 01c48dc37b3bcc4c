package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/measurekeeper/internal/common"
	"github.com/dmitrijs2005/measurekeeper/internal/filex"
	"github.com/google/uuid"
)

// FileBackend stages one file per upload identifier under <root>/staging
// and moves finished uploads into <root>/objects under a server-assigned
// name.
type FileBackend struct {
	stagingDir string
	objectsDir string
}

// NewFileBackend creates the staging and objects directories under root.
func NewFileBackend(root string) (*FileBackend, error) {
	stagingDir, err := filex.EnsureDir(filepath.Join(root, "staging"))
	if err != nil {
		return nil, err
	}
	objectsDir, err := filex.EnsureDir(filepath.Join(root, "objects"))
	if err != nil {
		return nil, err
	}
	return &FileBackend{stagingDir: stagingDir, objectsDir: objectsDir}, nil
}

func (b *FileBackend) stagingPath(id string) string {
	// The identifier is opaque client input; uuid-like values pass
	// through, anything else is reduced to its base name.
	return filepath.Join(b.stagingDir, filepath.Base(id))
}

// Store appends chunk at offset. The staging file is truncated back to
// offset both before appending (dropping bytes a crashed append left
// behind) and after a short write, so stored bytes stay a clean prefix of
// the upload.
func (b *FileBackend) Store(ctx context.Context, id string, chunk []byte, offset int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrStorageFailure, err)
	}

	path := b.stagingPath(id)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o660)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", common.ErrStorageFailure, path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", common.ErrStorageFailure, path, err)
	}
	if fi.Size() < offset {
		return 0, fmt.Errorf("%w: staged %d bytes, chunk starts at %d", common.ErrStorageFailure, fi.Size(), offset)
	}
	if fi.Size() > offset {
		if err := f.Truncate(offset); err != nil {
			return 0, fmt.Errorf("%w: truncate %s: %v", common.ErrStorageFailure, path, err)
		}
	}

	n, err := f.WriteAt(chunk, offset)
	if err != nil || n != len(chunk) {
		// Roll the partial write back so BytesStored never reports
		// in-flight bytes.
		_ = f.Truncate(offset)
		return 0, fmt.Errorf("%w: wrote %d of %d bytes: %v", common.ErrStorageFailure, n, len(chunk), err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Truncate(offset)
		return 0, fmt.Errorf("%w: sync %s: %v", common.ErrStorageFailure, path, err)
	}

	return int64(n), nil
}

// BytesStored reports the staging file size; unknown identifiers report 0.
func (b *FileBackend) BytesStored(ctx context.Context, id string) (int64, error) {
	fi, err := os.Stat(b.stagingPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrStorageFailure, err)
	}
	return fi.Size(), nil
}

// Complete renames the staging file into the objects directory under a
// server-assigned name and returns that name.
func (b *FileBackend) Complete(ctx context.Context, id string) (string, error) {
	name := uuid.New().String()
	if err := os.Rename(b.stagingPath(id), filepath.Join(b.objectsDir, name)); err != nil {
		return "", fmt.Errorf("%w: rename: %v", common.ErrStorageFailure, err)
	}
	return name, nil
}

// Discard removes id's staging file. Discarding an unknown identifier is
// not an error.
func (b *FileBackend) Discard(ctx context.Context, id string) error {
	err := os.Remove(b.stagingPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove: %v", common.ErrStorageFailure, err)
	}
	return nil
}

// Cleanup deletes staging files whose last modification is older than age
// and returns how many were deleted.
func (b *FileBackend) Cleanup(ctx context.Context, age time.Duration) (int, error) {
	entries, err := os.ReadDir(b.stagingDir)
	if err != nil {
		return 0, fmt.Errorf("%w: read staging dir: %v", common.ErrStorageFailure, err)
	}

	cutoff := time.Now().Add(-age)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.stagingDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
