package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore implements SnapshotStore on the local filesystem.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a filesystem-backed snapshot store.
// Parameters:
//   - dir: cache directory, created if missing.
// Returns:
//   - *LocalStore: initialized store.
//   - error: non-nil if the directory cannot be created.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Clean(key))
}

// Upload writes the object atomically via a temp file plus rename, so a
// crashed download never leaves a half-written snapshot behind.
func (s *LocalStore) Upload(ctx context.Context, key string, reader io.Reader, size int64) error {
	dst := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// Download opens a cached object for reading.
func (s *LocalStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	return f, nil
}

// Stat returns size and modification time of a cached object.
func (s *LocalStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	return &ObjectInfo{Size: info.Size(), LastModified: info.ModTime()}, nil
}

// Delete removes a cached object.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
