// Package storage holds the snapshot cache store. Bulk snapshot files are
// cached either on local disk (default) or in an S3-compatible bucket so
// multiple importer replicas can share one download per TTL window.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned by Stat and Download when the object is missing.
var ErrNotExist = errors.New("snapshot object does not exist")

// ObjectInfo describes a cached snapshot object.
type ObjectInfo struct {
	Size         int64
	LastModified time.Time
}

// SnapshotStore defines the cache operations for bulk snapshot files.
type SnapshotStore interface {
	// Upload stores a snapshot object under key, replacing any previous one.
	Upload(ctx context.Context, key string, reader io.Reader, size int64) error

	// Download opens a cached snapshot object for reading.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns metadata for a cached object, or ErrNotExist.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Delete removes a cached object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}
