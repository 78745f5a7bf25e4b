package storage

import "fmt"

// Config selects and configures the snapshot store backend.
type Config struct {
	// Backend is "local" or "s3". Empty defaults to local.
	Backend  string
	LocalDir string
	S3       S3Config
}

// NewSnapshotStore creates a SnapshotStore from configuration.
// Parameters:
//   - cfg: backend selection plus backend-specific settings.
// Returns:
//   - SnapshotStore: initialized store implementation.
//   - error: non-nil if the backend is unknown or cannot be created.
func NewSnapshotStore(cfg *Config) (SnapshotStore, error) {
	switch cfg.Backend {
	case "", "local":
		dir := cfg.LocalDir
		if dir == "" {
			dir = "./data/snapshots"
		}
		return NewLocalStore(dir)
	case "s3":
		return NewS3Store(&cfg.S3)
	default:
		return nil, fmt.Errorf("unknown snapshot store backend %q", cfg.Backend)
	}
}
