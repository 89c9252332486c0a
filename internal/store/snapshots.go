package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// SnapshotStore is the abstract object store for snapshot/recording
// artifacts (spec §6: "a snapshots object store keyed by {alarm_id,
// timestamp}"). Object storage layout is explicitly out of scope (spec
// §1); this package only defines the contract and a local-filesystem
// reference implementation a single-process deployment can run against,
// never a real S3/object-storage client.
type SnapshotStore interface {
	// Put writes data under a key derived from (alarmID, takenAt, kind) and
	// returns that key for indexing via PostgresStore.RecordSnapshot.
	Put(alarmID string, takenAt time.Time, kind string, data []byte) (key string, err error)
	// Get opens a previously-written artifact by key.
	Get(key string) (io.ReadCloser, error)
}

// LocalSnapshotStore stores artifacts as files under a base directory,
// one per (alarm, timestamp, kind), matching spec §6's description of
// "snapshot files contain pixel data + metadata JSON; recording files
// contain pre/post buffered segments concatenated" without prescribing a
// real object-storage backend.
type LocalSnapshotStore struct {
	baseDir string
}

// NewLocalSnapshotStore creates a store rooted at baseDir, creating it if
// necessary.
func NewLocalSnapshotStore(baseDir string) (*LocalSnapshotStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create snapshot dir %s: %w", baseDir, err)
	}
	return &LocalSnapshotStore{baseDir: baseDir}, nil
}

func keyFor(alarmID string, takenAt time.Time, kind string) string {
	return fmt.Sprintf("%s/%d-%s", alarmID, takenAt.UnixNano(), kind)
}

// Put implements SnapshotStore.
func (l *LocalSnapshotStore) Put(alarmID string, takenAt time.Time, kind string, data []byte) (string, error) {
	key := keyFor(alarmID, takenAt, kind)
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("store: create snapshot path %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("store: write snapshot %s: %w", key, err)
	}
	return key, nil
}

// Get implements SnapshotStore.
func (l *LocalSnapshotStore) Get(key string) (io.ReadCloser, error) {
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open snapshot %s: %w", key, err)
	}
	return f, nil
}
