// Package cache implements the shared result cache every instance reads the
// current catalog from. Reads are in-memory and never touch the network; a
// durable snapshot file makes the last published result survive restarts.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pricefeed/pricefeed/pkg/observability/logger"
	"github.com/pricefeed/pricefeed/pkg/pricing"
)

// snapshotSchemaVersion tags the on-disk format. A restarted instance
// discards snapshots written by an incompatible build instead of crashing.
const snapshotSchemaVersion = 1

// Snapshot is one published refresh result.
type Snapshot struct {
	SchemaVersion int              `json:"schema_version"`
	Payload       *pricing.Catalog `json:"payload"`
	ComputedAt    time.Time        `json:"computed_at"`
	Source        string           `json:"source"`
}

// ResultCache holds the most recent snapshot in memory, backed by a durable
// file. It is read-mostly: many request goroutines call Get concurrently
// while at most one publisher per process calls Put.
type ResultCache struct {
	mu      sync.RWMutex
	current *Snapshot

	path string
	log  logger.Logger
	now  func() time.Time
}

// NewResultCache creates a cache backed by the snapshot file at path.
// The last durable snapshot, if present and compatible, is loaded here so a
// restarted instance serves data before it can reach any network. An empty
// path disables durability (memory only); corrupt or incompatible snapshot
// files are discarded with a warning, never fatal.
func NewResultCache(path string, log logger.Logger) (*ResultCache, error) {
	if log == nil {
		return nil, cacheError(ErrInvalidArgument, "logger is required")
	}

	c := &ResultCache{
		path: path,
		log:  log,
		now:  time.Now,
	}
	if path != "" {
		c.current = loadSnapshot(path, log)
	}
	return c, nil
}

// Get returns the most recent snapshot. It never blocks on network or lock
// activity. The boolean is false only before the first successful publish on
// a cold start with no usable snapshot file.
func (c *ResultCache) Get() (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil, false
	}
	copied := *c.current
	copied.Payload = c.current.Payload.Clone()
	return &copied, true
}

// Put overwrites the in-memory snapshot and synchronously writes the durable
// file via write-temp-then-rename, so a reader never observes a partial
// snapshot. A durable write failure returns ErrSnapshotWrite but leaves the
// in-memory update in place; persistence is retried on the next publish.
func (c *ResultCache) Put(payload *pricing.Catalog, source string) error {
	if payload == nil {
		return cacheError(ErrInvalidArgument, "payload is required")
	}

	snapshot := &Snapshot{
		SchemaVersion: snapshotSchemaVersion,
		Payload:       payload.Clone(),
		ComputedAt:    c.now().UTC(),
		Source:        source,
	}

	c.mu.Lock()
	c.current = snapshot
	c.mu.Unlock()

	if c.path == "" {
		return nil
	}
	if err := writeSnapshot(c.path, snapshot); err != nil {
		return errors.Join(ErrSnapshotWrite, err)
	}
	return nil
}

// Adopt installs a snapshot published by another instance, keeping its
// original ComputedAt and Source. Snapshots older than the current one are
// ignored so a lagging record never rolls the cache back.
func (c *ResultCache) Adopt(snapshot *Snapshot) error {
	if snapshot == nil {
		return cacheError(ErrInvalidArgument, "snapshot is required")
	}
	if snapshot.SchemaVersion != snapshotSchemaVersion {
		return cacheError(ErrInvalidArgument, "snapshot schema version mismatch")
	}
	if snapshot.Payload == nil {
		return cacheError(ErrInvalidArgument, "snapshot payload is required")
	}
	if err := snapshot.Payload.Validate(); err != nil {
		return err
	}

	copied := *snapshot
	copied.Payload = snapshot.Payload.Clone()

	c.mu.Lock()
	if c.current != nil && !copied.ComputedAt.After(c.current.ComputedAt) {
		c.mu.Unlock()
		return nil
	}
	c.current = &copied
	c.mu.Unlock()

	if c.path == "" {
		return nil
	}
	if err := writeSnapshot(c.path, &copied); err != nil {
		return errors.Join(ErrSnapshotWrite, err)
	}
	return nil
}

// EncodeSnapshot serializes a snapshot for publication to the shared store.
func EncodeSnapshot(snapshot *Snapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, cacheError(ErrInvalidArgument, "snapshot is required")
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return raw, nil
}

// DecodeSnapshot parses a snapshot fetched from the shared store.
func DecodeSnapshot(raw []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// IsStale reports whether the cached result is older than maxAge.
// An empty cache is always stale.
func (c *ResultCache) IsStale(maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return true
	}
	return c.now().UTC().Sub(c.current.ComputedAt) >= maxAge
}

// ComputedAt returns the timestamp of the last successful publish.
func (c *ResultCache) ComputedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return time.Time{}, false
	}
	return c.current.ComputedAt, true
}

func loadSnapshot(path string, log logger.Logger) *Snapshot {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("snapshot file unreadable, starting empty", "path", path, "error", err)
		}
		return nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		log.Warn("snapshot file corrupt, starting empty", "path", path, "error", err)
		return nil
	}
	if snapshot.SchemaVersion != snapshotSchemaVersion {
		log.Warn("snapshot schema version mismatch, starting empty",
			"path", path, "found", snapshot.SchemaVersion, "want", snapshotSchemaVersion)
		return nil
	}
	if snapshot.Payload == nil || snapshot.Payload.Validate() != nil {
		log.Warn("snapshot payload invalid, starting empty", "path", path)
		return nil
	}
	return &snapshot
}

func writeSnapshot(path string, snapshot *Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	// Temp file in the same directory so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
