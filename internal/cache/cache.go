// Package cache stores derived artifacts (summaries, embeddings) on disk so
// re-ingesting a conversation skips the upstream model calls.
//
// Entries live at <dir>/<kind>/<id>.json. A missing or unreadable entry is a
// cache miss, never an error surfaced to the ingest pipeline.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Kinds used by the ingest pipeline.
const (
	KindSummaries  = "summaries"
	KindEmbeddings = "embeddings"
)

// Cache is a directory of JSON entries grouped by kind.
type Cache struct {
	dir    string
	logger *zap.Logger
}

// New creates a cache rooted at dir.
func New(dir string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{dir: dir, logger: logger}
}

// Get decodes the entry for (kind, id) into v. It returns false on a miss,
// including entries that fail to decode.
func (c *Cache) Get(kind, id string, v any) bool {
	data, err := os.ReadFile(c.entryPath(kind, id))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("discarding corrupt cache entry",
			zap.String("kind", kind), zap.String("id", id), zap.Error(err))
		_ = os.Remove(c.entryPath(kind, id))
		return false
	}
	return true
}

// Put encodes v as the entry for (kind, id).
func (c *Cache) Put(kind, id string, v any) error {
	dir := filepath.Join(c.dir, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := os.WriteFile(c.entryPath(kind, id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Clear removes all entries of one kind and returns how many were deleted.
func (c *Cache) Clear(kind string) (int, error) {
	dir := filepath.Join(c.dir, kind)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return deleted, fmt.Errorf("failed to remove cache entry: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

// ClearAll removes every known kind and returns per-kind deletion counts.
func (c *Cache) ClearAll() (map[string]int, error) {
	counts := make(map[string]int)
	for _, kind := range []string{KindSummaries, KindEmbeddings} {
		n, err := c.Clear(kind)
		if err != nil {
			return counts, err
		}
		counts[kind] = n
	}
	return counts, nil
}

func (c *Cache) entryPath(kind, id string) string {
	// Ids are UUIDs, but sanitize anyway so a hostile id cannot escape the
	// cache directory.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	return filepath.Join(c.dir, kind, safe+".json")
}
