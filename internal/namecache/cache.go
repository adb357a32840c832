// Package namecache keeps the activity label → short name mapping that
// spares the external lookup from being asked about the same label twice.
//
// The mapping lives in memory and is persisted whole through a Store
// after every write. Entries are never evicted.
package namecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Store persists the whole mapping at once.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, entries map[string]string) error
}

type Cache struct {
	store  Store
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]string

	// saveMu orders snapshots so an older one never overwrites a newer one.
	saveMu sync.Mutex
}

// Open loads the persisted mapping. A nil logger means slog.Default().
func Open(ctx context.Context, store Store, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load name cache: %w", err)
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	logger.Debug("namecache: loaded", "entries", len(entries))
	return &Cache{store: store, logger: logger, entries: entries}, nil
}

// Get returns the short name cached for label.
func (c *Cache) Get(label string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	short, ok := c.entries[label]
	return short, ok
}

// Put records short for label and persists the whole mapping. The
// in-memory entry is kept even when persisting fails.
func (c *Cache) Put(ctx context.Context, label, short string) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	c.entries[label] = short
	c.mu.Unlock()

	snapshot := c.Snapshot()
	if err := c.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save name cache: %w", err)
	}
	c.logger.Debug("namecache: saved", "label", label, "short", short)
	return nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of every entry.
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
