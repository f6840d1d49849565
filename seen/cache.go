// Package seen keeps the set of tweet ids the bot has already reposted and
// persists it through a pluggable Backend.
package seen

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/onnwee/clanwatch/apierr"
	"github.com/onnwee/clanwatch/telemetry"
)

// Backend persists the seen set. Save always receives the full set.
type Backend interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, ids []string) error
	Close() error
}

// Cache is the in-memory seen set. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	ids     map[string]struct{}
	backend Backend
}

// Open loads the persisted set from backend.
func Open(ctx context.Context, backend Backend) (*Cache, error) {
	ids, err := backend.Load(ctx)
	if err != nil {
		return nil, &apierr.PersistenceError{Op: "load", Err: err}
	}
	c := &Cache{ids: make(map[string]struct{}, len(ids)), backend: backend}
	for _, id := range ids {
		if id != "" {
			c.ids[id] = struct{}{}
		}
	}
	telemetry.SetSeenPosts(len(c.ids))
	slog.Info("seen cache loaded", slog.Int("count", len(c.ids)), slog.String("component", "seen"))
	return c, nil
}

// Contains reports whether id was already reposted.
func (c *Cache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// Add records id and persists the whole set. When persisting fails the id
// stays in memory and a *apierr.PersistenceError is returned.
func (c *Cache) Add(ctx context.Context, id string) error {
	c.mu.Lock()
	c.ids[id] = struct{}{}
	snapshot := c.sortedLocked()
	c.mu.Unlock()

	telemetry.SetSeenPosts(len(snapshot))
	if err := c.backend.Save(ctx, snapshot); err != nil {
		return &apierr.PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Len returns the number of seen ids.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// IDs returns a sorted copy of the set.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked()
}

// Close releases the backend.
func (c *Cache) Close() error { return c.backend.Close() }

func (c *Cache) sortedLocked() []string {
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
