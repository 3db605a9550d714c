// Package recent keeps a small per-user most-recently-used list of resolved
// entities, used to bias resolution and to offer quick shortcuts.
package recent

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/ashureev/chatdesk/internal/domain"
)

// DefaultCapacity is the maximum number of entities remembered per user.
const DefaultCapacity = 9

// Persister loads and stores a user's list, most recent first.
type Persister interface {
	LoadRecent(ctx context.Context, userID int64) ([]domain.EntityRef, error)
	SaveRecent(ctx context.Context, userID int64, refs []domain.EntityRef) error
}

// Cache is a bounded per-user MRU list. Insertion order is recency.
// It is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	capacity  int
	lists     map[int64][]domain.EntityRef // most recent first
	loaded    map[int64]bool
	persister Persister
	logger    *slog.Logger
}

// New creates a cache. persister may be nil for a memory-only cache.
func New(capacity int, persister Persister, logger *slog.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		capacity:  capacity,
		lists:     make(map[int64][]domain.EntityRef),
		loaded:    make(map[int64]bool),
		persister: persister,
		logger:    logger,
	}
}

// Touch records ref as the user's most recent entity, evicting the oldest
// entry past capacity.
func (c *Cache) Touch(ctx context.Context, userID int64, ref domain.EntityRef) {
	if ref.IsZero() {
		return
	}
	c.mu.Lock()
	c.loadLocked(ctx, userID)
	list := c.lists[userID]
	list = slices.DeleteFunc(slices.Clone(list), func(r domain.EntityRef) bool { return r.ID == ref.ID })
	list = append([]domain.EntityRef{ref}, list...)
	if len(list) > c.capacity {
		list = list[:c.capacity]
	}
	c.lists[userID] = list
	snapshot := slices.Clone(list)
	c.mu.Unlock()

	c.save(ctx, userID, snapshot)
}

// List returns the user's entities, most recent first.
func (c *Cache) List(ctx context.Context, userID int64) []domain.EntityRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx, userID)
	return slices.Clone(c.lists[userID])
}

// Forget drops one entity from the user's list, e.g. after it was deleted
// from the store.
func (c *Cache) Forget(ctx context.Context, userID int64, entityID string) {
	c.mu.Lock()
	c.loadLocked(ctx, userID)
	before := len(c.lists[userID])
	list := slices.DeleteFunc(slices.Clone(c.lists[userID]), func(r domain.EntityRef) bool { return r.ID == entityID })
	c.lists[userID] = list
	snapshot := slices.Clone(list)
	c.mu.Unlock()

	if len(snapshot) != before {
		c.save(ctx, userID, snapshot)
	}
}

// Clear empties the user's list.
func (c *Cache) Clear(ctx context.Context, userID int64) {
	c.mu.Lock()
	delete(c.lists, userID)
	c.loaded[userID] = true
	c.mu.Unlock()

	c.save(ctx, userID, nil)
}

func (c *Cache) loadLocked(ctx context.Context, userID int64) {
	if c.persister == nil || c.loaded[userID] {
		return
	}
	refs, err := c.persister.LoadRecent(ctx, userID)
	if err != nil {
		// Retried on the next access.
		c.logger.Warn("failed to load recent entities", "user_id", userID, "error", err)
		return
	}
	if len(refs) > c.capacity {
		refs = refs[:c.capacity]
	}
	c.lists[userID] = refs
	c.loaded[userID] = true
}

func (c *Cache) save(ctx context.Context, userID int64, refs []domain.EntityRef) {
	if c.persister == nil {
		return
	}
	if err := c.persister.SaveRecent(ctx, userID, refs); err != nil {
		c.logger.Warn("failed to persist recent entities", "user_id", userID, "error", err)
	}
}
