package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/majordomo/internal/log"
)

// Cache fronts the builder with a short per-chat TTL. Concurrent misses for
// the same chat coalesce into one build through a per-chat lock; unrelated
// chats never contend.
type Cache struct {
	builder *Builder
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*Snapshot
	locks   map[string]*sync.Mutex
}

func NewCache(builder *Builder, ttl time.Duration) *Cache {
	return &Cache{
		builder: builder,
		ttl:     ttl,
		logger:  log.WithComponent("snapshot"),
		now:     time.Now,
		entries: make(map[string]*Snapshot),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Get returns the chat's snapshot, building it when missing or expired. When
// a rebuild fails and a previously built snapshot exists, that stale snapshot
// is served as a degraded fallback rather than failing the event.
func (c *Cache) Get(ctx context.Context, chatID string) (*Snapshot, error) {
	if snap, ok := c.fresh(chatID); ok {
		return snap, nil
	}

	lock := c.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	// A concurrent builder may have finished while we waited.
	if snap, ok := c.fresh(chatID); ok {
		return snap, nil
	}

	snap, err := c.builder.Build(ctx, chatID)
	if err != nil {
		c.mu.Lock()
		stale := c.entries[chatID]
		c.mu.Unlock()
		if stale != nil {
			c.logger.Warn("snapshot rebuild failed, serving stale snapshot",
				"chat_id", chatID, "built_at", stale.BuiltAt, "error", err)
			return stale, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[chatID] = snap
	c.mu.Unlock()
	return snap, nil
}

// Invalidate evicts a chat's snapshot, forcing a rebuild on next use.
func (c *Cache) Invalidate(chatID string) {
	c.mu.Lock()
	delete(c.entries, chatID)
	c.mu.Unlock()
	c.logger.Debug("snapshot invalidated", "chat_id", chatID)
}

// Known lists chats that currently hold a cached snapshot. The scheduler
// unions this with the persistent chat index to find periodic work.
func (c *Cache) Known() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	chats := make([]string, 0, len(c.entries))
	for id := range c.entries {
		chats = append(chats, id)
	}
	return chats
}

func (c *Cache) fresh(chatID string) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[chatID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(snap.BuiltAt) > c.ttl {
		return nil, false
	}
	return snap, true
}

func (c *Cache) chatLock(chatID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[chatID] = lock
	}
	return lock
}
