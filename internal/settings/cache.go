// Package settings implements the read-through Settings Cache described in
// SPEC_FULL.md §4.1: a small in-memory map over the settings table with a
// short TTL per entry, serving a stale value on refetch failure rather than
// silently falling back to a default.
package settings

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kismatx/roundengine/internal/domain"
	"github.com/shopspring/decimal"
)

// entry is one cached key/value pair with the instant it was last loaded.
type entry struct {
	value     string
	fetchedAt time.Time
}

// source loads the full settings table. Satisfied by
// *repository.SettingsRepository; declared here (consumer side) to avoid an
// import cycle, the same pattern the teacher uses for Rebalancer/Broadcaster.
type source interface {
	GetAll(ctx context.Context) ([]domain.Setting, error)
}

// invalidator fans out cache invalidation to other processes. Satisfied by
// *settings.RedisNotifier; nil is valid and simply disables fan-out for a
// single-process deployment.
type invalidator interface {
	Publish(ctx context.Context)
}

// Cache is the Settings Cache. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	ttl    time.Duration
	src    source
	notify invalidator
	logger *slog.Logger
}

// New constructs a Cache backed by src, with entries considered fresh for
// ttl. notify may be nil.
func New(src source, ttl time.Duration, notify invalidator, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		src:     src,
		notify:  notify,
		logger:  logger,
	}
}

// Get returns the current string value for key, querying the database on a
// miss or expiry. If the query fails and a stale entry is present, the stale
// value is served; the zero value ("", false) is returned when the map
// holds no entry for key (never loaded, or cleared by Invalidate or a
// refresh that did not include it).
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	fresh := ok && time.Since(e.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if fresh {
		return e.value, true
	}

	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("settings cache: refresh failed, serving stale", "error", err)
		if ok {
			return e.value, true
		}
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok = c.entries[key]
	return e.value, ok
}

// GetNumber parses the value at key as a decimal, falling back to def when
// the key is absent or unparseable.
func (c *Cache) GetNumber(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return def
	}
	n, err := decimal.NewFromString(raw)
	if err != nil {
		c.logger.Warn("settings cache: invalid numeric setting, using default", "key", key, "value", raw)
		return def
	}
	return n
}

// GetInt parses the value at key as an integer, falling back to def.
func (c *Cache) GetInt(ctx context.Context, key string, def int) int {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.logger.Warn("settings cache: invalid integer setting, using default", "key", key, "value", raw)
		return def
	}
	return n
}

// GetBoolean parses the value at key as a boolean, falling back to def.
func (c *Cache) GetBoolean(ctx context.Context, key string, def bool) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		c.logger.Warn("settings cache: invalid boolean setting, using default", "key", key, "value", raw)
		return def
	}
	return b
}

// GetString returns the raw value at key, or def if absent.
func (c *Cache) GetString(ctx context.Context, key, def string) string {
	if raw, ok := c.Get(ctx, key); ok {
		return raw
	}
	return def
}

// Invalidate clears the in-memory map so the next Get repopulates it, and
// (if a notifier is configured) tells every other process to do the same.
// Called after every admin settings mutation.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	if c.notify != nil {
		c.notify.Publish(ctx)
	}
}

// OnRemoteInvalidate is registered as the Redis subscription callback so a
// PATCH /admin/settings on one process clears the cache on every replica.
func (c *Cache) OnRemoteInvalidate() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// refresh repopulates the entire map from the database in one query. The
// database call is never made while mu is held.
func (c *Cache) refresh(ctx context.Context) error {
	rows, err := c.src.GetAll(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	next := make(map[string]entry, len(rows))
	for _, row := range rows {
		next[row.Key] = entry{value: row.Value, fetchedAt: now}
	}

	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()
	return nil
}
