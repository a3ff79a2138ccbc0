package settings

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier fans cache-invalidation events out to every process sharing
// the deployment's Redis instance, so a settings mutation applied on one
// node is reflected by the in-memory caches of all the others without
// waiting for their next natural TTL expiry. The cache's map stays the only
// read path; Redis only ever carries the "go re-read" signal.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisNotifier constructs a notifier bound to addr/channel. It does not
// dial eagerly — go-redis connects lazily on first use.
func NewRedisNotifier(addr, channel string, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		logger:  logger,
	}
}

// Publish sends a single invalidation message. Failures are logged and
// swallowed — losing a fan-out message only delays other processes' next
// refresh to their own TTL, it never causes them to serve wrong data past
// the cache TTL boundary (Game.SettingsCacheTTL, GAME_SETTINGS_CACHE_TTL).
func (n *RedisNotifier) Publish(ctx context.Context) {
	if err := n.client.Publish(ctx, n.channel, "invalidate").Err(); err != nil {
		n.logger.Warn("settings redis notifier: publish failed", "error", err)
	}
}

// Subscribe starts a background goroutine that calls onInvalidate for every
// message received on the configured channel, until ctx is cancelled.
func (n *RedisNotifier) Subscribe(ctx context.Context, onInvalidate func()) {
	sub := n.client.Subscribe(ctx, n.channel)
	ch := sub.Channel()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				onInvalidate()
			}
		}
	}()
}
