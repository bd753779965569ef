package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "farmer:profile:"
	missMarker     = "-"
)

// KV is the slice of the go-redis client the cache uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cached is a read-through profile cache in front of another Directory.
// Not-found results are cached for MissTTL (0 disables negative caching).
// Redis errors are logged and fall through to Next.
type Cached struct {
	Next    Directory
	KV      KV
	TTL     time.Duration
	MissTTL time.Duration
	Logger  *slog.Logger
}

func (c Cached) Lookup(ctx context.Context, id SessionIdentity) (Profile, error) {
	key := cacheKeyPrefix + id.String()

	raw, err := c.KV.Get(ctx, key).Result()
	switch {
	case err == nil && raw == missMarker:
		return Profile{}, ErrIdentityNotFound
	case err == nil:
		var p Profile
		if jsonErr := json.Unmarshal([]byte(raw), &p); jsonErr == nil {
			return p, nil
		}
		c.logger().Warn("discarding corrupt cached profile", "identity", id.String())
	case errors.Is(err, redis.Nil):
	default:
		c.logger().Warn("profile cache read failed", "identity", id.String(), "error", err)
	}

	p, err := c.Next.Lookup(ctx, id)
	if errors.Is(err, ErrIdentityNotFound) {
		if c.MissTTL > 0 {
			c.store(ctx, key, missMarker, c.MissTTL)
		}
		return Profile{}, err
	}
	if err != nil {
		return Profile{}, err
	}

	if b, jsonErr := json.Marshal(p); jsonErr == nil {
		c.store(ctx, key, string(b), c.TTL)
	}
	return p, nil
}

func (c Cached) store(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.KV.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger().Warn("profile cache write failed", "key", key, "error", err)
	}
}

func (c Cached) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
