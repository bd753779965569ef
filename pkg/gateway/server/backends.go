package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/nandi-live/pkg/gateway/config"
	"github.com/vango-go/nandi-live/pkg/gateway/directory"
	"github.com/vango-go/nandi-live/pkg/gateway/handlers"
)

// Backends are the stores the gateway reads farmer profiles from.
type Backends struct {
	Directory directory.Directory

	// Probes are checked by /readyz.
	Probes map[string]handlers.Pinger

	closers []func(context.Context) error
}

// OpenBackends connects the Mongo directory and, when REDIS_ADDR is set, puts
// the Redis profile cache in front of it.
func OpenBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mongoDir, err := directory.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	if err != nil {
		return nil, err
	}
	b := &Backends{
		Directory: mongoDir,
		Probes:    map[string]handlers.Pinger{"mongo": mongoDir},
		closers:   []func(context.Context) error{mongoDir.Close},
	}

	if cfg.RedisAddr == "" {
		return b, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	b.closers = append(b.closers, func(context.Context) error { return rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The cache is optional; lookups fall through to Mongo when it is down.
		logger.Warn("profile cache unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	}
	b.Directory = directory.Cached{
		Next:    mongoDir,
		KV:      rdb,
		TTL:     cfg.ProfileCacheTTL,
		MissTTL: cfg.ProfileMissTTL,
		Logger:  logger,
	}
	b.Probes["redis"] = redisProbe{rdb}
	return b, nil
}

// StaticBackends serves a fixed directory, for tests and local runs.
func StaticBackends(dir directory.Directory) *Backends {
	return &Backends{Directory: dir}
}

func (b *Backends) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close backends: %w", err)
	}
	return nil
}

type redisProbe struct{ client *redis.Client }

func (p redisProbe) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
