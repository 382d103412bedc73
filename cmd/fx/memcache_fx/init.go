package memcache_fx

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"payledger/internal/infra"
	"payledger/pkg/cache"
	mem "payledger/pkg/memcache"
)

var Module = fx.Provide(provideLeaseStore)

// provideLeaseStore shares leases through redis when REDIS_ADDR is set so that
// several instances can run side by side.
func provideLeaseStore(lc fx.Lifecycle, cfg *infra.Config) mem.LeaseStore {
	if cfg.RedisAddr == "" {
		return mem.NewLeases()
	}

	store := cache.NewRedisLeaseStore(cfg.RedisAddr, cfg.ServiceName)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			slog.Info("redis lease store connected", "addr", cfg.RedisAddr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store
}
