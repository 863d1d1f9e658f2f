package dedup

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/usageguard/internal/clock"
	"github.com/smallbiznis/usageguard/internal/config"
)

// Module wires the duplicate guard backend selected by DEDUP_BACKEND.
var Module = fx.Module("dedup",
	fx.Provide(ProvideGuard),
)

// ProvideGuard returns the configured guard implementation.
func ProvideGuard(lc fx.Lifecycle, cfg config.Config, client *redis.Client, clk clock.Clock, log *zap.Logger) Guard {
	switch cfg.Dedup.Backend {
	case config.DedupBackendMemory:
		guard := NewMemoryGuard(cfg.Dedup.Retention(), clk)
		janitorCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				guard.StartJanitor(janitorCtx, janitorInterval)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
		log.Info("dedup guard ready", zap.String("backend", "memory"))
		return guard
	default:
		log.Info("dedup guard ready",
			zap.String("backend", "redis"),
			zap.Duration("retention", cfg.Dedup.Retention()),
		)
		return NewRedisGuard(client, cfg.Dedup.Retention())
	}
}
