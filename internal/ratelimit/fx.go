package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/usageguard/internal/clock"
	"github.com/smallbiznis/usageguard/internal/config"
)

// Module wires the admission strategy selected by RATE_LIMIT_STRATEGY.
var Module = fx.Module("ratelimit",
	fx.Provide(ProvideLimiter),
)

// ProvideLimiter returns the configured limiter implementation.
func ProvideLimiter(lc fx.Lifecycle, cfg config.Config, client *redis.Client, clk clock.Clock, log *zap.Logger) Limiter {
	window := cfg.RateLimit.Window()
	switch cfg.RateLimit.Strategy {
	case config.RateLimitStrategyPipelined:
		log.Info("admission limiter ready",
			zap.String("strategy", config.RateLimitStrategyPipelined),
			zap.Duration("window", window),
		)
		return NewPipelinedWindow(client, window, clk)
	case config.RateLimitStrategyMemory:
		limiter := NewMemoryWindow(window, clk)
		janitorCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				limiter.StartJanitor(janitorCtx, time.Minute)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
		log.Info("admission limiter ready",
			zap.String("strategy", config.RateLimitStrategyMemory),
			zap.Duration("window", window),
		)
		return limiter
	default:
		log.Info("admission limiter ready",
			zap.String("strategy", config.RateLimitStrategyAtomic),
			zap.Duration("window", window),
		)
		return NewAtomicWindow(client, window, clk)
	}
}
