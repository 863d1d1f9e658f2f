// Package fraud assembles the pattern fraud detector.
package fraud

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/usageguard/internal/aggregation"
	"github.com/smallbiznis/usageguard/internal/config"
	"github.com/smallbiznis/usageguard/internal/fraud/domain"
	"github.com/smallbiznis/usageguard/internal/fraud/repository"
	"github.com/smallbiznis/usageguard/internal/fraud/service"
)

// Module wires baseline storage and the fraud service. Memory mode follows
// the dedup backend so a redis-free run stays redis-free throughout.
var Module = fx.Module("fraud",
	fx.Provide(
		provideRepository,
		func(tr *aggregation.Translator) service.UsageSource { return tr },
		service.New,
	),
)

func provideRepository(cfg config.Config, client *redis.Client, log *zap.Logger) domain.Repository {
	if cfg.Dedup.Backend == config.DedupBackendMemory {
		log.Info("baseline store ready", zap.String("backend", "memory"))
		return repository.NewMemory()
	}
	log.Info("baseline store ready",
		zap.String("backend", "redis"),
		zap.Duration("ttl", cfg.Analytics.BaselineTTL()),
	)
	return repository.NewRedis(client, cfg.Analytics.BaselineTTL())
}
