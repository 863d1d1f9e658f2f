package scheduler

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/smallbiznis/usageguard/internal/config"
	fraudservice "github.com/smallbiznis/usageguard/internal/fraud/service"
)

// Module wires the nightly rebuild loop. Memory mode runs unlocked; the
// redis lock only matters with multiple instances sharing a store.
var Module = fx.Module("scheduler",
	fx.Provide(
		func(svc *fraudservice.Service) BaselineBuilder { return svc },
		provideLocker,
		New,
	),
	fx.Invoke(start),
)

func provideLocker(cfg config.Config, client *redis.Client) *Locker {
	if cfg.Dedup.Backend == config.DedupBackendMemory {
		return nil
	}
	return NewLocker(client)
}

func start(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.Scheduler.Enabled {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sched.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
