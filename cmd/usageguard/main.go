package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/usageguard/internal/aggregation"
	"github.com/smallbiznis/usageguard/internal/anomaly"
	"github.com/smallbiznis/usageguard/internal/clock"
	"github.com/smallbiznis/usageguard/internal/config"
	"github.com/smallbiznis/usageguard/internal/dedup"
	"github.com/smallbiznis/usageguard/internal/event"
	"github.com/smallbiznis/usageguard/internal/fraud"
	"github.com/smallbiznis/usageguard/internal/ingest"
	"github.com/smallbiznis/usageguard/internal/liveevents"
	"github.com/smallbiznis/usageguard/internal/meter"
	"github.com/smallbiznis/usageguard/internal/migration"
	"github.com/smallbiznis/usageguard/internal/observability"
	"github.com/smallbiznis/usageguard/internal/ratelimit"
	"github.com/smallbiznis/usageguard/internal/redisconn"
	"github.com/smallbiznis/usageguard/internal/scheduler"
	"github.com/smallbiznis/usageguard/internal/server"
	"github.com/smallbiznis/usageguard/pkg/db"
)

func main() {
	fx.New(
		// Infrastructure
		config.Module,
		observability.Module,
		clock.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		redisconn.Module,
		migration.Module,

		// Domain
		meter.Module,
		event.Module,
		dedup.Module,
		ratelimit.Module,
		aggregation.Module,
		anomaly.Module,
		fraud.Module,
		liveevents.Module,
		ingest.Module,
		scheduler.Module,

		// Transport
		server.Module,
	).Run()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
