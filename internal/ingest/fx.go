// Package ingest assembles the ingestion pipeline.
package ingest

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/usageguard/internal/ingest/service"
)

// Module wires the ingestion service.
var Module = fx.Module("ingest",
	fx.Provide(service.New),
)
