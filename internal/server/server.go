// Package server exposes the HTTP API: batch ingestion, usage queries,
// admission checks, anomaly and fraud analytics, and the live event feed.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/usageguard/internal/aggregation"
	"github.com/smallbiznis/usageguard/internal/anomaly"
	"github.com/smallbiznis/usageguard/internal/config"
	fraudservice "github.com/smallbiznis/usageguard/internal/fraud/service"
	ingestdomain "github.com/smallbiznis/usageguard/internal/ingest/domain"
	"github.com/smallbiznis/usageguard/internal/liveevents"
	"github.com/smallbiznis/usageguard/internal/observability"
	obsmiddleware "github.com/smallbiznis/usageguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/usageguard/internal/observability/metrics"
	obstracing "github.com/smallbiznis/usageguard/internal/observability/tracing"
)

// Module wires the engine, handlers and the serving lifecycle.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the shared middleware chain.
func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Server holds the handler dependencies.
type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	ingestSvc  ingestdomain.Service
	translator *aggregation.Translator
	anomalyDet *anomaly.Detector
	fraudSvc   *fraudservice.Service
	live       *liveevents.Hub
	obsMetrics *obsmetrics.Metrics
	log        *zap.Logger
}

// ServerParams collects handler dependencies.
type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	IngestSvc  ingestdomain.Service
	Translator *aggregation.Translator
	AnomalyDet *anomaly.Detector
	FraudSvc   *fraudservice.Service
	Live       *liveevents.Hub `optional:"true"`
	ObsMetrics *obsmetrics.Metrics
	Log        *zap.Logger
}

// NewServer registers all routes on the engine.
func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		ingestSvc:  p.IngestSvc,
		translator: p.Translator,
		anomalyDet: p.AnomalyDet,
		fraudSvc:   p.FraudSvc,
		live:       p.Live,
		obsMetrics: p.ObsMetrics,
		log:        p.Log.Named("server"),
	}

	v1 := s.engine.Group("/v1")
	v1.POST("/usage/batch", s.IngestBatch)
	v1.GET("/usage/aggregate", s.QueryUsage)
	v1.GET("/usage/live/:event_type", s.StreamLiveEvents)
	v1.POST("/admission/check", s.CheckAdmission)
	v1.POST("/analytics/anomaly/check", s.CheckAnomaly)
	v1.POST("/analytics/fraud/baselines", s.BuildFraudBaselines)
	v1.POST("/analytics/fraud/check", s.CheckFraud)

	return s
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
