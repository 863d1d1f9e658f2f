package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/smallbiznis/usageguard/internal/aggregation"
	"github.com/smallbiznis/usageguard/internal/anomaly"
	"github.com/smallbiznis/usageguard/internal/clock"
	"github.com/smallbiznis/usageguard/internal/config"
	"github.com/smallbiznis/usageguard/internal/dedup"
	eventdomain "github.com/smallbiznis/usageguard/internal/event/domain"
	eventrepo "github.com/smallbiznis/usageguard/internal/event/repository"
	fraudrepo "github.com/smallbiznis/usageguard/internal/fraud/repository"
	fraudservice "github.com/smallbiznis/usageguard/internal/fraud/service"
	ingestservice "github.com/smallbiznis/usageguard/internal/ingest/service"
	"github.com/smallbiznis/usageguard/internal/liveevents"
	"github.com/smallbiznis/usageguard/internal/meter"
	meterdomain "github.com/smallbiznis/usageguard/internal/meter/domain"
	"github.com/smallbiznis/usageguard/internal/observability"
	obsmetrics "github.com/smallbiznis/usageguard/internal/observability/metrics"
	"github.com/smallbiznis/usageguard/internal/ratelimit"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&eventdomain.UsageEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	m, err := obsmetrics.New(obsmetrics.Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	httpMetrics, err := obsmetrics.NewHTTPMetrics(obsmetrics.Config{}, noop.NewMeterProvider())
	require.NoError(t, err)

	cfg := config.Config{
		HTTPAddr:  ":0",
		Dedup:     config.DedupConfig{RetentionDays: 30},
		RateLimit: config.RateLimitConfig{DefaultLimit: 100, WindowSeconds: 60},
		Analytics: config.AnalyticsConfig{
			BaselineDays:          30,
			ZScoreThreshold:       3.0,
			SimilarityThreshold:   0.9,
			VolumeChangeThreshold: 50,
			BuildQueriesPerSecond: 1000,
		},
	}
	clk := clock.NewFakeClock(testNow)
	catalog, err := meterdomain.NewCatalog(meter.DefaultMetrics())
	require.NoError(t, err)
	holder := meter.NewStaticHolder(catalog)
	events := eventrepo.Provide(gdb)
	translator := aggregation.NewTranslator(holder, events)
	hub := liveevents.NewHub()

	ingestSvc := ingestservice.New(ingestservice.Params{
		Guard:   dedup.NewMemoryGuard(30*24*time.Hour, clk),
		Limiter: ratelimit.NewMemoryWindow(time.Minute, clk),
		Events:  events,
		Node:    node,
		Hub:     hub,
		Clock:   clk,
		Config:  cfg,
		Metrics: m,
		Log:     zap.NewNop(),
	})
	fraudSvc := fraudservice.New(fraudservice.Params{
		Baselines: fraudrepo.NewMemory(),
		Usage:     translator,
		Clock:     clk,
		Config:    cfg,
		Metrics:   m,
		Log:       zap.NewNop(),
	})

	engine := NewEngine(observability.Config{LogLevel: "error", LogFormat: "console"}, httpMetrics)
	return NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		IngestSvc:  ingestSvc,
		Translator: translator,
		AnomalyDet: anomaly.NewDetector(translator, clk, cfg, zap.NewNop()),
		FraudSvc:   fraudSvc,
		Live:       hub,
		ObsMetrics: m,
		Log:        zap.NewNop(),
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func ingestBody(txns ...string) map[string]interface{} {
	events := make([]map[string]interface{}, 0, len(txns))
	for _, txn := range txns {
		events = append(events, map[string]interface{}{
			"transaction_id": txn,
			"customer_id":    "cust_1",
			"event_type":     "api_call",
			"timestamp":      testNow.Add(-time.Minute).UnixMilli(),
		})
	}
	return map[string]interface{}{"events": events}
}

func TestIngestBatchEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/usage/batch", ingestBody("txn_1", "txn_2"))
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		BatchID    string `json:"batch_id"`
		Accepted   int    `json:"accepted"`
		Duplicates int    `json:"duplicates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, 2, res.Accepted)

	rec = doJSON(t, s, http.MethodPost, "/v1/usage/batch", ingestBody("txn_1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Zero(t, res.Accepted)
	assert.Equal(t, 1, res.Duplicates)
}

func TestIngestBatchEndpointBadJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/usage/batch", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryUsageEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/usage/batch", ingestBody("txn_1", "txn_2", "txn_3"))
	require.Equal(t, http.StatusOK, rec.Code)

	path := fmt.Sprintf("/v1/usage/aggregate?customer_id=cust_1&metric_code=api_calls&start=%s&end=%s",
		testNow.Add(-time.Hour).Format(time.RFC3339),
		testNow.Format(time.RFC3339),
	)
	rec = doJSON(t, s, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Value float64 `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3.0, res.Value)
}

func TestQueryUsageUnknownMetric(t *testing.T) {
	s := newTestServer(t)

	path := fmt.Sprintf("/v1/usage/aggregate?customer_id=cust_1&metric_code=nope&start=%s&end=%s",
		testNow.Add(-time.Hour).Format(time.RFC3339),
		testNow.Format(time.RFC3339),
	)
	rec := doJSON(t, s, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryUsageMissingParams(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/v1/usage/aggregate?customer_id=cust_1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckAdmissionEndpoint(t *testing.T) {
	s := newTestServer(t)

	body := map[string]interface{}{"customer_id": "cust_1", "limit": 1}
	rec := doJSON(t, s, http.MethodPost, "/v1/admission/check", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/admission/check", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCheckAnomalyEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/usage/batch", ingestBody("txn_1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/analytics/anomaly/check", map[string]interface{}{
		"customer_id": "cust_1",
		"metric_code": "api_calls",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Severity string `json:"severity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.Severity)
}

// The period under test is caller-selectable, not pinned to today.
func TestCheckAnomalyEndpointExplicitPeriod(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/usage/batch", ingestBody("txn_1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/analytics/anomaly/check", map[string]interface{}{
		"customer_id":   "cust_1",
		"metric_code":   "api_calls",
		"current_start": "2026-03-15T00:00:00Z",
		"current_end":   "2026-03-15T12:00:00Z",
		"baseline_days": 7,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		CurrentValue float64 `json:"current_value"`
		Severity     string  `json:"severity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1.0, res.CurrentValue)
	assert.NotEmpty(t, res.Severity)
}

func TestCheckAnomalyEndpointInvertedPeriod(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/analytics/anomaly/check", map[string]interface{}{
		"customer_id":   "cust_1",
		"metric_code":   "api_calls",
		"current_start": "2026-03-15T12:00:00Z",
		"current_end":   "2026-03-15T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFraudEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/analytics/fraud/baselines", map[string]interface{}{
		"customer_id": "cust_1",
		"metric_code": "api_calls",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/analytics/fraud/check", map[string]interface{}{
		"customer_id": "cust_1",
		"metric_code": "api_calls",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		BaselineFound bool      `json:"baseline_found"`
		Similarity    float64   `json:"similarity"`
		IsFraud       bool      `json:"is_fraud"`
		CurrentVector []float64 `json:"current_vector"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.BaselineFound)
	assert.Equal(t, 1.0, res.Similarity)
	assert.False(t, res.IsFraud)
	assert.Len(t, res.CurrentVector, 24)
}

// An explicit build window and check date are honored end to end.
func TestFraudEndpointsExplicitDate(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/analytics/fraud/baselines", map[string]interface{}{
		"customer_id": "cust_1",
		"metric_code": "api_calls",
		"days":        7,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/analytics/fraud/check", map[string]interface{}{
		"customer_id": "cust_1",
		"metric_code": "api_calls",
		"date":        "2026-03-14",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Weekday string `json:"weekday"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Saturday", res.Weekday)
}

func TestCheckFraudEndpointBadDate(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/analytics/fraud/check", map[string]interface{}{
		"customer_id": "cust_1",
		"metric_code": "api_calls",
		"date":        "last tuesday",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/analytics/fraud/check", map[string]interface{}{
		"customer_id": "cust_1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
