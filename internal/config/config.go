package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Dedup     DedupConfig
	RateLimit RateLimitConfig
	Analytics AnalyticsConfig
	Scheduler SchedulerConfig
}

// DedupConfig controls the idempotency guard.
type DedupConfig struct {
	Backend       string // redis or memory
	RetentionDays int
}

// RateLimitConfig controls the admission controller.
type RateLimitConfig struct {
	Strategy      string // atomic, pipelined or memory
	DefaultLimit  int
	WindowSeconds int
}

// AnalyticsConfig controls the anomaly and fraud detectors.
type AnalyticsConfig struct {
	BaselineDays          int
	ZScoreThreshold       float64
	SimilarityThreshold   float64
	VolumeChangeThreshold float64
	BaselineTTLDays       int
	BuildQueriesPerSecond float64
}

// SchedulerConfig controls the baseline rebuild job.
type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	RunTimeout  time.Duration
}

const (
	DedupBackendRedis  = "redis"
	DedupBackendMemory = "memory"

	RateLimitStrategyAtomic    = "atomic"
	RateLimitStrategyPipelined = "pipelined"
	RateLimitStrategyMemory    = "memory"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "usageguard"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "usageguard"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Dedup: DedupConfig{
			Backend:       normalizeBackend(getenv("DEDUP_BACKEND", DedupBackendRedis)),
			RetentionDays: getenvInt("DEDUP_RETENTION_DAYS", 30),
		},
		RateLimit: RateLimitConfig{
			Strategy:      normalizeStrategy(getenv("RATE_LIMIT_STRATEGY", RateLimitStrategyAtomic)),
			DefaultLimit:  getenvInt("RATE_LIMIT_DEFAULT_LIMIT", 1000),
			WindowSeconds: getenvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Analytics: AnalyticsConfig{
			BaselineDays:          getenvInt("ANALYTICS_BASELINE_DAYS", 30),
			ZScoreThreshold:       getenvFloat("ANALYTICS_ZSCORE_THRESHOLD", 3.0),
			SimilarityThreshold:   getenvFloat("ANALYTICS_SIMILARITY_THRESHOLD", 0.9),
			VolumeChangeThreshold: getenvFloat("ANALYTICS_VOLUME_CHANGE_THRESHOLD", 50),
			BaselineTTLDays:       getenvInt("ANALYTICS_BASELINE_TTL_DAYS", 90),
			BuildQueriesPerSecond: getenvFloat("ANALYTICS_BUILD_QPS", 20),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: time.Duration(getenvInt("SCHEDULER_RUN_INTERVAL_SECONDS", 86400)) * time.Second,
			RunTimeout:  time.Duration(getenvInt("SCHEDULER_RUN_TIMEOUT_SECONDS", 1800)) * time.Second,
		},
	}
}

// Retention returns the idempotency marker lifetime.
func (c DedupConfig) Retention() time.Duration {
	days := c.RetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// Window returns the admission window length.
func (c RateLimitConfig) Window() time.Duration {
	seconds := c.WindowSeconds
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// BaselineTTL returns the weekday baseline retention.
func (c AnalyticsConfig) BaselineTTL() time.Duration {
	days := c.BaselineTTLDays
	if days <= 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

func normalizeBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case DedupBackendMemory:
		return DedupBackendMemory
	default:
		return DedupBackendRedis
	}
}

func normalizeStrategy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case RateLimitStrategyPipelined:
		return RateLimitStrategyPipelined
	case RateLimitStrategyMemory:
		return RateLimitStrategyMemory
	default:
		return RateLimitStrategyAtomic
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// Module wires application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
)
