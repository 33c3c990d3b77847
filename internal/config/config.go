package config

import (
	"os"
	"strings"
	"time"

	"github.com/graphpulse/forcemap/internal/utils"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	// Layout engine settings
	LayoutThreads         int     // worker count; 0 = one per CPU
	LayoutIterations      int     // number of force-directed iterations
	LayoutSeparation      float64 // WSPD separation ratio
	LayoutRepulsion       float64 // repulsive force strength
	LayoutEdgeStiffness   float64 // attractive spring strength
	LayoutSoftening       float64 // additive epsilon for coincident points
	LayoutMaxStep         float64 // initial displacement clamp
	LayoutEpsilon         float64 // convergence threshold (0 = run all iterations)
	LayoutDirectThreshold int     // pair expansion size evaluated brute-force
	LayoutMaxNodes        int     // maximum nodes accepted by the API
	// Persistence
	PositionBatchSize     int // batch size for position write-back
	DBStatementTimeout    time.Duration
	LayoutRefreshInterval time.Duration // periodic re-layout of unpositioned graphs (0 = disabled)
	// Result cache
	CacheEnabled bool
	CacheTTL     time.Duration
	CacheMaxCost int64 // approximate cache size in bytes
	// HTTP server settings
	ListenAddr           string
	RateLimitGlobal      float64  // requests per second globally
	RateLimitGlobalBurst int      // burst size for global rate limit
	RateLimitPerIP       float64  // requests per second per IP
	RateLimitPerIPBurst  int      // burst size for per-IP rate limit
	EnableRateLimit      bool     // enable rate limiting middleware
	CORSAllowedOrigins   []string // allowed CORS origins
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	cached = &Config{
		LayoutThreads:         utils.GetEnvAsInt("LAYOUT_THREADS", 0),
		LayoutIterations:      utils.GetEnvAsInt("LAYOUT_ITERATIONS", 400),
		LayoutSeparation:      utils.GetEnvAsFloat("LAYOUT_SEPARATION", 1.0),
		LayoutRepulsion:       utils.GetEnvAsFloat("LAYOUT_REPULSION", 2500.0),
		LayoutEdgeStiffness:   utils.GetEnvAsFloat("LAYOUT_EDGE_STIFFNESS", 1.0),
		LayoutSoftening:       utils.GetEnvAsFloat("LAYOUT_SOFTENING", 0.01),
		LayoutMaxStep:         utils.GetEnvAsFloat("LAYOUT_MAX_STEP", 10.0),
		LayoutEpsilon:         utils.GetEnvAsFloat("LAYOUT_EPSILON", 0.0),
		LayoutDirectThreshold: utils.GetEnvAsInt("LAYOUT_DIRECT_THRESHOLD", 25),
		LayoutMaxNodes:        utils.GetEnvAsInt("LAYOUT_MAX_NODES", 100000),

		PositionBatchSize:     utils.GetEnvAsInt("POSITION_BATCH_SIZE", 5000),
		DBStatementTimeout:    utils.GetEnvAsDuration("DB_STATEMENT_TIMEOUT", 25*time.Second),
		LayoutRefreshInterval: utils.GetEnvAsDuration("LAYOUT_REFRESH_INTERVAL", 0),

		CacheEnabled: utils.GetEnvAsBool("CACHE_ENABLED", true),
		CacheTTL:     utils.GetEnvAsDuration("CACHE_TTL", 10*time.Minute),
		CacheMaxCost: int64(utils.GetEnvAsInt("CACHE_MAX_COST", 256<<20)),

		ListenAddr:           strings.TrimSpace(os.Getenv("LISTEN_ADDR")),
		RateLimitGlobal:      utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 100.0),
		RateLimitGlobalBurst: utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 200),
		RateLimitPerIP:       utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 10.0),
		RateLimitPerIPBurst:  utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 20),
		EnableRateLimit:      utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),

		LogLevel:          strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
	}
	if cached.ListenAddr == "" {
		cached.ListenAddr = ":8000"
	}
	if cached.LogLevel == "" {
		cached.LogLevel = "info"
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}

	corsOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if corsOrigins == "" {
		cached.CORSAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	} else {
		cached.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i := range cached.CORSAllowedOrigins {
			cached.CORSAllowedOrigins[i] = strings.TrimSpace(cached.CORSAllowedOrigins[i])
		}
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }
