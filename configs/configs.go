// Package configs provides application configuration loaded from environment variables.
// All configuration is externalized via environment variables for 12-factor app compliance.
package configs

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// Server contains HTTP/WebSocket server settings.
	Server ServerConfig

	// Redis contains Redis connection settings for the quote cache.
	Redis RedisConfig

	// Auth contains token validation settings for WebSocket clients.
	Auth AuthConfig

	// Exchanges contains upstream exchange adapter settings.
	Exchanges ExchangesConfig

	// Cache contains TTL settings per cached entity kind.
	Cache CacheConfig

	// Detector contains pump detection thresholds.
	Detector DetectorConfig

	// Distributor contains distribution cycle settings.
	Distributor DistributorConfig

	// Audit contains Kafka settings for the audit event stream.
	Audit AuditConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the address the HTTP/WebSocket server binds to.
	ListenAddr string

	// GinMode selects the gin mode ("debug", "release" or "test").
	GinMode string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string

	// Password is the Redis password. Empty means no auth.
	Password string

	// DB is the Redis logical database number.
	DB int
}

// AuthConfig holds settings for validating client tokens.
type AuthConfig struct {
	// JWTSecret is the HMAC secret used to verify access tokens.
	JWTSecret string
}

// ExchangesConfig holds upstream exchange settings.
type ExchangesConfig struct {
	// Enabled is the list of exchange names to poll (comma-separated in env).
	Enabled []string

	// Symbols is the list of market symbols to aggregate (comma-separated in env).
	Symbols []string

	// BinanceBaseURL is the Binance REST API base URL.
	BinanceBaseURL string

	// GateioBaseURL is the Gate.io REST API base URL.
	GateioBaseURL string

	// RequestTimeoutSeconds is the per-request timeout for upstream calls.
	RequestTimeoutSeconds int

	// RequestsPerSecond caps the outbound request rate per exchange.
	RequestsPerSecond int

	// MinSources drops symbols reported by fewer exchanges than this
	// from the aggregated view. 1 keeps every reported symbol.
	MinSources int
}

// CacheConfig holds cache TTLs in seconds per entity kind.
type CacheConfig struct {
	// TickerTTLSeconds is the TTL for individual and aggregated tickers.
	TickerTTLSeconds int

	// OrderBookTTLSeconds is the TTL for order book snapshots.
	OrderBookTTLSeconds int

	// CandleTTLSeconds is the TTL for candle series.
	CandleTTLSeconds int

	// PumpTTLSeconds is the TTL for pump event records.
	PumpTTLSeconds int
}

// DetectorConfig holds pump detection thresholds.
type DetectorConfig struct {
	// WindowMinutes is the size of the rolling price window.
	WindowMinutes int

	// ThresholdPercent is the price change percentage that opens a pump.
	ThresholdPercent float64

	// VolumeMultiplier flags a volume surge when current volume exceeds
	// the window average by this factor.
	VolumeMultiplier float64

	// CooldownMinutes is how long an ended pump is retained before purge.
	CooldownMinutes int
}

// DistributorConfig holds distribution cycle settings.
type DistributorConfig struct {
	// IntervalSeconds is the delay between distribution cycles.
	IntervalSeconds int
}

// AuditConfig holds Kafka settings for audit events.
type AuditConfig struct {
	// Broker is the Kafka broker address (e.g., "localhost:9092").
	Broker string

	// Topic is the Kafka topic for audit events.
	Topic string

	// Enabled toggles audit publishing. When false events are logged only.
	Enabled bool
}

// getExchangesConfig loads upstream exchange settings from environment.
func getExchangesConfig() ExchangesConfig {
	return ExchangesConfig{
		Enabled:               getEnvList("EXCHANGES_ENABLED", "binance,gateio"),
		Symbols:               getEnvList("MARKET_SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT"),
		BinanceBaseURL:        getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		GateioBaseURL:         getEnv("GATEIO_BASE_URL", "https://api.gateio.ws"),
		RequestTimeoutSeconds: getEnvInt("EXCHANGE_REQUEST_TIMEOUT_SECONDS", 15),
		RequestsPerSecond:     getEnvInt("EXCHANGE_REQUESTS_PER_SECOND", 10),
		MinSources:            getEnvInt("AGGREGATE_MIN_SOURCES", 1),
	}
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	return &AppConfig{
		Server: ServerConfig{
			ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
			GinMode:    getEnv("GIN_MODE", "release"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Exchanges: getExchangesConfig(),
		Cache: CacheConfig{
			TickerTTLSeconds:    getEnvInt("CACHE_TICKER_TTL_SECONDS", 60),
			OrderBookTTLSeconds: getEnvInt("CACHE_ORDERBOOK_TTL_SECONDS", 30),
			CandleTTLSeconds:    getEnvInt("CACHE_CANDLE_TTL_SECONDS", 300),
			PumpTTLSeconds:      getEnvInt("CACHE_PUMP_TTL_SECONDS", 600),
		},
		Detector: DetectorConfig{
			WindowMinutes:    getEnvInt("PUMP_WINDOW_MINUTES", 15),
			ThresholdPercent: getEnvFloat("PUMP_THRESHOLD_PERCENT", 5.0),
			VolumeMultiplier: getEnvFloat("PUMP_VOLUME_MULTIPLIER", 2.0),
			CooldownMinutes:  getEnvInt("PUMP_COOLDOWN_MINUTES", 5),
		},
		Distributor: DistributorConfig{
			IntervalSeconds: getEnvInt("DISTRIBUTION_INTERVAL_SECONDS", 5),
		},
		Audit: AuditConfig{
			Broker:  getEnv("KAFKA_BROKER", "localhost:9092"),
			Topic:   getEnv("KAFKA_AUDIT_TOPIC", "pulse_audit"),
			Enabled: getEnvBool("AUDIT_ENABLED", false),
		},
	}
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma-separated environment variable into a slice.
// Entries are trimmed and empty entries dropped.
func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
