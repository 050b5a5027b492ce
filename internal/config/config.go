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
	LogLevel    string
	LogFormat   string
	NodeID      int64

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
	DBConnMaxIdleTime int
	DBAutoMigrate     bool
	DBMetrics         bool

	Redis     RedisConfig
	Telemetry TelemetryConfig
	Rates     RatesConfig

	Payment     PaymentConfig
	Settlement  SettlementConfig
	Idempotency IdempotencyConfig
	Scheduler   SchedulerConfig
	RateLimit   RateLimitConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// TelemetryConfig controls OTLP export. Spans and metrics stay in-process when
// Endpoint is empty.
type TelemetryConfig struct {
	Enabled        bool
	Endpoint       string
	Protocol       string
	SampleRatio    float64
	MetricInterval time.Duration
}

type RatesConfig struct {
	ProviderURL     string
	ProviderAPIKey  string
	ProviderTimeout time.Duration
	BaseCurrencies  []string
	CacheTTL        time.Duration
	QuoteValidity   time.Duration
}

type PaymentConfig struct {
	// FeeBasis selects which amount the fee percentage applies to: "source" or "target".
	FeeBasis          string
	ProcessingDelay   time.Duration
	ProcessingFailure bool
}

type SettlementConfig struct {
	Location        string
	TransferDelay   time.Duration
	TransferFailure bool
	DailyRunHour    int
}

type IdempotencyConfig struct {
	TTL time.Duration
}

// RateLimitConfig bounds payment creation per merchant as a token bucket.
type RateLimitConfig struct {
	Enabled       bool
	MerchantRate  float64
	MerchantBurst int
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	// Jobs limits the jobs this process runs. Empty runs all of them.
	Jobs []string
}

const (
	FeeBasisSource = "source"
	FeeBasisTarget = "target"
)

// Module provides Config loaded from the environment.
var Module = fx.Module("config",
	fx.Provide(Load, NewRiskConfigHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "fxpay"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getenv("LOG_FORMAT", "json")),
		NodeID:      getenvInt64("NODE_ID", 1),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "fxpay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", false),
		DBMetrics:         getenvBool("DATABASE_METRICS", true),

		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Telemetry: TelemetryConfig{
			Enabled:        getenvBool("OTEL_ENABLED", true),
			Endpoint:       strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
			Protocol:       strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SampleRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			MetricInterval: getenvDuration("OTEL_METRIC_INTERVAL", 30*time.Second),
		},
		Rates: RatesConfig{
			ProviderURL:     strings.TrimSpace(getenv("FX_PROVIDER_URL", "https://cdn.jsdelivr.net/npm/@fawazahmed0/currency-api")),
			ProviderAPIKey:  strings.TrimSpace(getenv("FX_PROVIDER_API_KEY", "")),
			ProviderTimeout: getenvDuration("FX_PROVIDER_TIMEOUT", 10*time.Second),
			BaseCurrencies:  parseList(getenv("FX_BASE_CURRENCIES", "INR,USD,EUR,GBP")),
			CacheTTL:        getenvDuration("FX_CACHE_TTL", time.Hour),
			QuoteValidity:   getenvDuration("FX_QUOTE_VALIDITY", 24*time.Hour),
		},
		Payment: PaymentConfig{
			FeeBasis:          normalizeFeeBasis(getenv("PAYMENT_FEE_BASIS", FeeBasisSource)),
			ProcessingDelay:   getenvDuration("PAYMENT_PROCESSING_DELAY", time.Second),
			ProcessingFailure: getenvBool("PAYMENT_SIMULATE_FAILURE", false),
		},
		Settlement: SettlementConfig{
			Location:        getenv("SETTLEMENT_TIMEZONE", "UTC"),
			TransferDelay:   getenvDuration("SETTLEMENT_TRANSFER_DELAY", 500*time.Millisecond),
			TransferFailure: getenvBool("SETTLEMENT_SIMULATE_FAILURE", false),
			DailyRunHour:    getenvInt("SETTLEMENT_DAILY_RUN_HOUR", 2),
		},
		Idempotency: IdempotencyConfig{
			TTL: getenvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			Jobs:        parseList(getenv("SCHEDULER_JOBS", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", true),
			MerchantRate:  getenvFloat("RATE_LIMIT_MERCHANT_RATE", 20),
			MerchantBurst: getenvInt("RATE_LIMIT_MERCHANT_BURST", 40),
		},
	}
}

// LoadLocation resolves the settlement timezone, falling back to UTC.
func (c SettlementConfig) LoadLocation() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Location))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

func normalizeFeeBasis(raw string) string {
	if strings.ToLower(strings.TrimSpace(raw)) == FeeBasisTarget {
		return FeeBasisTarget
	}
	return FeeBasisSource
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
