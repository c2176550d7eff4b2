package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the application Config.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRulesHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Log       LogConfig
	Telemetry TelemetryConfig

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
	DBLogLevel        string
	DBSlowQuery       time.Duration

	Storage  StorageConfig
	Gateway  GatewayConfig
	Signer   SignerConfig
	Registry RegistryConfig
	Ledger   LedgerConfig
	Events   EventsConfig

	Scheduler   SchedulerConfig
	MetricsPush MetricsPushConfig

	RedisAddr     string
	RedisPassword string

	RulesPath string
}

type LogConfig struct {
	Level  string
	Format string
}

// TelemetryConfig drives the OTLP trace and metric exporters.
type TelemetryConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

type StorageConfig struct {
	Backend   string
	Dir       string
	GCSBucket string
	GCSPrefix string
}

type GatewayConfig struct {
	URL        string
	SandboxURL string
	Timeout    time.Duration
}

type SignerConfig struct {
	URL     string
	Timeout time.Duration
}

type RegistryConfig struct {
	URL       string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

type LedgerConfig struct {
	Source  string
	URL     string
	XLSXDir string
	Timeout time.Duration
}

type SchedulerConfig struct {
	Enabled    bool
	Interval   time.Duration
	BatchSize  int
	StuckAfter time.Duration
}

// MetricsPushConfig ships filing backlog gauges to a central Prometheus.
// Exporter is "prometheus_remote_write" or "prometheus_pushgateway"; an
// empty exporter disables pushing.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

type EventsConfig struct {
	PubSubProject string
	PubSubTopic   string
}

const (
	StorageBackendLocal = "local"
	StorageBackendGCS   = "gcs"

	LedgerSourceHTTP = "http"
	LedgerSourceXLSX = "xlsx"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "auditfile"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),

		Log: LogConfig{
			Level:  strings.ToLower(getenv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getenv("LOG_FORMAT", "json")),
		},
		Telemetry: TelemetryConfig{
			Enabled:       getenvBool("OTEL_ENABLED", false),
			Endpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			Protocol:      strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "auditfile"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBLogLevel:        getenv("DATABASE_LOG_LEVEL", "warn"),
		DBSlowQuery:       getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),

		Storage: StorageConfig{
			Backend:   strings.ToLower(getenv("STORAGE_BACKEND", StorageBackendLocal)),
			Dir:       getenv("STORAGE_DIR", "./data/artifacts"),
			GCSBucket: strings.TrimSpace(getenv("STORAGE_GCS_BUCKET", "")),
			GCSPrefix: strings.Trim(getenv("STORAGE_GCS_PREFIX", "auditfile"), "/"),
		},
		Gateway: GatewayConfig{
			URL:        strings.TrimRight(getenv("GATEWAY_URL", "https://gateway.example.invalid/api"), "/"),
			SandboxURL: strings.TrimRight(getenv("GATEWAY_SANDBOX_URL", "https://sandbox.gateway.example.invalid/api"), "/"),
			Timeout:    getenvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		},
		Signer: SignerConfig{
			URL:     strings.TrimRight(getenv("SIGNER_URL", "http://localhost:9090"), "/"),
			Timeout: getenvDuration("SIGNER_TIMEOUT", 20*time.Second),
		},
		Registry: RegistryConfig{
			URL:       strings.TrimRight(getenv("REGISTRY_URL", "http://localhost:9091"), "/"),
			Timeout:   getenvDuration("REGISTRY_TIMEOUT", 5*time.Second),
			CacheSize: getenvInt("REGISTRY_CACHE_SIZE", 1024),
			CacheTTL:  getenvDuration("REGISTRY_CACHE_TTL", 10*time.Minute),
		},
		Ledger: LedgerConfig{
			Source:  strings.ToLower(getenv("LEDGER_SOURCE", LedgerSourceHTTP)),
			URL:     strings.TrimRight(getenv("LEDGER_URL", "http://localhost:9092"), "/"),
			XLSXDir: getenv("LEDGER_XLSX_DIR", "./data/ledger"),
			Timeout: getenvDuration("LEDGER_TIMEOUT", 15*time.Second),
		},
		Events: EventsConfig{
			PubSubProject: strings.TrimSpace(getenv("EVENTS_PUBSUB_PROJECT", "")),
			PubSubTopic:   strings.TrimSpace(getenv("EVENTS_PUBSUB_TOPIC", "report-events")),
		},

		Scheduler: SchedulerConfig{
			Enabled:    getenvBool("SCHEDULER_ENABLED", true),
			Interval:   getenvDuration("SCHEDULER_INTERVAL", time.Minute),
			BatchSize:  getenvInt("SCHEDULER_BATCH_SIZE", 50),
			StuckAfter: getenvDuration("SCHEDULER_STUCK_AFTER", 15*time.Minute),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", 5*time.Minute),
		},

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		RulesPath: getenv("RULES_PATH", ""),
	}

	return cfg
}

// IsProduction reports whether the service runs in the production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// Debug enables verbose request logging and gin debug mode.
func (c Config) Debug() bool {
	if c.Log.Level == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
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
