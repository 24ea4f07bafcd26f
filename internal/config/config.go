package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	LogLevel  string
	LogFormat string
	LogOutput string

	OTLPEndpoint      string
	OTLPProtocol      string
	OtelEnabled       bool
	OtelSamplingRatio float64
	MetricsAddr       string

	DBType            string
	DBPath            string
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

	LockBackend   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTLSecond int

	FunctionalCurrency string
	SeedOnStart        bool
	ProjectionConfig   string
	Actor              string

	SnowflakeNode int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "stockledger"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        getenv("ENVIRONMENT", "development"),
		LogLevel:           strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:          strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		LogOutput:          strings.TrimSpace(getenv("LOG_OUTPUT", "stdout")),
		OTLPEndpoint:       getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		OTLPProtocol:       otlpProtocol(),
		OtelEnabled:        getenvBool("OTEL_ENABLED", false),
		OtelSamplingRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 1),
		MetricsAddr:        strings.TrimSpace(getenv("METRICS_ADDR", "")),
		DBType:             strings.ToLower(getenv("DATABASE_TYPE", DBTypeSQLite)),
		DBPath:             getenv("DATABASE_PATH", "stockledger.db"),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "stockledger"),
		DBUser:             getenv("DATABASE_USER", "postgres"),
		DBPassword:         getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:      getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:      getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime:  getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:  getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		LockBackend:        normalizeLockBackend(getenv("LOCK_BACKEND", LockBackendLocal)),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getenv("REDIS_PASSWORD", ""),
		RedisDB:            getenvInt("REDIS_DB", 0),
		LockTTLSecond:      getenvInt("LOCK_TTL_SECONDS", 30),
		FunctionalCurrency: strings.ToUpper(strings.TrimSpace(getenv("FUNCTIONAL_CURRENCY", "USD"))),
		SeedOnStart:        getenvBool("SEED_ON_START", true),
		ProjectionConfig:   strings.TrimSpace(getenv("PROJECTION_CONFIG", "")),
		Actor:              strings.TrimSpace(getenv("STOCKLEDGER_ACTOR", os.Getenv("USER"))),
		SnowflakeNode:      getenvInt64("SNOWFLAKE_NODE", 1),
	}

	return cfg
}

const (
	DBTypeSQLite   = "sqlite"
	DBTypeSQLite3  = "sqlite3"
	DBTypePostgres = "postgres"
	DBTypeMySQL    = "mysql"
)

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// IsSQLite reports whether the configured store is an embedded SQLite file.
func (c Config) IsSQLite() bool {
	return c.DBType == DBTypeSQLite || c.DBType == DBTypeSQLite3
}

// otlpProtocol lets the traces-specific variable override the shared one.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return strings.ToLower(strings.TrimSpace(protocol))
}

func normalizeLockBackend(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case LockBackendRedis:
		return LockBackendRedis
	default:
		return LockBackendLocal
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
