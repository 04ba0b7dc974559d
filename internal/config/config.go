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

	HTTPAddr string

	OTLPEndpoint string

	// PlantTimezone is the IANA zone used to bucket telemetry samples into
	// rollup dates. Once bucketed, the date string is never shifted again.
	PlantTimezone string

	Plant PlantConfig

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

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ImportMaxBatch int
}

type PlantConfig struct {
	SiteID   string
	SiteName string
	Metrics  PlantMetricsConfig
}

type PlantMetricsConfig struct {
	Enabled         bool
	Exporter        string
	Endpoint        string
	AuthToken       string
	IntervalSeconds int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "toolledger"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   environment,
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		PlantTimezone: getenv("PLANT_TIMEZONE", "UTC"),
		Plant: PlantConfig{
			SiteID:   strings.TrimSpace(getenv("PLANT_SITE_ID", "")),
			SiteName: getenv("PLANT_SITE_NAME", ""),
			Metrics: PlantMetricsConfig{
				Enabled:         getenvBool("PLANT_METRICS_ENABLED", false),
				Exporter:        strings.ToLower(getenv("PLANT_METRICS_EXPORTER", "")),
				Endpoint:        strings.TrimSpace(getenv("PLANT_METRICS_ENDPOINT", "")),
				AuthToken:       strings.TrimSpace(getenv("PLANT_METRICS_AUTH_TOKEN", "")),
				IntervalSeconds: int(getenvInt64("PLANT_METRICS_INTERVAL", 60)),
			},
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "toolledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 3600)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 600)),
		RedisEnabled:      getenvBool("REDIS_ENABLED", false),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		ImportMaxBatch:    int(getenvInt64("IMPORT_MAX_BATCH", 500)),
	}

	return cfg
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
