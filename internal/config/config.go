package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	SLA      SLAConfig
	Metrics  MetricsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN selects the in-memory store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values and the keys the service owns.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	Enabled       bool
	LockKey       string
	LockTTLSec    int
	EventsChannel string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// SLAConfig controls the evaluation engine and notification delivery.
type SLAConfig struct {
	PolicyFile                 string
	WatchPolicy                bool
	DefaultIntervalSeconds     int
	NotificationTimeoutSeconds int
	NotificationRatePerSecond  float64
	EvaluationWorkers          int
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rate, err := strconv.ParseFloat(getEnv("SLA_NOTIFICATION_RATE_PER_SECOND", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SLA_NOTIFICATION_RATE_PER_SECOND: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "sla-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			Enabled:       getEnvAsBool("REDIS_ENABLED", false),
			LockKey:       getEnv("REDIS_SLA_LOCK_KEY", "sla:evaluation:lock"),
			LockTTLSec:    getEnvAsInt("REDIS_SLA_LOCK_TTL_SECONDS", 300),
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "sla:events"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		SLA: SLAConfig{
			PolicyFile:                 getEnv("SLA_POLICY_FILE", "config/sla_config.yaml"),
			WatchPolicy:                getEnvAsBool("SLA_WATCH_POLICY", true),
			DefaultIntervalSeconds:     getEnvAsInt("SLA_EVALUATION_INTERVAL_SECONDS", 60),
			NotificationTimeoutSeconds: getEnvAsInt("SLA_NOTIFICATION_TIMEOUT_SECONDS", 10),
			NotificationRatePerSecond:  rate,
			EvaluationWorkers:          getEnvAsInt("SLA_EVALUATION_WORKERS", 4),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Addr:    getEnv("METRICS_ADDR", ":9090"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// LockTTL returns the evaluation lease duration.
func (r RedisConfig) LockTTL() time.Duration {
	if r.LockTTLSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.LockTTLSec) * time.Second
}

// DefaultInterval is used until a policy snapshot supplies one.
func (s SLAConfig) DefaultInterval() time.Duration {
	if s.DefaultIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.DefaultIntervalSeconds) * time.Second
}

// NotificationTimeout bounds each outbound webhook call.
func (s SLAConfig) NotificationTimeout() time.Duration {
	if s.NotificationTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.NotificationTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
