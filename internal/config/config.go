package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Transport    TransportConfig
	Integrations IntegrationsConfig
	Routing      RoutingConfig
	Worker       WorkerConfig
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

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines service-token parameters for the HTTP surface.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	Disabled              bool
}

// TransportConfig tunes the shared outbound HTTP client.
type TransportConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	MaxIdleConns   int
	DedupTTL       time.Duration
	DedupBackend   string
	DedupKeyPrefix string
}

// RoutingConfig drives automatic routing of reported findings.
type RoutingConfig struct {
	TicketPlatform    string
	NotifyPlatforms   []string
	NotifyMinPriority string
	SlackChannel      string
	TeamsTarget       string
	EmailRecipients   string
}

// WorkerConfig sizes the background worker pool.
type WorkerConfig struct {
	Concurrency int
	QueueSize   int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	integrations, err := loadIntegrations()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "integration-service"),
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
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			Disabled:              getEnvAsBool("AUTH_DISABLED", false),
		},
		Transport: TransportConfig{
			ConnectTimeout: getEnvAsMillis("TRANSPORT_CONNECT_TIMEOUT_MS", 5000),
			RequestTimeout: getEnvAsMillis("TRANSPORT_REQUEST_TIMEOUT_MS", 30000),
			MaxAttempts:    getEnvAsInt("TRANSPORT_MAX_ATTEMPTS", 3),
			BaseBackoff:    getEnvAsMillis("TRANSPORT_BASE_BACKOFF_MS", 500),
			MaxBackoff:     getEnvAsMillis("TRANSPORT_MAX_BACKOFF_MS", 30000),
			MaxIdleConns:   getEnvAsInt("TRANSPORT_MAX_IDLE_CONNS", 100),
			DedupTTL:       time.Duration(getEnvAsInt("DEDUP_TTL_SECONDS", 600)) * time.Second,
			DedupBackend:   strings.ToLower(getEnv("DEDUP_BACKEND", "memory")),
			DedupKeyPrefix: getEnv("DEDUP_KEY_PREFIX", "integration:dedup:"),
		},
		Integrations: integrations,
		Routing: RoutingConfig{
			TicketPlatform:    getEnv("ROUTING_TICKET_PLATFORM", "JIRA"),
			NotifyPlatforms:   getEnvAsList("ROUTING_NOTIFY_PLATFORMS"),
			NotifyMinPriority: strings.ToUpper(getEnv("ROUTING_NOTIFY_MIN_PRIORITY", "HIGH")),
			SlackChannel:      os.Getenv("ROUTING_SLACK_CHANNEL"),
			TeamsTarget:       os.Getenv("ROUTING_TEAMS_TARGET"),
			EmailRecipients:   os.Getenv("ROUTING_EMAIL_RECIPIENTS"),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
			QueueSize:   getEnvAsInt("WORKER_QUEUE_SIZE", 256),
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

func getEnvAsMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Millisecond
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
