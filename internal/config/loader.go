package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "formbridge.yaml"

// CLIFlags holds command-line flag values. Nil pointers indicate unset flags
// that should not override the config. Use ParseFlags to populate this struct.
type CLIFlags struct {
	ConfigPath *string
	Addr       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses command-line arguments into CLIFlags.
// Call this before Load/LoadWithCLI. Passing nil args parses os.Args[1:].
func ParseFlags(args []string) (CLIFlags, error) {
	var flags CLIFlags

	fs := flag.NewFlagSet("formbridge", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	addr := fs.String("addr", "", "HTTP listen address")
	fs.StringVar(addr, "a", "", "HTTP listen address (shorthand)")
	logLevel := fs.String("log-level", "", "logging level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return flags, fmt.Errorf("parse flags: %w", err)
	}

	// Only set pointers for flags that were explicitly provided.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = configPath
		case "addr", "a":
			flags.Addr = addr
		case "log-level":
			flags.LogLevel = logLevel
		case "dsn":
			flags.DSN = dsn
		case "nats-url":
			flags.NatsURL = natsURL
		}
	})

	return flags, nil
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadWithCLI returns a Config using the full hierarchy:
// defaults < YAML < ENV < CLI flags. The YAML path can be overridden
// via CLIFlags.ConfigPath.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}

	return &cfg, yamlPath, nil
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overlays CLI flag values onto cfg. Only non-nil flags override.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Addr != nil {
		cfg.Server.ListenAddr = *flags.Addr
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "FORMBRIDGE_ADDR")
	setString(&cfg.Server.CORSOrigin, "FORMBRIDGE_CORS_ORIGIN")
	setDuration(&cfg.Server.GracefulShutdownTimeout, "FORMBRIDGE_SHUTDOWN_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FORMBRIDGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FORMBRIDGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FORMBRIDGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FORMBRIDGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FORMBRIDGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Redis.Addr, "FORMBRIDGE_REDIS_ADDR")
	setString(&cfg.Redis.Password, "FORMBRIDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FORMBRIDGE_REDIS_DB")

	setInt(&cfg.Auth.ReplayWindowSeconds, "FORMBRIDGE_AUTH_REPLAY_WINDOW_SECONDS")

	setInt(&cfg.Secrets.CacheTTLSeconds, "FORMBRIDGE_SECRET_CACHE_TTL_SECONDS")
	setInt64(&cfg.Secrets.CacheMaxBytes, "FORMBRIDGE_SECRET_CACHE_MAX_BYTES")

	setInt64(&cfg.Ingest.MaxPayloadBytes, "FORMBRIDGE_INGEST_MAX_PAYLOAD_BYTES")

	setInt(&cfg.Orchestrator.MaxConcurrentEvents, "FORMBRIDGE_ORCH_MAX_CONCURRENT_EVENTS")
	setInt(&cfg.Orchestrator.PerSubmissionFanout, "FORMBRIDGE_ORCH_PER_SUBMISSION_FANOUT")
	setInt(&cfg.Orchestrator.PerTenantCap, "FORMBRIDGE_ORCH_PER_TENANT_CAP")
	setInt(&cfg.Orchestrator.PersisterWorkers, "FORMBRIDGE_PERSISTER_WORKERS")

	setInt(&cfg.Retry.MaxAttempts, "FORMBRIDGE_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "FORMBRIDGE_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "FORMBRIDGE_RETRY_MAX_DELAY")
	setDuration(&cfg.Retry.MaxEventAge, "FORMBRIDGE_RETRY_MAX_EVENT_AGE")

	setInt(&cfg.Query.DefaultLimit, "FORMBRIDGE_QUERY_DEFAULT_LIMIT")
	setInt(&cfg.Query.MaxLimit, "FORMBRIDGE_QUERY_MAX_LIMIT")

	setString(&cfg.Logging.Level, "FORMBRIDGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FORMBRIDGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FORMBRIDGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "FORMBRIDGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FORMBRIDGE_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "FORMBRIDGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "FORMBRIDGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "FORMBRIDGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "FORMBRIDGE_RATE_MAX_IDLE_TIME")
	setString(&cfg.Rate.Backend, "FORMBRIDGE_RATE_BACKEND")

	setBool(&cfg.Metrics.Enabled, "FORMBRIDGE_METRICS_ENABLED")
}

// validate checks that required fields are set and security constraints are met.
func validate(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Rate.Backend != "postgres" && cfg.Rate.Backend != "redis" {
		return errors.New("rate.backend must be 'postgres' or 'redis'")
	}
	if cfg.Ingest.MaxPayloadBytes < 1 {
		return errors.New("ingest.max_payload_bytes must be >= 1")
	}
	if cfg.Query.MaxLimit < cfg.Query.DefaultLimit {
		return errors.New("query.max_limit must be >= query.default_limit")
	}

	if cfg.Auth.ReplayWindowSeconds < 1 {
		slog.Warn("auth.replay_window_seconds is very small; most clients will see clock-skew rejections",
			"value", cfg.Auth.ReplayWindowSeconds)
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
