// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes bot credentials,
// database paths, moderation timing knobs, logging, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "welcomebot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Telegram
	BotToken      string  // BOT_TOKEN, or read from BOT_TOKEN_FILE
	BotRateLimit  float64 // BOT_API_RATE_LIMIT, outbound calls per second
	CommandPrefix string  // COMMAND_PREFIX for admin commands

	// Moderation
	RootAdminUserID         int64  // ROOT_ADMIN_USER_ID, 0 disables the bypass
	DefaultChatSettingsJSON string // DEFAULT_CHAT_SETTINGS_JSON, optional override blob

	// Secondary (MTProto) ingestion
	MTProtoEnabled     bool   // MTPROTO_ENABLED, off by default
	MTProtoSessionPath string // MTPROTO_SESSION_PATH, session state file

	// Databases (three separate SQLite files)
	QueueDBPath    string // QUEUE_DB_PATH
	EventLogDBPath string // EVENT_LOG_DB_PATH
	StoreDBPath    string // STORE_DB_PATH

	// Queue / processor timing
	PeriodicInterval  time.Duration // PERIODIC_INTERVAL, e.g. 3s
	QueuePollTimeout  time.Duration // QUEUE_POLL_TIMEOUT, one blocking dequeue
	QueuePollInterval time.Duration // QUEUE_POLL_INTERVAL, notify fallback ticker
	QueueMaxAttempts  int           // QUEUE_MAX_ATTEMPTS before an event is parked

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Ops HTTP server
	OpsPort string // OPS_PORT, just the number
	GinMode string // debug|release|test

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Telegram
		BotToken:      getenv("BOT_TOKEN", ""),
		BotRateLimit:  getfloat("BOT_API_RATE_LIMIT", 20.0),
		CommandPrefix: getenv("COMMAND_PREFIX", "/lancet_"),

		// Moderation
		RootAdminUserID:         getint64("ROOT_ADMIN_USER_ID", 0),
		DefaultChatSettingsJSON: getenv("DEFAULT_CHAT_SETTINGS_JSON", ""),

		// Secondary (MTProto) ingestion
		MTProtoEnabled:     getbool("MTPROTO_ENABLED", false),
		MTProtoSessionPath: getenv("MTPROTO_SESSION_PATH", "data/mtproto.session"),

		// Databases
		QueueDBPath:    getenv("QUEUE_DB_PATH", "data/queue.db"),
		EventLogDBPath: getenv("EVENT_LOG_DB_PATH", "data/eventlog.db"),
		StoreDBPath:    getenv("STORE_DB_PATH", "data/store.db"),

		// Queue / processor timing
		PeriodicInterval:  getdur("PERIODIC_INTERVAL", 3*time.Second),
		QueuePollTimeout:  getdur("QUEUE_POLL_TIMEOUT", time.Second),
		QueuePollInterval: getdur("QUEUE_POLL_INTERVAL", time.Second),
		QueueMaxAttempts:  getint("QUEUE_MAX_ATTEMPTS", 1),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Ops HTTP server
		OpsPort: getenv("OPS_PORT", "8080"),
		GinMode: strings.ToLower(getenv("GIN_MODE", "release")),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "welcomebot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.BotToken == "" {
		if path := getenv("BOT_TOKEN_FILE", ""); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return cfg, fmt.Errorf("read BOT_TOKEN_FILE: %w", err)
			}
			cfg.BotToken = strings.TrimSpace(string(data))
		}
	}

	// --- validation ---
	if cfg.BotToken == "" {
		return cfg, errors.New("BOT_TOKEN or BOT_TOKEN_FILE must be set")
	}
	if cfg.BotRateLimit <= 0 {
		return cfg, errors.New("BOT_API_RATE_LIMIT must be > 0")
	}
	if strings.TrimSpace(cfg.CommandPrefix) == "" {
		return cfg, errors.New("COMMAND_PREFIX must not be empty")
	}
	if strings.TrimSpace(cfg.QueueDBPath) == "" ||
		strings.TrimSpace(cfg.EventLogDBPath) == "" ||
		strings.TrimSpace(cfg.StoreDBPath) == "" {
		return cfg, errors.New("QUEUE_DB_PATH, EVENT_LOG_DB_PATH and STORE_DB_PATH must not be empty")
	}
	if cfg.MTProtoEnabled && strings.TrimSpace(cfg.MTProtoSessionPath) == "" {
		return cfg, errors.New("MTPROTO_SESSION_PATH must not be empty when MTPROTO_ENABLED is set")
	}
	if cfg.PeriodicInterval <= 0 || cfg.QueuePollTimeout <= 0 || cfg.QueuePollInterval <= 0 {
		return cfg, errors.New("intervals must be positive durations")
	}
	if cfg.QueueMaxAttempts < 1 {
		return cfg, errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.OpsPort) == "" {
		return cfg, errors.New("OPS_PORT must not be empty")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
