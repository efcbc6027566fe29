package config

import (
	"os"
	"strings"
	"time"
)

// ServerConfig configures the host HTTP process.
type ServerConfig struct {
	Port          string
	PublicBaseURL string
	CORSOrigins   []string

	LogLevel  string
	LogFormat string

	IdempotencyTTL  time.Duration
	ShutdownTimeout time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            "3000",
		PublicBaseURL:   "http://localhost:3000",
		CORSOrigins:     []string{"*"},
		LogLevel:        "info",
		LogFormat:       "console",
		IdempotencyTTL:  10 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

func LoadServerConfigFromEnv() (ServerConfig, error) {
	return loadServerConfig(os.Getenv)
}

func loadServerConfig(getenv func(string) string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path := strings.TrimSpace(getenv(EnvConfigFile)); path != "" {
		f, err := readFile(path)
		if err != nil {
			return ServerConfig{}, err
		}
		if err := f.applyServer(&cfg); err != nil {
			return ServerConfig{}, err
		}
	}

	setString(&cfg.Port, getenv("PORT"))
	setString(&cfg.PublicBaseURL, getenv("PUBLIC_BASE_URL"))
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	setString(&cfg.LogLevel, getenv("LOG_LEVEL"))
	setString(&cfg.LogFormat, getenv("LOG_FORMAT"))

	if v := getenv("IDEMPOTENCY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ServerConfig{}, invalid("IDEMPOTENCY_TTL must be a duration (e.g. 10m)", err)
		}
		cfg.IdempotencyTTL = d
	}
	if v := getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ServerConfig{}, invalid("SHUTDOWN_TIMEOUT must be a duration (e.g. 10s)", err)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
