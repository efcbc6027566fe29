package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/onay-qr/onay-gateway/internal/domain"
)

// EnvConfigFile names an optional TOML file layered under the environment.
const EnvConfigFile = "ONAY_CONFIG_FILE"

type fileConfig struct {
	Server serverFile `toml:"server"`
	Onay   onayFile   `toml:"onay"`

	meta toml.MetaData
}

type serverFile struct {
	Port            string   `toml:"port"`
	PublicBaseURL   string   `toml:"public_base_url"`
	CORSOrigins     []string `toml:"cors_origins"`
	LogLevel        string   `toml:"log_level"`
	LogFormat       string   `toml:"log_format"`
	IdempotencyTTL  string   `toml:"idempotency_ttl"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
}

type onayFile struct {
	BaseURL           string `toml:"base_url"`
	AppToken          string `toml:"app_token"`
	DeviceID          string `toml:"device_id"`
	OS                string `toml:"os"`
	Version           string `toml:"version"`
	UserAgent         string `toml:"user_agent"`
	PhoneNumber       string `toml:"phone_number"`
	Password          string `toml:"password"`
	PushToken         string `toml:"push_token"`
	CityID            string `toml:"city_id"`
	Verbose           bool   `toml:"verbose"`
	HTTPTimeout       string `toml:"http_timeout"`
	ReadRetryAttempts int    `toml:"read_retry_attempts"`
	ReadRetryDelay    string `toml:"read_retry_delay"`
}

func readFile(path string) (fileConfig, error) {
	var f fileConfig
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return fileConfig{}, domain.ConfigurationError{Msg: fmt.Sprintf("load config file %s: %v", path, err), Err: err}
	}
	f.meta = meta
	return f, nil
}

func (f fileConfig) defined(table, key string) bool {
	return f.meta.IsDefined(table, key)
}

func (f fileConfig) applyOnay(cfg *OnayConfig) error {
	o := f.Onay
	strs := []struct {
		key string
		src string
		dst *string
	}{
		{"base_url", o.BaseURL, &cfg.BaseURL},
		{"app_token", o.AppToken, &cfg.AppToken},
		{"device_id", o.DeviceID, &cfg.DeviceID},
		{"os", o.OS, &cfg.OS},
		{"version", o.Version, &cfg.Version},
		{"user_agent", o.UserAgent, &cfg.UserAgent},
		{"phone_number", o.PhoneNumber, &cfg.PhoneNumber},
		{"password", o.Password, &cfg.Password},
		{"push_token", o.PushToken, &cfg.PushToken},
		{"city_id", o.CityID, &cfg.CityID},
	}
	for _, s := range strs {
		if f.defined("onay", s.key) {
			*s.dst = strings.TrimSpace(s.src)
		}
	}
	if f.defined("onay", "verbose") {
		cfg.Verbose = o.Verbose
	}
	if f.defined("onay", "http_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(o.HTTPTimeout))
		if err != nil {
			return invalid("onay.http_timeout must be a duration", err)
		}
		cfg.HTTPTimeout = d
	}
	if f.defined("onay", "read_retry_attempts") {
		cfg.ReadRetryAttempts = o.ReadRetryAttempts
	}
	if f.defined("onay", "read_retry_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(o.ReadRetryDelay))
		if err != nil {
			return invalid("onay.read_retry_delay must be a duration", err)
		}
		cfg.ReadRetryDelay = d
	}
	return nil
}

func (f fileConfig) applyServer(cfg *ServerConfig) error {
	s := f.Server
	if f.defined("server", "port") {
		cfg.Port = strings.TrimSpace(s.Port)
	}
	if f.defined("server", "public_base_url") {
		cfg.PublicBaseURL = strings.TrimSpace(s.PublicBaseURL)
	}
	if f.defined("server", "cors_origins") {
		cfg.CORSOrigins = splitList(strings.Join(s.CORSOrigins, ","))
	}
	if f.defined("server", "log_level") {
		cfg.LogLevel = strings.TrimSpace(s.LogLevel)
	}
	if f.defined("server", "log_format") {
		cfg.LogFormat = strings.TrimSpace(s.LogFormat)
	}
	if f.defined("server", "idempotency_ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(s.IdempotencyTTL))
		if err != nil {
			return invalid("server.idempotency_ttl must be a duration", err)
		}
		cfg.IdempotencyTTL = d
	}
	if f.defined("server", "shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(s.ShutdownTimeout))
		if err != nil {
			return invalid("server.shutdown_timeout must be a duration", err)
		}
		cfg.ShutdownTimeout = d
	}
	return nil
}
