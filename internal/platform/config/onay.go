package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onay-qr/onay-gateway/internal/domain"
)

const (
	DefaultOnayBaseURL   = "https://nwqsr0rz5earuiy2t8z8.tha.kz"
	DefaultOnayOS        = "2"
	DefaultOnayVersion   = "3.2.1"
	DefaultOnayUserAgent = "Onay/3.2.1 (kz.onay.Onay; build:6; iOS 26.2.0) Alamofire/5.4.4"
	DefaultOnayCityID    = "1"
)

// OnayConfig configures the ticketing backend client. It is loaded once at startup and
// never mutated afterwards.
type OnayConfig struct {
	BaseURL   string
	AppToken  string
	DeviceID  string
	OS        string
	Version   string
	UserAgent string

	PhoneNumber string
	Password    string
	PushToken   string
	CityID      string

	Verbose bool

	HTTPTimeout time.Duration
	// Card listing is an idempotent read and is retried on transient failure.
	ReadRetryAttempts int
	ReadRetryDelay    time.Duration
}

// DefaultOnayConfig returns every optional setting at its default and no credentials.
func DefaultOnayConfig() OnayConfig {
	return OnayConfig{
		BaseURL:           DefaultOnayBaseURL,
		OS:                DefaultOnayOS,
		Version:           DefaultOnayVersion,
		UserAgent:         DefaultOnayUserAgent,
		CityID:            DefaultOnayCityID,
		HTTPTimeout:       15 * time.Second,
		ReadRetryAttempts: 3,
		ReadRetryDelay:    time.Second,
	}
}

// LoadOnayConfigFromEnv reads ONAY_* variables, optionally layered over the [onay]
// table of the TOML file named by ONAY_CONFIG_FILE. Environment values win.
func LoadOnayConfigFromEnv() (OnayConfig, error) {
	return loadOnayConfig(os.Getenv)
}

func loadOnayConfig(getenv func(string) string) (OnayConfig, error) {
	cfg := DefaultOnayConfig()

	if path := strings.TrimSpace(getenv(EnvConfigFile)); path != "" {
		f, err := readFile(path)
		if err != nil {
			return OnayConfig{}, err
		}
		if err := f.applyOnay(&cfg); err != nil {
			return OnayConfig{}, err
		}
	}

	setString(&cfg.BaseURL, getenv("ONAY_BASE_URL"))
	setString(&cfg.AppToken, getenv("ONAY_APP_TOKEN"))
	setString(&cfg.DeviceID, getenv("ONAY_DEVICE_ID"))
	setString(&cfg.OS, getenv("ONAY_OS"))
	setString(&cfg.Version, getenv("ONAY_VERSION"))
	setString(&cfg.UserAgent, getenv("ONAY_USER_AGENT"))
	setString(&cfg.PhoneNumber, getenv("ONAY_PHONE_NUMBER"))
	setString(&cfg.Password, getenv("ONAY_PASSWORD"))
	setString(&cfg.PushToken, getenv("ONAY_PUSH_TOKEN"))
	setString(&cfg.CityID, getenv("ONAY_CITY_ID"))
	if v := getenv("ONAY_VERBOSE_LOGS"); v != "" {
		cfg.Verbose = v == "true"
	}

	if v := getenv("ONAY_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return OnayConfig{}, invalid("ONAY_HTTP_TIMEOUT must be a duration (e.g. 15s)", err)
		}
		cfg.HTTPTimeout = d
	}
	if v := getenv("ONAY_READ_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return OnayConfig{}, invalid("ONAY_READ_RETRY_ATTEMPTS must be an integer", err)
		}
		cfg.ReadRetryAttempts = n
	}
	if v := getenv("ONAY_READ_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return OnayConfig{}, invalid("ONAY_READ_RETRY_DELAY must be a duration (e.g. 1s)", err)
		}
		cfg.ReadRetryDelay = d
	}

	if err := cfg.Validate(); err != nil {
		return OnayConfig{}, err
	}
	return cfg, nil
}

// Validate checks that every credential needed for sign-in is present.
func (c OnayConfig) Validate() error {
	required := []struct {
		env   string
		value string
	}{
		{"ONAY_APP_TOKEN", c.AppToken},
		{"ONAY_DEVICE_ID", c.DeviceID},
		{"ONAY_PHONE_NUMBER", c.PhoneNumber},
		{"ONAY_PASSWORD", c.Password},
		{"ONAY_PUSH_TOKEN", c.PushToken},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.env)
		}
	}
	if len(missing) > 0 {
		return domain.ConfigurationError{Missing: missing}
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return domain.ConfigurationError{Msg: fmt.Sprintf("ONAY_BASE_URL must be an absolute URL, got %q", c.BaseURL), Err: err}
	}
	if c.HTTPTimeout <= 0 {
		return domain.ConfigurationError{Msg: "ONAY_HTTP_TIMEOUT must be positive"}
	}
	return nil
}

// DeviceOS is the numeric OS code sent on sign-in; non-numeric values fall back to 2.
func (c OnayConfig) DeviceOS() int {
	n, err := strconv.Atoi(strings.TrimSpace(c.OS))
	if err != nil || n == 0 {
		return 2
	}
	return n
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func invalid(msg string, err error) error {
	return domain.ConfigurationError{Msg: fmt.Sprintf("%s: %v", msg, err), Err: err}
}
