// Package config reads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	edgar "github.com/RxDataLab/edgar-insider"
)

const (
	EnvUserAgent   = "EDGAR_USER_AGENT"
	EnvDBPath      = "INSIDER_DB_PATH"
	EnvMaxFilings  = "INSIDER_MAX_FILINGS"
	EnvWindowDays  = "INSIDER_WINDOW_DAYS"
	EnvRateLimit   = "INSIDER_RATE_LIMIT"
	EnvHTTPTimeout = "INSIDER_HTTP_TIMEOUT"
	EnvAddr        = "INSIDER_ADDR"
	EnvPort        = "PORT"
	EnvLogLevel    = "INSIDER_LOG_LEVEL"
	EnvLogFormat   = "INSIDER_LOG_FORMAT"
	EnvLogFile     = "INSIDER_LOG_FILE"
	EnvTrace       = "INSIDER_TRACE"

	DefaultDBPath = "data/insider.db"
	DefaultAddr   = ":8080"
)

// Config holds everything the CLI and server need to build a Refresher.
type Config struct {
	UserAgent   string
	DBPath      string
	MaxFilings  int
	WindowDays  int
	RateLimit   float64
	HTTPTimeout time.Duration
	Addr        string
	LogLevel    string
	LogFormat   string
	LogFile     string // rotated log file; empty logs to stderr
	Trace       string
}

// Load reads .env files (missing files are fine) and then the environment.
// Values already set in the environment win over .env entries.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		UserAgent: get(EnvUserAgent),
		DBPath:    getDefault(EnvDBPath, DefaultDBPath),
		Addr:      get(EnvAddr),
		LogLevel:  getDefault(EnvLogLevel, "info"),
		LogFormat: getDefault(EnvLogFormat, "console"),
		LogFile:   get(EnvLogFile),
		Trace:     strings.ToLower(get(EnvTrace)),
	}
	if cfg.UserAgent == "" {
		if email := get(edgar.SecEmailEnvVar); email != "" {
			cfg.UserAgent = edgar.BuildUserAgent(email)
		}
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
		if port := get(EnvPort); port != "" {
			cfg.Addr = ":" + port
		}
	}

	var err error
	if cfg.MaxFilings, err = getInt(EnvMaxFilings, edgar.DefaultMaxFilings); err != nil {
		return nil, err
	}
	if cfg.WindowDays, err = getInt(EnvWindowDays, edgar.DefaultWindowDays); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = getFloat(EnvRateLimit, edgar.DefaultRateLimit); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getDuration(EnvHTTPTimeout, edgar.DefaultTimeout); err != nil {
		return nil, err
	}
	if cfg.MaxFilings <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", EnvMaxFilings, cfg.MaxFilings)
	}
	if cfg.WindowDays <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", EnvWindowDays, cfg.WindowDays)
	}
	return cfg, nil
}

// Validate checks the settings needed to talk to the SEC.
func (c *Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("%s or %s must be set (the SEC requires a name and contact email)", EnvUserAgent, edgar.SecEmailEnvVar)
	}
	return edgar.ValidateUserAgent(c.UserAgent)
}

func get(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getDefault(key, def string) string {
	if v := get(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
