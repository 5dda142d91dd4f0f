// Package config loads relayd runtime settings.
//
// Precedence, lowest first: built-in defaults, an optional YAML file,
// a .env file in the working directory, then RELAY_* environment variables.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ipflow/relay"
)

// Supported values for Config.Store.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMongo    = "mongo"
	StoreRedis    = "redis"
)

// Config contains relayd runtime configuration values.
type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"` // "json" | "console"

	Store       string `yaml:"store"`
	DatabaseURL string `yaml:"database_url"` // postgres DSN
	SQLitePath  string `yaml:"sqlite_path"`
	MongoURI    string `yaml:"mongo_uri"`
	RedisURL    string `yaml:"redis_url"`
	AutoMigrate bool   `yaml:"auto_migrate"`

	RequestTimeout      time.Duration `yaml:"request_timeout"`
	TestTimeout         time.Duration `yaml:"test_timeout"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	RateLimitWindow     time.Duration `yaml:"rate_limit_window"`
	DefaultRateLimit    int           `yaml:"default_rate_limit"`
	DispatchConcurrency int           `yaml:"dispatch_concurrency"`
	AdminRPM            int           `yaml:"admin_rpm"`
	Metrics             bool          `yaml:"metrics"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	rc := relay.DefaultConfig()
	return Config{
		Addr:                ":8080",
		ShutdownTimeout:     10 * time.Second,
		LogLevel:            "info",
		LogFormat:           "json",
		Store:               StoreMemory,
		SQLitePath:          "relay.db",
		AutoMigrate:         true,
		RequestTimeout:      rc.RequestTimeout,
		TestTimeout:         rc.TestTimeout,
		FailureThreshold:    rc.FailureThreshold,
		RateLimitWindow:     rc.RateLimitWindow,
		DefaultRateLimit:    rc.DefaultRateLimit,
		DispatchConcurrency: rc.DispatchConcurrency,
		AdminRPM:            60,
		Metrics:             true,
	}
}

// Load builds a Config. path may be empty, in which case no YAML file is read.
func Load(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	_ = godotenv.Load()

	cfg.Addr = getEnv("RELAY_ADDR", cfg.Addr)
	cfg.ShutdownTimeout = getDuration("RELAY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.LogLevel = getEnv("RELAY_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("RELAY_LOG_FORMAT", cfg.LogFormat)
	cfg.Store = strings.ToLower(getEnv("RELAY_STORE", cfg.Store))
	cfg.DatabaseURL = getEnv("RELAY_DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("RELAY_SQLITE_PATH", cfg.SQLitePath)
	cfg.MongoURI = getEnv("RELAY_MONGO_URI", cfg.MongoURI)
	cfg.RedisURL = getEnv("RELAY_REDIS_URL", cfg.RedisURL)
	cfg.AutoMigrate = getBool("RELAY_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.RequestTimeout = getDuration("RELAY_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.TestTimeout = getDuration("RELAY_TEST_TIMEOUT", cfg.TestTimeout)
	cfg.FailureThreshold = getInt("RELAY_FAILURE_THRESHOLD", cfg.FailureThreshold)
	cfg.RateLimitWindow = getDuration("RELAY_RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	cfg.DefaultRateLimit = getInt("RELAY_DEFAULT_RATE_LIMIT", cfg.DefaultRateLimit)
	cfg.DispatchConcurrency = getInt("RELAY_DISPATCH_CONCURRENCY", cfg.DispatchConcurrency)
	cfg.AdminRPM = getInt("RELAY_ADMIN_RPM", cfg.AdminRPM)
	cfg.Metrics = getBool("RELAY_METRICS", cfg.Metrics)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("RELAY_DATABASE_URL is required for store %q", c.Store)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("RELAY_SQLITE_PATH is required for store %q", c.Store)
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("RELAY_MONGO_URI is required for store %q", c.Store)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("RELAY_REDIS_URL is required for store %q", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.RequestTimeout <= 0 || c.TestTimeout <= 0 {
		return fmt.Errorf("request and test timeouts must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive")
	}
	return nil
}

// Relay converts the settings into a relay.Config.
func (c Config) Relay() relay.Config {
	rc := relay.DefaultConfig()
	rc.RequestTimeout = c.RequestTimeout
	rc.TestTimeout = c.TestTimeout
	rc.FailureThreshold = c.FailureThreshold
	rc.RateLimitWindow = c.RateLimitWindow
	rc.DefaultRateLimit = c.DefaultRateLimit
	rc.DispatchConcurrency = c.DispatchConcurrency
	return rc
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
