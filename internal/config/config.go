// Package config loads process settings from defaults, an optional YAML file
// named by CONFIG_FILE, and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Env         string `yaml:"env"`
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
	// Store defaults to postgres when DATABASE_URL is set, memory otherwise.
	Store    string         `yaml:"store"`
	Worker   WorkerConfig   `yaml:"worker"`
	Job      JobConfig      `yaml:"job"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Probe    ProbeConfig    `yaml:"probe"`
	HTTP     HTTPConfig     `yaml:"http"`

	File string `yaml:"-"`
}

type WorkerConfig struct {
	// Concurrency 0 disables the in-process pool.
	Concurrency  int           `yaml:"concurrency"`
	RateLimit    float64       `yaml:"rate_limit"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type JobConfig struct {
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
}

type AnalysisConfig struct {
	// Cooldown zero turns the cooldown off; every new job collects fresh signals.
	Cooldown time.Duration `yaml:"cooldown"`
}

type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// UserAgent empty means the collector's default.
	UserAgent string `yaml:"user_agent"`
}

type HTTPConfig struct {
	AnalyzeRatePerMinute int           `yaml:"analyze_rate_per_minute"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
}

func (c Config) Production() bool { return c.Env == "production" }

func Defaults() Config {
	return Config{
		Env:        "development",
		ListenAddr: ":8080",
		Worker: WorkerConfig{
			Concurrency:  5,
			RateLimit:    10,
			PollInterval: 500 * time.Millisecond,
		},
		Job: JobConfig{
			LeaseTimeout: 2 * time.Minute,
			MaxAttempts:  3,
			BackoffBase:  2 * time.Second,
		},
		Analysis: AnalysisConfig{Cooldown: 10 * time.Minute},
		Probe:    ProbeConfig{Timeout: 5 * time.Second},
		HTTP: HTTPConfig{
			AnalyzeRatePerMinute: 10,
			ShutdownTimeout:      15 * time.Second,
		},
	}
}

func Load() (Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile layers path (if non-empty) and then the environment over the
// defaults and validates the result.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return cfg, err
		}
		cfg.File = path
	}
	applyEnv(&cfg)
	if cfg.Store == "" {
		cfg.Store = StoreMemory
		if cfg.DatabaseURL != "" {
			cfg.Store = StorePostgres
		}
	}
	return cfg, cfg.Validate()
}

func readFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getenv("APP_ENV", cfg.Env)
	cfg.ListenAddr = getenv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.Store = getenv("STORE", cfg.Store)
	cfg.Worker.Concurrency = getenvInt("ANALYSIS_WORKERS", cfg.Worker.Concurrency)
	cfg.Worker.RateLimit = getenvFloat("WORKER_RATE_LIMIT", cfg.Worker.RateLimit)
	cfg.Worker.PollInterval = getenvDuration("WORKER_POLL_INTERVAL", cfg.Worker.PollInterval)
	cfg.Job.LeaseTimeout = getenvDuration("JOB_LEASE_TIMEOUT", cfg.Job.LeaseTimeout)
	cfg.Job.MaxAttempts = getenvInt("JOB_MAX_ATTEMPTS", cfg.Job.MaxAttempts)
	cfg.Job.BackoffBase = getenvDuration("JOB_BACKOFF_BASE", cfg.Job.BackoffBase)
	cfg.Analysis.Cooldown = getenvDuration("ANALYSIS_COOLDOWN", cfg.Analysis.Cooldown)
	cfg.Probe.Timeout = getenvDuration("PROBE_TIMEOUT", cfg.Probe.Timeout)
	cfg.Probe.UserAgent = getenv("PROBE_USER_AGENT", cfg.Probe.UserAgent)
	cfg.HTTP.AnalyzeRatePerMinute = getenvInt("ANALYZE_RATE_PER_MINUTE", cfg.HTTP.AnalyzeRatePerMinute)
	cfg.HTTP.ShutdownTimeout = getenvDuration("SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)
}

func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("LISTEN_ADDR is empty"))
	}
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE %q: want postgres or memory", c.Store))
	}
	if c.Worker.Concurrency < 0 {
		errs = append(errs, errors.New("ANALYSIS_WORKERS must be >= 0"))
	}
	if c.Worker.RateLimit < 0 {
		errs = append(errs, errors.New("WORKER_RATE_LIMIT must be >= 0"))
	}
	if c.Job.MaxAttempts < 1 {
		errs = append(errs, errors.New("JOB_MAX_ATTEMPTS must be >= 1"))
	}
	if c.HTTP.AnalyzeRatePerMinute < 1 {
		errs = append(errs, errors.New("ANALYZE_RATE_PER_MINUTE must be >= 1"))
	}
	for name, d := range map[string]time.Duration{
		"WORKER_POLL_INTERVAL": c.Worker.PollInterval,
		"JOB_LEASE_TIMEOUT":    c.Job.LeaseTimeout,
		"JOB_BACKOFF_BASE":     c.Job.BackoffBase,
		"PROBE_TIMEOUT":        c.Probe.Timeout,
		"SHUTDOWN_TIMEOUT":     c.HTTP.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Analysis.Cooldown < 0 {
		errs = append(errs, errors.New("ANALYSIS_COOLDOWN must be >= 0"))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getenvDuration accepts Go durations ("750ms") or bare milliseconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
