package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

var envKeys = []string{
	"APP_ENV", "LISTEN_ADDR", "DATABASE_URL", "STORE", "ANALYSIS_WORKERS",
	"WORKER_RATE_LIMIT", "WORKER_POLL_INTERVAL", "JOB_LEASE_TIMEOUT",
	"JOB_MAX_ATTEMPTS", "JOB_BACKOFF_BASE", "ANALYSIS_COOLDOWN", "PROBE_TIMEOUT",
	"PROBE_USER_AGENT", "ANALYZE_RATE_PER_MINUTE", "SHUTDOWN_TIMEOUT", "CONFIG_FILE",
}

// clearEnv blanks every key Load reads; getenv treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("store = %q, want memory without DATABASE_URL", cfg.Store)
	}
	if cfg.ListenAddr != ":8080" || cfg.Worker.Concurrency != 5 || cfg.Worker.RateLimit != 10 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Job.MaxAttempts != 3 || cfg.Job.BackoffBase != 2*time.Second || cfg.Job.LeaseTimeout != 2*time.Minute {
		t.Errorf("job = %+v", cfg.Job)
	}
	if cfg.Analysis.Cooldown != 10*time.Minute || cfg.Probe.Timeout != 5*time.Second {
		t.Errorf("analysis = %+v probe = %+v", cfg.Analysis, cfg.Probe)
	}
	if cfg.HTTP.AnalyzeRatePerMinute != 10 || cfg.HTTP.ShutdownTimeout != 15*time.Second {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.Production() {
		t.Error("default env should not be production")
	}
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/sitewatch")
	t.Setenv("ANALYSIS_WORKERS", "0")
	t.Setenv("WORKER_RATE_LIMIT", "2.5")
	t.Setenv("JOB_BACKOFF_BASE", "750ms")
	t.Setenv("ANALYSIS_COOLDOWN", "60000")
	t.Setenv("JOB_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StorePostgres || !cfg.Production() {
		t.Errorf("store = %q env = %q", cfg.Store, cfg.Env)
	}
	if cfg.Worker.Concurrency != 0 || cfg.Worker.RateLimit != 2.5 {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if cfg.Job.BackoffBase != 750*time.Millisecond {
		t.Errorf("backoff = %v", cfg.Job.BackoffBase)
	}
	if cfg.Analysis.Cooldown != time.Minute {
		t.Errorf("cooldown = %v, want bare milliseconds honoured", cfg.Analysis.Cooldown)
	}
	if cfg.Job.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want default on unparsable value", cfg.Job.MaxAttempts)
	}
}

func TestLoad_ZeroCooldown(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANALYSIS_COOLDOWN", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.Cooldown != 0 {
		t.Errorf("cooldown = %v, want 0 kept as off", cfg.Analysis.Cooldown)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sitewatch.yaml")
	writeFile(t, path, `
listen_addr: ":9090"
worker:
  concurrency: 2
  rate_limit: 4
job:
  backoff_base: 5s
analysis:
  cooldown: 1m
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ANALYSIS_WORKERS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.Worker.RateLimit != 4 || cfg.Job.BackoffBase != 5*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Worker.Concurrency != 7 {
		t.Errorf("concurrency = %d, env should win over file", cfg.Worker.Concurrency)
	}
	if cfg.Job.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, keys absent from the file keep defaults", cfg.Job.MaxAttempts)
	}
	if cfg.File != path {
		t.Errorf("file = %q", cfg.File)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, bad, "worker: [")
	if _, err := LoadFile(bad); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres without url", func(c *Config) { c.Store = StorePostgres }, "DATABASE_URL"},
		{"unknown store", func(c *Config) { c.Store = "redis" }, "STORE"},
		{"negative workers", func(c *Config) { c.Worker.Concurrency = -1 }, "ANALYSIS_WORKERS"},
		{"zero attempts", func(c *Config) { c.Job.MaxAttempts = 0 }, "JOB_MAX_ATTEMPTS"},
		{"zero lease", func(c *Config) { c.Job.LeaseTimeout = 0 }, "JOB_LEASE_TIMEOUT"},
		{"zero submit rate", func(c *Config) { c.HTTP.AnalyzeRatePerMinute = 0 }, "ANALYZE_RATE_PER_MINUTE"},
		{"negative cooldown", func(c *Config) { c.Analysis.Cooldown = -time.Second }, "ANALYSIS_COOLDOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Store = StoreMemory
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want mention of %s", err, tt.want)
			}
		})
	}

	cfg := Defaults()
	cfg.Store = StoreMemory
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sitewatch.yaml")
	writeFile(t, path, "worker:\n  rate_limit: 1\n")

	log, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, log, func(c Config) { changes <- c })
	}()

	// The watcher may not be registered yet; keep rewriting until a reload lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case c := <-changes:
			if c.Worker.RateLimit == 3 {
				break wait
			}
		case <-tick.C:
			writeFile(t, path, "worker:\n  rate_limit: 3\n")
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "config reloaded" {
			logged = true
		}
	}
	if !logged {
		t.Error("reload not logged")
	}
}

func TestWatch_SkipsInvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sitewatch.yaml")
	writeFile(t, path, "worker:\n  rate_limit: 1\n")

	log, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Config, 16)
	go Watch(ctx, path, log, func(c Config) { changes <- c })

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-changes:
			// A read racing the truncating write sees defaults; only the
			// invalid payload itself must never be delivered.
			if c.Job.MaxAttempts < 1 {
				t.Fatalf("invalid config delivered: %+v", c)
			}
		case <-tick.C:
			writeFile(t, path, "job:\n  max_attempts: 0\n")
			for _, e := range hook.AllEntries() {
				if e.Message == "config reload rejected" {
					return
				}
			}
		case <-deadline:
			t.Fatal("rejection never logged")
		}
	}
}
