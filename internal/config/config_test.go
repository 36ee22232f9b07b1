package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testContract = "0x00000000000000000000000000000000000000aa"

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.ContractAddress = testContract
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with a contract address: %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"contract", func(c *Config) { c.Chain.ContractAddress = "0x12" }, "contract_address"},
		{"reconnects", func(c *Config) { c.Chain.MaxReconnects = 0 }, "max_reconnects"},
		{"feed rate", func(c *Config) { c.Feed.RateLimit = 0 }, "feed: rate_limit"},
		{"interval", func(c *Config) { c.Reconcile.Interval.Duration = 0 }, "reconcile: interval"},
		{"archive", func(c *Config) { c.Archive.Enabled = true; c.Archive.Bucket = "" }, "archive: bucket"},
		{"lock ttl", func(c *Config) { c.Sync.LockTTL.Duration = time.Millisecond }, "lock_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}

	cfg := validConfig()
	cfg.Mode = "nope"
	cfg.Redis.Addr = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "mode") || !strings.Contains(err.Error(), "redis: addr") {
		t.Errorf("combined error: got %v", err)
	}
}

func TestServerModeSkipsIngestChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "server"
	cfg.Chain.WSEndpoint = ""
	cfg.Feed.BaseURL = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("server mode: %v", err)
	}
	if cfg.Ingests() || !cfg.Serves() {
		t.Errorf("server mode: ingests=%v serves=%v", cfg.Ingests(), cfg.Serves())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
mode = "observe"

[chain]
contract_address = "` + testContract + `"
start_block = 5500000
reconnect_increment = "2s"

[reconcile]
interval = "1m"
`
	if err := os.WriteFile(path, []byte(toml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WAGERWATCH_RECONCILE_INTERVAL", "30s")
	t.Setenv("WAGERWATCH_SYNC_SEED_WORKERS", "4")
	t.Setenv("WAGERWATCH_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "observe" || cfg.Chain.StartBlock != 5500000 {
		t.Errorf("file values: got mode %q start %d", cfg.Mode, cfg.Chain.StartBlock)
	}
	if cfg.Chain.ReconnectIncrement.Duration != 2*time.Second {
		t.Errorf("reconnect increment: got %s", cfg.Chain.ReconnectIncrement.Duration)
	}
	if cfg.Reconcile.Interval.Duration != 30*time.Second {
		t.Errorf("env override: got interval %s, want 30s", cfg.Reconcile.Interval.Duration)
	}
	if cfg.Sync.SeedWorkers != 4 {
		t.Errorf("seed workers: got %d, want 4", cfg.Sync.SeedWorkers)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors origins: got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Reconcile.TerminalWindow.Duration != 4*time.Hour {
		t.Errorf("default kept: got terminal window %s", cfg.Reconcile.TerminalWindow.Duration)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Feed.APIKey = "key"
	cfg.Notify.Events = []string{"fatal"}

	red := RedactedConfig(&cfg)
	if red.Postgres.Password != "***" || red.Feed.APIKey != "***" {
		t.Errorf("secrets not redacted: %q %q", red.Postgres.Password, red.Feed.APIKey)
	}
	if red.Redis.Password != "" {
		t.Errorf("empty secret should stay empty, got %q", red.Redis.Password)
	}
	red.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "fatal" {
		t.Error("redacted copy shares slices with the original")
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Error("original config mutated")
	}
}
