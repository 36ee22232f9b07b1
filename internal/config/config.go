// Package config defines the top-level configuration for the wager observer
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WAGERWATCH_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Feed      FeedConfig      `toml:"feed"`
	Sync      SyncConfig      `toml:"sync"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig holds the event source and read path endpoints.
type ChainConfig struct {
	WSEndpoint      string `toml:"ws_endpoint"`
	HTTPEndpoint    string `toml:"http_endpoint"`
	ContractAddress string `toml:"contract_address"`
	// StartBlock is the default watermark for every wager stream on first boot.
	StartBlock uint64 `toml:"start_block"`
	// ABIPath overrides the embedded contract ABI when set.
	ABIPath string `toml:"abi_path"`
	// LogChunkSize bounds the block range of a single history query.
	LogChunkSize       uint64   `toml:"log_chunk_size"`
	ReconnectIncrement duration `toml:"reconnect_increment"`
	MaxReconnects      int      `toml:"max_reconnects"`
	DialTimeout        duration `toml:"dial_timeout"`
	CallTimeout        duration `toml:"call_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// FeedConfig holds the external fixture feed parameters.
type FeedConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	// RateLimit is the number of feed requests allowed per RateWindow.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	Timeout    duration `toml:"timeout"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	BufferCapacity int      `toml:"buffer_capacity"`
	LaneCapacity   int      `toml:"lane_capacity"`
	HandlerRetries int      `toml:"handler_retries"`
	RetryBackoff   duration `toml:"retry_backoff"`
	SeedWorkers    int      `toml:"seed_workers"`
	LockTTL        duration `toml:"lock_ttl"`
}

// ReconcileConfig tunes the reconciliation scheduler.
type ReconcileConfig struct {
	LeadWindow     duration `toml:"lead_window"`
	TerminalWindow duration `toml:"terminal_window"`
	Interval       duration `toml:"interval"`
	BetDebounce    duration `toml:"bet_debounce"`
	MatchDebounce  duration `toml:"match_debounce"`
}

// ArchiveConfig holds the replay archive destination.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Prefix         string `toml:"prefix"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "1.2s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per client IP per RateWindow; 0 disables it.
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			WSEndpoint:         "ws://localhost:8546",
			HTTPEndpoint:       "http://localhost:8545",
			LogChunkSize:       5000,
			ReconnectIncrement: duration{1200 * time.Millisecond},
			MaxReconnects:      5,
			DialTimeout:        duration{10 * time.Second},
			CallTimeout:        duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wagerwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  25,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Feed: FeedConfig{
			BaseURL:    "https://api.football-data.org/v4",
			RateLimit:  10,
			RateWindow: duration{time.Minute},
			Timeout:    duration{10 * time.Second},
		},
		Sync: SyncConfig{
			BufferCapacity: 10_000,
			LaneCapacity:   1024,
			HandlerRetries: 3,
			RetryBackoff:   duration{500 * time.Millisecond},
			SeedWorkers:    8,
			LockTTL:        duration{30 * time.Second},
		},
		Reconcile: ReconcileConfig{
			LeadWindow:     duration{10 * time.Minute},
			TerminalWindow: duration{4 * time.Hour},
			Interval:       duration{5 * time.Minute},
			BetDebounce:    duration{3 * time.Second},
			MatchDebounce:  duration{5 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Prefix:         "events",
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerwatch-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"fatal", "reconnect", "resync"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"observe": true,
	"server":  true,
	"full":    true,
	"replay":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Ingests reports whether the configured mode runs the event pipeline.
func (c *Config) Ingests() bool {
	m := strings.ToLower(c.Mode)
	return m == "observe" || m == "full" || m == "replay"
}

// Serves reports whether the configured mode runs the read API.
func (c *Config) Serves() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: observe, server, full, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, fmt.Sprintf("chain: contract_address %q is not a hex address", c.Chain.ContractAddress))
	}
	if c.Ingests() && c.Chain.WSEndpoint == "" {
		errs = append(errs, "chain: ws_endpoint must not be empty")
	}
	if c.Chain.HTTPEndpoint == "" {
		errs = append(errs, "chain: http_endpoint must not be empty")
	}
	if c.Chain.LogChunkSize == 0 {
		errs = append(errs, "chain: log_chunk_size must be > 0")
	}
	if c.Chain.MaxReconnects < 1 {
		errs = append(errs, "chain: max_reconnects must be >= 1")
	}
	if c.Chain.ReconnectIncrement.Duration < 0 {
		errs = append(errs, "chain: reconnect_increment must not be negative")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Feed
	if c.Ingests() {
		if c.Feed.BaseURL == "" {
			errs = append(errs, "feed: base_url must not be empty")
		}
		if c.Feed.RateLimit < 1 || c.Feed.RateWindow.Duration <= 0 {
			errs = append(errs, "feed: rate_limit and rate_window must be positive")
		}
	}

	// Sync
	if c.Sync.BufferCapacity < 1 || c.Sync.LaneCapacity < 1 {
		errs = append(errs, "sync: buffer_capacity and lane_capacity must be >= 1")
	}
	if c.Sync.HandlerRetries < 0 {
		errs = append(errs, "sync: handler_retries must be >= 0")
	}
	if c.Sync.SeedWorkers < 1 {
		errs = append(errs, "sync: seed_workers must be >= 1")
	}
	if c.Sync.LockTTL.Duration < time.Second {
		errs = append(errs, "sync: lock_ttl must be at least 1s")
	}

	// Reconcile
	if c.Reconcile.Interval.Duration <= 0 {
		errs = append(errs, "reconcile: interval must be > 0")
	}
	if c.Reconcile.LeadWindow.Duration < 0 || c.Reconcile.TerminalWindow.Duration <= 0 {
		errs = append(errs, "reconcile: lead_window must be >= 0 and terminal_window > 0")
	}

	// Archive
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, "archive: bucket must not be empty when enabled")
	}

	// Server
	if c.Serves() && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0) {
		errs = append(errs, "server: rate_limit must be >= 0 with a positive rate_window")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
