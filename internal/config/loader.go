package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WAGERWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WAGERWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.WSEndpoint, "WAGERWATCH_CHAIN_WS_ENDPOINT")
	setStr(&cfg.Chain.HTTPEndpoint, "WAGERWATCH_CHAIN_HTTP_ENDPOINT")
	setStr(&cfg.Chain.ContractAddress, "WAGERWATCH_CHAIN_CONTRACT_ADDRESS")
	setUint64(&cfg.Chain.StartBlock, "WAGERWATCH_CHAIN_START_BLOCK")
	setStr(&cfg.Chain.ABIPath, "WAGERWATCH_CHAIN_ABI_PATH")
	setUint64(&cfg.Chain.LogChunkSize, "WAGERWATCH_CHAIN_LOG_CHUNK_SIZE")
	setDuration(&cfg.Chain.ReconnectIncrement, "WAGERWATCH_CHAIN_RECONNECT_INCREMENT")
	setInt(&cfg.Chain.MaxReconnects, "WAGERWATCH_CHAIN_MAX_RECONNECTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WAGERWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WAGERWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAGERWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAGERWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAGERWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAGERWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAGERWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WAGERWATCH_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WAGERWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WAGERWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGERWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGERWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGERWATCH_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "WAGERWATCH_REDIS_TLS_ENABLED")

	// ── Feed ──
	setStr(&cfg.Feed.BaseURL, "WAGERWATCH_FEED_BASE_URL")
	setStr(&cfg.Feed.APIKey, "WAGERWATCH_FEED_API_KEY")
	setInt(&cfg.Feed.RateLimit, "WAGERWATCH_FEED_RATE_LIMIT")
	setDuration(&cfg.Feed.RateWindow, "WAGERWATCH_FEED_RATE_WINDOW")
	setDuration(&cfg.Feed.Timeout, "WAGERWATCH_FEED_TIMEOUT")

	// ── Sync ──
	setInt(&cfg.Sync.BufferCapacity, "WAGERWATCH_SYNC_BUFFER_CAPACITY")
	setInt(&cfg.Sync.LaneCapacity, "WAGERWATCH_SYNC_LANE_CAPACITY")
	setInt(&cfg.Sync.HandlerRetries, "WAGERWATCH_SYNC_HANDLER_RETRIES")
	setDuration(&cfg.Sync.RetryBackoff, "WAGERWATCH_SYNC_RETRY_BACKOFF")
	setInt(&cfg.Sync.SeedWorkers, "WAGERWATCH_SYNC_SEED_WORKERS")
	setDuration(&cfg.Sync.LockTTL, "WAGERWATCH_SYNC_LOCK_TTL")

	// ── Reconcile ──
	setDuration(&cfg.Reconcile.LeadWindow, "WAGERWATCH_RECONCILE_LEAD_WINDOW")
	setDuration(&cfg.Reconcile.TerminalWindow, "WAGERWATCH_RECONCILE_TERMINAL_WINDOW")
	setDuration(&cfg.Reconcile.Interval, "WAGERWATCH_RECONCILE_INTERVAL")
	setDuration(&cfg.Reconcile.BetDebounce, "WAGERWATCH_RECONCILE_BET_DEBOUNCE")
	setDuration(&cfg.Reconcile.MatchDebounce, "WAGERWATCH_RECONCILE_MATCH_DEBOUNCE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WAGERWATCH_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "WAGERWATCH_ARCHIVE_PREFIX")
	setStr(&cfg.Archive.Endpoint, "WAGERWATCH_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "WAGERWATCH_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "WAGERWATCH_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "WAGERWATCH_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "WAGERWATCH_ARCHIVE_SECRET_KEY")

	// ── Server ──
	setInt(&cfg.Server.Port, "WAGERWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WAGERWATCH_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "WAGERWATCH_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGERWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGERWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGERWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGERWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAGERWATCH_MODE")
	setStr(&cfg.LogLevel, "WAGERWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses cleanly.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
