package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix is the prefix of every environment override.
const envPrefix = "AMONGFRIENDS_"

// mainnetOverrides are the chains whose contract address can be injected
// through AMONGFRIENDS_CONTRACT_<chain id>.
var mainnetOverrides = []uint64{1, 137, 42161}

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AMONGFRIENDS_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AMONGFRIENDS_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CHAIN_RPC_URL")
	setUint64(&cfg.Chain.ChainID, "CHAIN_ID")
	setDuration(&cfg.Chain.PollInterval, "CHAIN_POLL_INTERVAL")
	setUint64(&cfg.Chain.GasMarginPct, "CHAIN_GAS_MARGIN_PCT")
	setBool(&cfg.Chain.Testnets, "CHAIN_TESTNETS")
	for _, id := range mainnetOverrides {
		key := strconv.FormatUint(id, 10)
		if v := os.Getenv(envPrefix + "CONTRACT_" + key); v != "" {
			if cfg.Chain.Contracts == nil {
				cfg.Chain.Contracts = map[string]string{}
			}
			cfg.Chain.Contracts[key] = v
		}
	}

	// ── Approval ──
	setStr(&cfg.Approval.Policy, "APPROVAL_POLICY")

	// ── Pinning ──
	setStr(&cfg.Pinning.Endpoint, "PINNING_ENDPOINT")
	setStr(&cfg.Pinning.GatewayURL, "PINNING_GATEWAY_URL")
	setStr(&cfg.Pinning.APIKey, "PINNING_API_KEY")
	setStr(&cfg.Pinning.APISecret, "PINNING_API_SECRET")
	setDuration(&cfg.Pinning.Timeout, "PINNING_TIMEOUT")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.SnapshotTTL, "REDIS_SNAPSHOT_TTL")
	setDuration(&cfg.Redis.LockTTL, "REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.CORSHeaders, "SERVER_CORS_HEADERS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setStr(&cfg.Server.SessionSecret, "SERVER_SESSION_SECRET")
	setDuration(&cfg.Server.SessionMaxAge, "SERVER_SESSION_MAX_AGE")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Watcher ──
	setDuration(&cfg.Watcher.Interval, "WATCHER_INTERVAL")
	setDuration(&cfg.Watcher.ArchiveInterval, "WATCHER_ARCHIVE_INTERVAL")
	setStr(&cfg.Watcher.ArchiveCron, "WATCHER_ARCHIVE_CRON")
	setInt(&cfg.Watcher.ArchiveAfterDays, "WATCHER_ARCHIVE_AFTER_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the prefixed
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
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
