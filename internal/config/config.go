// Package config defines the top-level configuration for the AmongFriends
// service and provides validation helpers.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AMONGFRIENDS_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Approval ApprovalConfig `toml:"approval"`
	Pinning  PinningConfig  `toml:"pinning"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Watcher  WatcherConfig  `toml:"watcher"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing key. Leaving both sources empty runs the
// service without a connected wallet.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig selects the network and RPC endpoint.
type ChainConfig struct {
	RPCURL       string   `toml:"rpc_url"`
	ChainID      uint64   `toml:"chain_id"`
	PollInterval duration `toml:"poll_interval"`
	GasMarginPct uint64   `toml:"gas_margin_pct"`
	Testnets     bool     `toml:"testnets"`
	// Contracts maps a decimal chain ID to a contract address override.
	Contracts map[string]string `toml:"contracts"`
}

// ContractOverrides returns Contracts keyed by numeric chain ID.
func (c ChainConfig) ContractOverrides() (map[uint64]string, error) {
	out := make(map[uint64]string, len(c.Contracts))
	for k, v := range c.Contracts {
		id, err := strconv.ParseUint(strings.TrimSpace(k), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chain: contracts key %q is not a chain id", k)
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[id] = strings.TrimSpace(v)
	}
	return out, nil
}

// ApprovalConfig controls how much token allowance a flow grants.
type ApprovalConfig struct {
	// Policy is "exact" (approve the stake) or "unlimited".
	Policy string `toml:"policy"`
}

// PinningConfig holds the metadata pinning service settings.
type PinningConfig struct {
	Endpoint   string   `toml:"endpoint"`
	GatewayURL string   `toml:"gateway_url"`
	APIKey     string   `toml:"api_key"`
	APISecret  string   `toml:"api_secret"`
	Timeout    duration `toml:"timeout"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	KeyPrefix   string   `toml:"key_prefix"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
	LockTTL     duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	CORSHeaders   []string `toml:"cors_headers"`
	APIKey        string   `toml:"api_key"`
	SessionSecret string   `toml:"session_secret"`
	SessionMaxAge duration `toml:"session_max_age"`
	// RateLimit is the number of requests allowed per client per minute.
	// Zero disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// WatcherConfig controls the phase watcher and audit archiving.
type WatcherConfig struct {
	Interval        duration `toml:"interval"`
	ArchiveInterval duration `toml:"archive_interval"`
	// ArchiveCron, when set, schedules archiving with a five-field cron
	// expression instead of ArchiveInterval.
	ArchiveCron string `toml:"archive_cron"`
	// ArchiveAfterDays moves audit rows older than this to object storage.
	ArchiveAfterDays int `toml:"archive_after_days"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:       "https://sepolia.base.org",
			ChainID:      84532,
			PollInterval: duration{2 * time.Second},
			GasMarginPct: 20,
			Testnets:     true,
			Contracts:    map[string]string{},
		},
		Approval: ApprovalConfig{Policy: "exact"},
		Pinning: PinningConfig{
			Endpoint:   "https://api.pinata.cloud/pinning/pinJSONToIPFS",
			GatewayURL: "https://gateway.pinata.cloud/ipfs/",
			Timeout:    duration{30 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			KeyPrefix:   "af:",
			SnapshotTTL: duration{10 * time.Second},
			LockTTL:     duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:        true,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "amongfriends",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			SessionMaxAge: duration{24 * time.Hour},
			RateLimit:     120,
		},
		Notify: NotifyConfig{
			Events: []string{"flow_failed", "bet_created", "bet_joined", "bet_resolved"},
		},
		Watcher: WatcherConfig{
			Interval:         duration{30 * time.Second},
			ArchiveInterval:  duration{24 * time.Hour},
			ArchiveAfterDays: 90,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"watch":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPolicies = map[string]bool{
	"exact":     true,
	"unlimited": true,
}

// ServesHTTP reports whether the mode runs the HTTP API.
func (c *Config) ServesHTTP() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Watches reports whether the mode runs the phase watcher.
func (c *Config) Watches() bool {
	m := strings.ToLower(c.Mode)
	return m == "watch" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, watch, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID == 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if _, err := c.Chain.ContractOverrides(); err != nil {
		errs = append(errs, err.Error())
	}

	if !validPolicies[strings.ToLower(c.Approval.Policy)] {
		errs = append(errs, fmt.Sprintf("approval: unknown policy %q (valid: exact, unlimited)", c.Approval.Policy))
	}

	// Pinning is only exercised by the create flow, which needs a wallet.
	if c.ServesHTTP() && c.Pinning.Endpoint == "" {
		errs = append(errs, "pinning: endpoint must not be empty")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.ServesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if len(c.Server.SessionSecret) < 16 {
			errs = append(errs, "server: session_secret must be at least 16 characters")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Watcher
	if c.Watches() && c.Watcher.Interval.Duration < time.Second {
		errs = append(errs, "watcher: interval must be at least 1s")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
