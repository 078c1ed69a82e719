// Package config defines the top-level configuration for the polymon
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYMON_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Sync       SyncConfig       `toml:"sync"`
	Archiver   ArchiverConfig   `toml:"archiver"`
	Liquidity  LiquidityConfig  `toml:"liquidity"`
	Bot        BotConfig        `toml:"bot"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials used to sign orders.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	FunderAddress    string `toml:"funder_address"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// PostgresConfig holds PostgreSQL connection parameters for the mirror.
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

// S3Config holds S3-compatible object storage parameters for snapshots.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SyncConfig holds mirror synchronization parameters shared by the
// bootstrap pass and the monitor loops.
type SyncConfig struct {
	// EventPageSize is the offset-pagination page size for event fetches.
	EventPageSize int `toml:"event_page_size"`
	// Interval is the time between monitor delta passes.
	Interval duration `toml:"interval"`
	// BaseRetryInterval seeds the monitor's exponential backoff.
	BaseRetryInterval duration `toml:"base_retry_interval"`
	// MaxConsecutiveFailures is the threshold that raises a critical
	// operator alert and resets the failure counter.
	MaxConsecutiveFailures int `toml:"max_consecutive_failures"`
	// RecentWindow filters new-market announcements: only markets whose
	// start date falls within the window are fanned out. Zero disables
	// the filter.
	RecentWindow duration `toml:"recent_window"`
	// UseLock makes each monitor pass take the distributed sync lock.
	UseLock bool `toml:"use_lock"`
}

// ArchiverConfig holds snapshot archiving parameters.
type ArchiverConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// LiquidityConfig holds liquidity watcher parameters.
type LiquidityConfig struct {
	Enabled bool `toml:"enabled"`
	// ChangeThreshold is the relative depth change that triggers an
	// alert, e.g. 0.2 for 20%.
	ChangeThreshold float64 `toml:"change_threshold"`
}

// BotConfig holds Telegram bot parameters.
type BotConfig struct {
	Token string `toml:"token"`
	// SendLimit / SendWindow bound outbound messages per chat.
	SendLimit  int      `toml:"send_limit"`
	SendWindow duration `toml:"send_window"`
}

// NotifyConfig holds operator notification channel credentials. These are
// separate from the bot: critical alerts go to the operator, not to
// subscribed chats.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:       137,
			SignatureType: 0,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "polymon",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polymon-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Sync: SyncConfig{
			EventPageSize:          500,
			Interval:               duration{5 * time.Minute},
			BaseRetryInterval:      duration{30 * time.Second},
			MaxConsecutiveFailures: 5,
			RecentWindow:           duration{48 * time.Hour},
			UseLock:                true,
		},
		Archiver: ArchiverConfig{
			Enabled:       true,
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
		Liquidity: LiquidityConfig{
			Enabled:         true,
			ChangeThreshold: 0.2,
		},
		Bot: BotConfig{
			SendLimit:  20,
			SendWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"monitor_failure", "order_failed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":    true,
	"monitor": true,
	"bot":     true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, monitor, bot, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed when orders can be placed.
	needsWallet := c.Mode == "bot" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Bot.Token == "" {
			errs = append(errs, "bot: token is required for mode "+c.Mode)
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 only matters when the archiver runs.
	if c.Archiver.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when the archiver is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when the archiver is enabled")
		}
		if c.Archiver.Cron == "" {
			errs = append(errs, "archiver: cron must not be empty when enabled")
		}
		if c.Archiver.RetentionDays < 0 {
			errs = append(errs, "archiver: retention_days must be >= 0")
		}
	}

	// Sync
	if c.Sync.EventPageSize < 1 {
		errs = append(errs, "sync: event_page_size must be >= 1")
	}
	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be positive")
	}
	if c.Sync.BaseRetryInterval.Duration <= 0 {
		errs = append(errs, "sync: base_retry_interval must be positive")
	}
	if c.Sync.MaxConsecutiveFailures < 1 {
		errs = append(errs, "sync: max_consecutive_failures must be >= 1")
	}

	// Liquidity
	if c.Liquidity.Enabled && c.Liquidity.ChangeThreshold <= 0 {
		errs = append(errs, "liquidity: change_threshold must be > 0 when enabled")
	}

	// Bot send limiter
	if c.Bot.SendLimit < 1 {
		errs = append(errs, "bot: send_limit must be >= 1")
	}
	if c.Bot.SendWindow.Duration <= 0 {
		errs = append(errs, "bot: send_window must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
