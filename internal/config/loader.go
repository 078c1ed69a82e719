package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYMON_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYMON_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYMON_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYMON_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYMON_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.FunderAddress, "POLYMON_WALLET_FUNDER_ADDRESS")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYMON_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYMON_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYMON_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYMON_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYMON_POLYMARKET_SIGNATURE_TYPE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYMON_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYMON_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYMON_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYMON_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYMON_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYMON_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYMON_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYMON_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYMON_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYMON_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYMON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYMON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYMON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYMON_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYMON_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYMON_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYMON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYMON_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYMON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYMON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYMON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYMON_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYMON_S3_FORCE_PATH_STYLE")

	// ── Sync ──
	setInt(&cfg.Sync.EventPageSize, "POLYMON_SYNC_EVENT_PAGE_SIZE")
	setDuration(&cfg.Sync.Interval, "POLYMON_SYNC_INTERVAL")
	setDuration(&cfg.Sync.BaseRetryInterval, "POLYMON_SYNC_BASE_RETRY_INTERVAL")
	setInt(&cfg.Sync.MaxConsecutiveFailures, "POLYMON_SYNC_MAX_CONSECUTIVE_FAILURES")
	setDuration(&cfg.Sync.RecentWindow, "POLYMON_SYNC_RECENT_WINDOW")
	setBool(&cfg.Sync.UseLock, "POLYMON_SYNC_USE_LOCK")

	// ── Archiver ──
	setBool(&cfg.Archiver.Enabled, "POLYMON_ARCHIVER_ENABLED")
	setStr(&cfg.Archiver.Cron, "POLYMON_ARCHIVER_CRON")
	setInt(&cfg.Archiver.RetentionDays, "POLYMON_ARCHIVER_RETENTION_DAYS")

	// ── Liquidity ──
	setBool(&cfg.Liquidity.Enabled, "POLYMON_LIQUIDITY_ENABLED")
	setFloat64(&cfg.Liquidity.ChangeThreshold, "POLYMON_LIQUIDITY_CHANGE_THRESHOLD")

	// ── Bot ──
	setStr(&cfg.Bot.Token, "POLYMON_BOT_TOKEN")
	setInt(&cfg.Bot.SendLimit, "POLYMON_BOT_SEND_LIMIT")
	setDuration(&cfg.Bot.SendWindow, "POLYMON_BOT_SEND_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYMON_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYMON_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYMON_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYMON_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYMON_MODE")
	setStr(&cfg.LogLevel, "POLYMON_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
