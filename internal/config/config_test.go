package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "monitor"

[postgres]
database = "polymon_test"

[sync]
interval = "90s"
event_page_size = 100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Explicit values from the file.
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "polymon_test", cfg.Postgres.Database)
	assert.Equal(t, 90*time.Second, cfg.Sync.Interval.Duration)
	assert.Equal(t, 100, cfg.Sync.EventPageSize)

	// Untouched values keep their defaults.
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 137, cfg.Polymarket.ChainID)
	assert.Equal(t, 30*time.Second, cfg.Sync.BaseRetryInterval.Duration)
	assert.Equal(t, "0 3 * * *", cfg.Archiver.Cron)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
mode = "sync"

[redis]
addr = "redis-from-file:6379"
`)

	t.Setenv("POLYMON_REDIS_ADDR", "redis-from-env:6380")
	t.Setenv("POLYMON_SYNC_INTERVAL", "2m")
	t.Setenv("POLYMON_LIQUIDITY_CHANGE_THRESHOLD", "0.35")
	t.Setenv("POLYMON_POSTGRES_RUN_MIGRATIONS", "false")
	t.Setenv("POLYMON_NOTIFY_EVENTS", "error, order_failed")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis-from-env:6380", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval.Duration)
	assert.Equal(t, 0.35, cfg.Liquidity.ChangeThreshold)
	assert.False(t, cfg.Postgres.RunMigrations)
	assert.Equal(t, []string{"error", "order_failed"}, cfg.Notify.Events)
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	path := writeConfigFile(t, `mode = "sync"`)

	t.Setenv("POLYMON_POSTGRES_PORT", "not-a-number")
	t.Setenv("POLYMON_SYNC_INTERVAL", "soonish")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval.Duration)
}

func TestValidateDefaultsForSyncMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sync"

	assert.NoError(t, cfg.Validate())
}

func TestValidateWalletRequiredForBotModes(t *testing.T) {
	for _, mode := range []string{"bot", "full"} {
		t.Run(mode, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = mode

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "private_key or encrypted_key_path")
			assert.Contains(t, err.Error(), "token is required")

			cfg.Wallet.PrivateKey = "deadbeef"
			cfg.Bot.Token = "123:abc"
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "warp"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Sync.EventPageSize = 0
	cfg.Archiver.Cron = ""

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "warp"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "redis: addr")
	assert.Contains(t, msg, "event_page_size")
	assert.Contains(t, msg, "archiver: cron")
}

func TestValidateArchiverChecksSkippedWhenDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sync"
	cfg.Archiver.Enabled = false
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""
	cfg.Archiver.Cron = ""

	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "secret-key"
	cfg.Postgres.Password = "pg-pass"
	cfg.Bot.Token = "123:abc"
	cfg.Notify.TelegramToken = "456:def"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Bot.Token)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Originals are untouched.
	assert.Equal(t, "secret-key", cfg.Wallet.PrivateKey)
	assert.Equal(t, "pg-pass", cfg.Postgres.Password)
}
