package config

const redacted = "***"

// RedactedConfig copies cfg with every credential field masked. The startup
// log prints this copy so the active configuration is visible without
// leaking keys.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, field := range []*string{
		&out.Wallet.PrivateKey,
		&out.Wallet.KeyPassword,
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Bot.Token,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *field != "" {
			*field = redacted
		}
	}

	// The struct copy above shares slice backing arrays with cfg. Copy the
	// one slice so mutating the redacted copy cannot touch the original.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}

	return out
}
