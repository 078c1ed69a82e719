// Command polymon mirrors Polymarket events and markets into Postgres and
// runs the Telegram alert and order bot on top of the mirror. The operating
// mode comes from the config file and can be overridden with -mode.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/polymon/internal/app"
	"github.com/alanyoungcy/polymon/internal/config"
)

func main() {
	os.Exit(run())
}

// run carries the exit code back to main so deferred cleanup still fires.
func run() int {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	modeFlag := flag.String("mode", "", "override the [mode] from the config file (sync, monitor, bot, full)")
	flag.Parse()

	// Bootstrap logger until the configured level is known.
	logger := newLogger(slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}
	if *modeFlag != "" {
		cfg.Mode = *modeFlag
	}

	logger = newLogger(parseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("polymon starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.String("log_level", cfg.LogLevel),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("polymon stopped")
		return 0
	default:
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return 1
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// parseLevel maps the configured log level to slog's, defaulting to info.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
