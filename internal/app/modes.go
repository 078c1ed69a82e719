package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/polymon/internal/blob/s3"
	"github.com/alanyoungcy/polymon/internal/bot"
	"github.com/alanyoungcy/polymon/internal/crypto"
	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/feed"
	"github.com/alanyoungcy/polymon/internal/pipeline"
	"github.com/alanyoungcy/polymon/internal/platform/polymarket"
	"github.com/alanyoungcy/polymon/internal/retry"
	"github.com/alanyoungcy/polymon/internal/service"
)

// SyncMode runs a one-shot bootstrap of both collections and exits. An
// unclassified fetch failure aborts the run.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	events, markets := a.buildSyncers(deps)

	if err := events.Bootstrap(ctx); err != nil {
		return fmt.Errorf("sync mode: bootstrap events: %w", err)
	}
	if err := markets.Bootstrap(ctx); err != nil {
		return fmt.Errorf("sync mode: bootstrap markets: %w", err)
	}

	// Snapshot the freshly bootstrapped mirror when storage is wired.
	if arch := a.buildArchiver(deps); arch != nil {
		if err := arch.Run(ctx); err != nil {
			a.logger.WarnContext(ctx, "post-sync snapshot failed", slog.String("error", err.Error()))
		}
	}

	a.logger.InfoContext(ctx, "sync complete")
	return nil
}

// MonitorMode bootstraps if needed, then runs the monitor loops, the
// snapshot cron, and the liquidity watcher until cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startMonitorTasks(ctx, g, deps); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	return g.Wait()
}

// BotMode runs the Telegram bot and the new-market alert fan-out.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startBotTasks(ctx, g, deps); err != nil {
		return fmt.Errorf("bot mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs every subsystem in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startMonitorTasks(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if err := a.startBotTasks(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return g.Wait()
}

// buildSyncers wires the event and market sync engines against the remote
// clients and the mirror stores.
func (a *App) buildSyncers(deps *Dependencies) (*pipeline.Syncer[domain.Event], *pipeline.Syncer[domain.Market]) {
	governor := retry.New(a.logger)
	events := pipeline.NewEventSyncer(deps.Gamma, deps.EventStore, a.cfg.Sync.EventPageSize, governor, a.logger)
	markets := pipeline.NewMarketSyncer(deps.Clob, deps.Gamma, deps.MarketStore, governor, a.logger)
	return events, markets
}

// buildArchiver returns the snapshot archiver, or nil when blob storage is
// not wired.
func (a *App) buildArchiver(deps *Dependencies) *pipeline.Archiver {
	if deps.BlobWriter == nil {
		return nil
	}
	snapshots := s3blob.NewSnapshotter(deps.BlobWriter, deps.EventStore, deps.MarketStore)

	var pruner pipeline.SnapshotPruner
	retention := time.Duration(a.cfg.Archiver.RetentionDays) * 24 * time.Hour
	if p, ok := deps.BlobReader.(pipeline.SnapshotPruner); ok && retention > 0 {
		pruner = p
	}
	return pipeline.NewArchiver(snapshots, pruner, retention, a.logger)
}

// startMonitorTasks bootstraps the mirror and adds the monitor loops, the
// archiver cron, and the liquidity watcher to the errgroup.
func (a *App) startMonitorTasks(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	events, markets := a.buildSyncers(deps)

	if err := events.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap events: %w", err)
	}
	if err := markets.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap markets: %w", err)
	}

	interval := a.cfg.Sync.Interval.Duration
	base := a.cfg.Sync.BaseRetryInterval.Duration
	maxFails := a.cfg.Sync.MaxConsecutiveFailures

	eventMon := pipeline.NewMonitor(
		events, interval,
		retry.NewBackoff(base, maxFails),
		deps.Notifier, nil, a.logger,
	)

	// New markets refresh the cache before being announced, so alert
	// keyboards and token lookups see the current metadata.
	marketSvc := service.NewMarketService(deps.MarketStore, deps.MarketCache, a.logger)
	announce := bot.PublishNewMarkets(deps.SignalBus, a.logger)
	onNewMarkets := func(ctx context.Context, newMarkets []domain.Market) {
		marketSvc.RefreshCached(ctx, newMarkets)
		announce(ctx, newMarkets)
	}
	marketMon := pipeline.NewMonitor(
		markets, interval,
		retry.NewBackoff(base, maxFails),
		deps.Notifier,
		onNewMarkets,
		a.logger,
	)
	if a.cfg.Sync.UseLock {
		eventMon.WithLock(deps.LockManager)
		marketMon.WithLock(deps.LockManager)
	}

	g.Go(func() error { return eventMon.RunLoop(ctx) })
	g.Go(func() error { return marketMon.RunLoop(ctx) })

	if arch := a.buildArchiver(deps); arch != nil {
		cron := a.cfg.Archiver.Cron
		g.Go(func() error { return arch.RunCron(ctx, cron) })
	}

	a.startLiquidityWatcher(ctx, g, deps)

	return nil
}

// startLiquidityWatcher adds the liquidity watcher when it is enabled and a
// bot token is available for alert delivery.
func (a *App) startLiquidityWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Liquidity.Enabled {
		return
	}
	if a.cfg.Bot.Token == "" {
		a.logger.WarnContext(ctx, "liquidity watcher disabled, bot.token is not set")
		return
	}

	api := bot.NewClient(a.cfg.Bot.Token)
	limiter := deps.RateLimiter
	notifyFn := func(ctx context.Context, chatID int64, text string) error {
		if err := limiter.Wait(ctx, fmt.Sprintf("send:%d", chatID)); err != nil {
			return err
		}
		return api.SendMessage(ctx, bot.OutgoingMessage{ChatID: chatID, Text: text})
	}

	marketSvc := service.NewMarketService(deps.MarketStore, deps.MarketCache, a.logger)
	watcher := feed.NewLiquidityWatcher(
		a.cfg.Polymarket.WsHost,
		deps.Watches,
		marketSvc,
		deps.Liquidity,
		notifyFn,
		a.cfg.Liquidity.ChangeThreshold,
		a.logger,
	)
	g.Go(func() error { return watcher.Run(ctx) })
}

// startBotTasks builds the order path (signer, authenticated CLOB client,
// order service), the conversation flow, and the bot itself, and adds the
// poll loop and the alert fan-out to the errgroup.
func (a *App) startBotTasks(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, a.cfg.Polymarket.ChainID)
	if err != nil {
		return fmt.Errorf("create signer: %w", err)
	}

	clob := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer, nil)
	if err := clob.DeriveAPIKey(ctx); err != nil {
		a.logger.WarnContext(ctx, "derive API key failed, order submission will be rejected",
			slog.String("error", err.Error()),
		)
	}

	orderSvc := service.NewOrderService(deps.OrderStore, deps.RateLimiter, signer, clob, a.logger)
	marketSvc := service.NewMarketService(deps.MarketStore, deps.MarketCache, a.logger)
	statusSvc := service.NewStatusService(deps.EventStore, deps.MarketStore, a.healthChecks(deps), a.logger)

	api := bot.NewClient(a.cfg.Bot.Token)
	flow := bot.NewFlow(deps.Sessions, marketSvc, orderSvc, a.logger)
	b := bot.New(
		api, flow,
		deps.Subscribers, deps.Watches,
		orderSvc, marketSvc, statusSvc,
		deps.RateLimiter,
		a.logger,
	)

	fanout := bot.NewAlertFanout(
		deps.SignalBus, deps.Subscribers, api,
		deps.RateLimiter,
		a.cfg.Sync.RecentWindow.Duration,
		a.logger,
	)

	g.Go(func() error { return b.Run(ctx) })
	g.Go(func() error { return fanout.Run(ctx) })
	return nil
}

// healthChecks assembles the connectivity probes for the /status report.
func (a *App) healthChecks(deps *Dependencies) []service.HealthCheck {
	checks := []service.HealthCheck{
		{Name: "postgres", Check: func(ctx context.Context) error {
			return deps.Postgres.Pool().Ping(ctx)
		}},
		{Name: "redis", Check: deps.Redis.Ping},
		{Name: "gamma", Check: deps.Gamma.Health},
	}
	if deps.S3 != nil {
		checks = append(checks, service.HealthCheck{Name: "s3", Check: deps.S3.Health})
	}
	return checks
}
