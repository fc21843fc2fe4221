package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solwatch/solwatch/internal/domain"
	"github.com/solwatch/solwatch/internal/engine"
	"github.com/solwatch/solwatch/internal/feed"
	"github.com/solwatch/solwatch/internal/notify"
	"github.com/solwatch/solwatch/internal/risk"
	"github.com/solwatch/solwatch/internal/scoring"
	"github.com/solwatch/solwatch/internal/service"
)

// engineLockTTL bounds how long a crashed instance can hold the per-wallet
// trading lock before another instance may take over.
const engineLockTTL = 15 * time.Minute

// performanceReportInterval is how often the realized results are logged.
const performanceReportInterval = time.Hour

// TradeMode runs the trading engine: monitor rounds, entry signal intake, and
// the live price stream. A per-wallet Redis lock guarantees two instances
// never trade the same book.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	unlock, err := deps.LockManager.Acquire(ctx, "engine:"+deps.Wallet.PublicKey(), engineLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("trade mode: another instance is trading this wallet: %w", err)
		}
		return fmt.Errorf("trade mode: acquire engine lock: %w", err)
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)

	eng := a.buildEngine(deps)
	g.Go(func() error {
		return eng.Run(ctx)
	})

	feeder := feed.NewSignalFeeder(deps.Bus, eng, a.logger)
	g.Go(func() error {
		return feeder.Run(ctx)
	})

	stream := feed.NewPriceStream(
		a.cfg.Birdeye.WsHost,
		a.cfg.Birdeye.ApiKey,
		eng.ActiveMints,
		deps.PriceCache,
		a.logger,
	)
	g.Go(func() error {
		defer stream.Close()
		return stream.Run(ctx)
	})

	relay := notify.NewRelay(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		return relay.Run(ctx)
	})

	if a.cfg.Screener.Enabled {
		screener := service.NewScreener(
			deps.Birdeye,
			deps.TokenStore,
			scoring.NewScorer(scoring.DefaultWeights()),
			deps.Bus,
			a.cfg.Screener.Mints,
			a.cfg.Screener.Interval.Duration,
			a.cfg.Engine.MinConfidence,
			a.logger,
		)
		g.Go(func() error {
			return screener.Run(ctx)
		})
	}

	a.startPerformanceLoop(ctx, g, deps)

	return g.Wait()
}

// MonitorMode observes without trading: the price stream warms the cache for
// whatever positions are active in the store, lifecycle events reach the
// notifier, and realized results are reported periodically.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	activeMints := func() []string {
		listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		positions, err := deps.PositionStore.ListByStatus(listCtx, domain.PositionStatusActive)
		if err != nil {
			a.logger.Warn("monitor mode: list active positions failed", slog.String("error", err.Error()))
			return nil
		}
		mints := make([]string, 0, len(positions))
		for _, pos := range positions {
			mints = append(mints, pos.Mint)
		}
		return mints
	}

	stream := feed.NewPriceStream(
		a.cfg.Birdeye.WsHost,
		a.cfg.Birdeye.ApiKey,
		activeMints,
		deps.PriceCache,
		a.logger,
	)
	g.Go(func() error {
		defer stream.Close()
		return stream.Run(ctx)
	})

	relay := notify.NewRelay(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		return relay.Run(ctx)
	})

	a.startPerformanceLoop(ctx, g, deps)

	return g.Wait()
}

// ArchiveMode runs only the cold-storage archival loop.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: blob storage is not wired")
	}

	svc := service.NewArchiveService(
		deps.Archiver,
		deps.TradeStore,
		deps.BlobReader,
		a.cfg.Archive.RetentionDays,
		a.cfg.Archive.Interval.Duration,
		a.logger,
	)
	return svc.Run(ctx)
}

// FullMode runs everything: trading plus archival when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.TradeMode(ctx, deps)
	})

	if a.cfg.Archive.Enabled {
		if deps.Archiver == nil {
			return fmt.Errorf("full mode: archive enabled but blob storage is not wired")
		}
		svc := service.NewArchiveService(
			deps.Archiver,
			deps.TradeStore,
			deps.BlobReader,
			a.cfg.Archive.RetentionDays,
			a.cfg.Archive.Interval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return svc.Run(ctx)
		})
	}

	return g.Wait()
}

// buildEngine assembles the position book, risk evaluator, coordinator, and
// monitor from the engine configuration.
func (a *App) buildEngine(deps *Dependencies) *engine.Engine {
	cfg := a.cfg.Engine

	book := engine.NewBook(deps.PositionStore, a.logger)

	// Live WS prices land in the cache; the monitor reads them from there and
	// only falls through to HTTP when the cache entry has gone stale.
	priceFeed := feed.NewCachedFeed(deps.PriceCache, deps.PriceFeed, cfg.StalenessThreshold.Duration, a.logger)

	eval := risk.NewEvaluator(risk.Params{
		TrailingActivationPercent: cfg.TrailingActivationPercent,
		TrailingDistance:          cfg.TrailingDistance,
		VolatilityThreshold:       cfg.VolatilityThreshold,
		VolatilityTPMultiplier:    cfg.VolatilityTPMultiplier,
	})

	coord := engine.NewCoordinator(book, deps.Venue, deps.TradeStore, deps.Bus, engine.CoordinatorParams{
		MinConfidence:   cfg.MinConfidence,
		MinPositionSize: cfg.MinPositionSize,
		MaxPositionSize: cfg.MaxPositionSize,
	}, a.logger)

	monitor := engine.NewMonitor(book, priceFeed, eval, coord, engine.MonitorParams{
		Interval:    cfg.MonitorInterval.Duration,
		MaxParallel: cfg.MaxParallelChecks,
	}, a.logger)

	return engine.New(book, monitor, coord, deps.Venue, priceFeed, engine.Params{
		MaxPositions:      cfg.MaxPositions,
		MinConfidence:     cfg.MinConfidence,
		StopLossPercent:   cfg.StopLossPercent,
		TakeProfitPercent: cfg.TakeProfitPercent,
		Sizing: risk.SizingParams{
			MinPositionSize:     cfg.MinPositionSize,
			MaxPositionSize:     cfg.MaxPositionSize,
			SizeFraction:        cfg.SizeFraction,
			MaxPositionFraction: cfg.MaxPositionFraction,
		},
		LiquidateOnShutdown: cfg.LiquidateOnShutdown,
		ShutdownTimeout:     cfg.ShutdownTimeout.Duration,
	}, a.logger)
}

// startPerformanceLoop logs a realized-results report at a fixed interval.
func (a *App) startPerformanceLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	perf := service.NewPerformanceService(deps.TradeStore, a.logger)

	g.Go(func() error {
		ticker := time.NewTicker(performanceReportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				until := time.Now().UTC()
				since := until.Add(-24 * time.Hour)
				report, err := perf.Report(ctx, since, until)
				if err != nil {
					a.logger.Warn("performance report failed", slog.String("error", err.Error()))
					continue
				}
				a.logger.Info("24h performance",
					slog.Int("trades", report.TradesTotal),
					slog.Int("exits", report.Exits),
					slog.Float64("win_rate", report.WinRate),
					slog.Float64("realized_pnl", report.RealizedPnL),
					slog.Float64("fees_usd", report.TotalFeesUSD),
				)
			}
		}
	})
}
