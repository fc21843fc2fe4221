package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solwatch/solwatch/internal/domain"
	"github.com/solwatch/solwatch/internal/risk"
)

// MonitorParams tune the evaluation loop.
type MonitorParams struct {
	Interval    time.Duration
	MaxParallel int // cap on concurrent per-position tasks; 0 means unbounded
}

// Monitor drives the evaluation loop: every interval it snapshots the active
// book, fans out one task per position, applies the evaluator's decision, and
// joins before the round ends. Rounds are serialized; a tick that fires while
// a round is still in flight is skipped, not queued.
type Monitor struct {
	book   *Book
	feed   domain.PriceFeed
	eval   *risk.Evaluator
	coord  *Coordinator
	params MonitorParams
	logger *slog.Logger

	inRound atomic.Bool
	rounds  atomic.Int64
}

func NewMonitor(
	book *Book,
	feed domain.PriceFeed,
	eval *risk.Evaluator,
	coord *Coordinator,
	params MonitorParams,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		book:   book,
		feed:   feed,
		eval:   eval,
		coord:  coord,
		params: params,
		logger: logger.With(slog.String("component", "monitor")),
	}
}

// Run fires evaluation rounds until the context is cancelled. The in-flight
// round always finishes; cancellation only stops scheduling.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", slog.Duration("interval", m.params.Interval))
	defer m.logger.Info("monitor stopped", slog.Int64("rounds", m.rounds.Load()))

	ticker := time.NewTicker(m.params.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunRound(ctx)
		}
	}
}

// RunRound executes one evaluation round. If a previous round has not joined
// yet the call returns immediately: two rounds never run concurrently, so no
// two tasks ever write the same position.
func (m *Monitor) RunRound(ctx context.Context) {
	if !m.inRound.CompareAndSwap(false, true) {
		m.logger.Warn("previous round still running, skipping tick")
		return
	}
	defer m.inRound.Store(false)

	snapshot := m.book.Active()
	if len(snapshot) == 0 {
		return
	}

	start := time.Now()
	var g errgroup.Group
	if m.params.MaxParallel > 0 {
		g.SetLimit(m.params.MaxParallel)
	}
	for _, pos := range snapshot {
		pos := pos
		g.Go(func() error {
			// Task errors are contained here: one position's failure never
			// reaches the others or the scheduler.
			m.evaluateOne(ctx, pos)
			return nil
		})
	}
	_ = g.Wait()

	m.rounds.Add(1)
	m.logger.Debug("round complete",
		slog.Int("positions", len(snapshot)),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// evaluateOne refreshes one position's mark and applies the evaluator's
// decision to that position's own slot. The metric refresh is persisted
// before any stop, target, or exit action.
func (m *Monitor) evaluateOne(ctx context.Context, pos domain.Position) {
	price, err := m.feed.GetPrice(ctx, pos.Mint)
	if err != nil {
		terr := &domain.TransientError{Op: "fetch price " + pos.Mint, Err: err}
		m.logger.Warn("price fetch failed, position held",
			slog.String("position_id", pos.ID),
			slog.String("mint", pos.Mint),
			slog.String("error", terr.Error()),
		)
		return
	}

	metrics := domain.MarketMetrics{}
	history, err := m.feed.GetHistoricalPrices(ctx, pos.Mint)
	if err != nil {
		m.logger.Debug("history fetch failed, volatility skipped",
			slog.String("mint", pos.Mint),
			slog.String("error", err.Error()),
		)
	} else {
		metrics = risk.Volatility(history)
	}

	now := time.Now().UTC()
	pos.MarkPrice(price, now)
	pos.Volatility = metrics.Volatility

	action := m.eval.Evaluate(pos, price, metrics)
	switch action.Type {
	case risk.ActionExit:
		if err := m.book.Upsert(ctx, pos); err != nil {
			m.logger.Warn("mark persist before exit failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
		if _, err := m.coord.Close(ctx, pos, action.Reason, false); err != nil {
			m.logger.Warn("exit failed, position stays active",
				slog.String("position_id", pos.ID),
				slog.String("mint", pos.Mint),
				slog.String("error", err.Error()),
			)
		}

	case risk.ActionRaiseStopLoss:
		if pos.RaiseStopLoss(action.Level, now) {
			m.logger.Info("trailing stop raised",
				slog.String("position_id", pos.ID),
				slog.String("mint", pos.Mint),
				slog.Float64("stop_loss", pos.StopLoss),
			)
		}
		m.persistUpdate(ctx, pos, true)

	case risk.ActionAdjustTakeProfit:
		pos.TakeProfit = action.Level
		m.logger.Info("take profit adjusted for volatility",
			slog.String("position_id", pos.ID),
			slog.String("mint", pos.Mint),
			slog.Float64("take_profit", pos.TakeProfit),
			slog.Float64("volatility", pos.Volatility),
		)
		m.persistUpdate(ctx, pos, true)

	default:
		m.persistUpdate(ctx, pos, false)
	}
}

// persistUpdate mirrors the refreshed position and, for level changes,
// publishes the updated event.
func (m *Monitor) persistUpdate(ctx context.Context, pos domain.Position, levelsChanged bool) {
	if err := m.book.Upsert(ctx, pos); err != nil {
		m.logger.Warn("position update persist failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if levelsChanged {
		m.coord.publishPosition(ctx, domain.TopicPositionUpdated, pos)
	}
}
