package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
	"github.com/solwatch/solwatch/internal/risk"
)

// Params collects the engine-level tunables not owned by a sub-component.
type Params struct {
	MaxPositions        int
	MinConfidence       float64
	StopLossPercent     float64
	TakeProfitPercent   float64
	Sizing              risk.SizingParams
	LiquidateOnShutdown bool
	ShutdownTimeout     time.Duration
}

// Engine ties the book, monitor, and coordinator together and owns the
// lifecycle: rehydrate, run, liquidate, stop. Entry signals arrive through
// SubmitEntry; exits are decided by the monitor or requested through
// ClosePosition.
type Engine struct {
	book    *Book
	monitor *Monitor
	coord   *Coordinator
	venue   domain.ExecutionVenue
	feed    domain.PriceFeed
	params  Params
	logger  *slog.Logger

	stopping atomic.Bool

	// entryMu serializes admission checks so two concurrent entries cannot
	// both pass the position ceiling.
	entryMu sync.Mutex
}

func New(
	book *Book,
	monitor *Monitor,
	coord *Coordinator,
	venue domain.ExecutionVenue,
	feed domain.PriceFeed,
	params Params,
	logger *slog.Logger,
) *Engine {
	if params.ShutdownTimeout <= 0 {
		params.ShutdownTimeout = 30 * time.Second
	}
	return &Engine{
		book:    book,
		monitor: monitor,
		coord:   coord,
		venue:   venue,
		feed:    feed,
		params:  params,
		logger:  logger.With(slog.String("component", "engine")),
	}
}

// Run rehydrates the book, then drives the monitor until ctx is cancelled.
// On cancellation the in-flight round finishes, shutdown liquidation runs if
// configured, and only then does Run return.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.book.Rehydrate(ctx, e.feed, RehydrateParams{
		Staleness:         e.monitor.params.Interval * 3,
		StopLossPercent:   e.params.StopLossPercent,
		TakeProfitPercent: e.params.TakeProfitPercent,
	}); err != nil {
		return err
	}

	e.logger.Info("engine running",
		slog.Int("active_positions", e.book.Len()),
		slog.Bool("liquidate_on_shutdown", e.params.LiquidateOnShutdown),
	)

	err := e.monitor.Run(ctx)

	e.stopping.Store(true)
	if e.params.LiquidateOnShutdown {
		e.liquidate()
	}
	e.logger.Info("engine stopped")
	return err
}

// ActiveMints returns the mints of all currently active positions. The live
// price stream uses it to keep its subscriptions in sync with the book.
func (e *Engine) ActiveMints() []string {
	active := e.book.Active()
	mints := make([]string, 0, len(active))
	for _, pos := range active {
		mints = append(mints, pos.Mint)
	}
	return mints
}

// SubmitEntry admits an external entry signal: scores it against the
// confidence gate, enforces the position ceiling and the one-per-mint rule,
// sizes the order when the signal carries no quantity, and hands it to the
// coordinator. Defaults for stop and target are derived from the signal price
// when absent.
func (e *Engine) SubmitEntry(ctx context.Context, sig domain.TradeSignal) (domain.Position, error) {
	if e.stopping.Load() {
		return domain.Position{}, domain.ErrShuttingDown
	}
	if sig.Kind != domain.SignalKindEntry {
		return domain.Position{}, &domain.ValidationError{Field: "kind", Reason: "entry signal required"}
	}
	if sig.Confidence < e.params.MinConfidence {
		return domain.Position{}, &domain.ValidationError{
			Field:  "confidence",
			Reason: fmt.Sprintf("%.2f below minimum %.2f", sig.Confidence, e.params.MinConfidence),
		}
	}

	e.entryMu.Lock()
	defer e.entryMu.Unlock()

	if e.params.MaxPositions > 0 && e.book.Len() >= e.params.MaxPositions {
		return domain.Position{}, &domain.ValidationError{
			Field:  "positions",
			Reason: fmt.Sprintf("ceiling of %d active positions reached", e.params.MaxPositions),
		}
	}
	if _, exists := e.book.GetByMint(sig.Mint); exists {
		return domain.Position{}, fmt.Errorf("engine: submit entry %s: %w", sig.Mint, domain.ErrDuplicatePosition)
	}

	if sig.Quantity <= 0 {
		balance, err := e.venue.Balance(ctx)
		if err != nil {
			return domain.Position{}, &domain.TransientError{Op: "fetch balance", Err: err}
		}
		notional, ok := risk.Size(e.params.Sizing, balance, sig.Confidence)
		if !ok {
			return domain.Position{}, &domain.ValidationError{
				Field:  "size",
				Reason: fmt.Sprintf("computed size below minimum %.2f", e.params.Sizing.MinPositionSize),
			}
		}
		if sig.Price <= 0 {
			return domain.Position{}, &domain.ValidationError{Field: "price", Reason: "must be positive"}
		}
		sig.Quantity = notional / sig.Price
	}

	if sig.StopLoss <= 0 {
		sig.StopLoss = sig.Price * (1 - e.params.StopLossPercent/100)
	}
	if sig.TakeProfit <= 0 {
		sig.TakeProfit = sig.Price * (1 + e.params.TakeProfitPercent/100)
	}

	return e.coord.Open(ctx, sig)
}

// ClosePosition routes a manual exit for the position with the given id.
func (e *Engine) ClosePosition(ctx context.Context, id string) (domain.Position, error) {
	pos, ok := e.book.Get(id)
	if !ok {
		return domain.Position{}, fmt.Errorf("engine: close %s: %w", id, domain.ErrNotFound)
	}
	return e.coord.Close(ctx, pos, domain.CloseReasonManual, false)
}

// liquidate closes every remaining active position with reason shutdown.
// Each close runs independently; a failure forces that position closed and
// never aborts the others. The parent context is already cancelled by the
// time this runs, so liquidation gets its own deadline.
func (e *Engine) liquidate() {
	ctx, cancel := context.WithTimeout(context.Background(), e.params.ShutdownTimeout)
	defer cancel()

	active := e.book.Active()
	if len(active) == 0 {
		return
	}
	e.logger.Info("liquidating on shutdown", slog.Int("positions", len(active)))

	var wg sync.WaitGroup
	for _, pos := range active {
		pos := pos
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.coord.Close(ctx, pos, domain.CloseReasonShutdown, true); err != nil {
				e.logger.Error("shutdown close failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	wg.Wait()

	if remaining := e.book.Len(); remaining > 0 {
		e.logger.Error("positions left active after liquidation", slog.Int("count", remaining))
	}
}
