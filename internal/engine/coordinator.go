package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solwatch/solwatch/internal/domain"
)

// CoordinatorParams bound what the coordinator will accept as an entry.
type CoordinatorParams struct {
	MinConfidence   float64
	MinPositionSize float64 // USD notional floor
	MaxPositionSize float64 // USD notional cap
}

// Coordinator turns decisions into venue executions and settles the result
// into the book, the trade log, and the event bus. It owns both lifecycle
// transitions: entry execution creates positions, exit settlement closes
// them.
type Coordinator struct {
	book   *Book
	venue  domain.ExecutionVenue
	trades domain.TradeStore
	bus    domain.EventBus
	params CoordinatorParams
	logger *slog.Logger
}

func NewCoordinator(
	book *Book,
	venue domain.ExecutionVenue,
	trades domain.TradeStore,
	bus domain.EventBus,
	params CoordinatorParams,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		book:   book,
		venue:  venue,
		trades: trades,
		bus:    bus,
		params: params,
		logger: logger.With(slog.String("component", "coordinator")),
	}
}

// Open validates the entry signal, routes it through the venue, and on a
// settled fill registers a new active position. A rejection or transport
// failure is recorded as a FailedTrade and published; no position is created.
func (c *Coordinator) Open(ctx context.Context, sig domain.TradeSignal) (domain.Position, error) {
	if err := c.validateEntry(sig); err != nil {
		return domain.Position{}, err
	}

	res, err := c.venue.Execute(ctx, sig)
	if err != nil {
		c.recordFailure(ctx, sig, domain.TradeSideEntry, "", err.Error())
		return domain.Position{}, &domain.TransientError{Op: "entry execution", Err: err}
	}
	if !res.Success {
		c.recordFailure(ctx, sig, domain.TradeSideEntry, "", res.Message)
		return domain.Position{}, &domain.ExecutionError{Mint: sig.Mint, Side: domain.TradeSideEntry, Reason: res.Message}
	}

	now := time.Now().UTC()
	fill := res.Price
	if fill <= 0 {
		fill = sig.Price
	}

	pos := domain.Position{
		ID:                uuid.NewString(),
		Mint:              sig.Mint,
		EntryPrice:        fill,
		Quantity:          sig.Quantity,
		StopLoss:          sig.StopLoss,
		TakeProfit:        sig.TakeProfit,
		CurrentPrice:      fill,
		HighestPrice:      fill,
		LowestPrice:       fill,
		EntryAt:           now,
		UpdatedAt:         now,
		EntrySignature:    res.Signature,
		Confidence:        sig.Confidence,
		InitialStopLoss:   sig.StopLoss,
		InitialTakeProfit: sig.TakeProfit,
		RiskReward:        domain.ComputeRiskReward(fill, sig.StopLoss, sig.TakeProfit),
		Status:            domain.PositionStatusActive,
	}

	entry := domain.Trade{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		Mint:        pos.Mint,
		Side:        domain.TradeSideEntry,
		Price:       fill,
		Quantity:    pos.Quantity,
		FeeUSD:      res.FeeUSD,
		SlippageBps: res.SlippageBps,
		Signature:   res.Signature,
		ExecutedAt:  now,
	}

	if err := c.book.Register(ctx, pos); err != nil {
		// The fill already settled on the venue; a registration failure must
		// not leave it untracked. Keep the trade row and flag the failure.
		if terr := c.trades.Insert(ctx, entry); terr != nil {
			c.logger.Error("settled entry record failed",
				slog.String("mint", pos.Mint),
				slog.String("signature", res.Signature),
				slog.String("error", terr.Error()),
			)
		}
		c.recordFailure(ctx, sig, domain.TradeSideEntry, pos.ID,
			fmt.Sprintf("settled entry not registered: %v", err))
		return domain.Position{}, err
	}

	if err := c.trades.Insert(ctx, entry); err != nil {
		c.logger.Error("entry trade record failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	c.publishPosition(ctx, domain.TopicPositionOpened, pos)
	c.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("mint", pos.Mint),
		slog.Float64("entry_price", fill),
		slog.Float64("quantity", pos.Quantity),
		slog.String("signature", res.Signature),
	)
	return pos, nil
}

// Close exits the position at its last observed price. On a settled fill the
// position transitions to Closed and leaves the active index. On failure the
// behavior depends on shutdown: during mandatory shutdown the position is
// forced into ForceClosed so nothing stays ambiguously active; otherwise the
// failure is recorded and the position remains active for the next round.
func (c *Coordinator) Close(ctx context.Context, pos domain.Position, reason domain.CloseReason, shutdown bool) (domain.Position, error) {
	exitSig := domain.TradeSignal{
		ID:         uuid.NewString(),
		Kind:       domain.SignalKindExit,
		Mint:       pos.Mint,
		Price:      pos.CurrentPrice,
		Quantity:   pos.Quantity,
		Confidence: 1.0,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}

	res, err := c.venue.Execute(ctx, exitSig)
	if err == nil && !res.Success {
		err = &domain.ExecutionError{Mint: pos.Mint, Side: domain.TradeSideExit, Reason: res.Message}
	}
	if err != nil {
		c.recordFailure(ctx, exitSig, domain.TradeSideExit, pos.ID, err.Error())
		if !shutdown {
			return pos, fmt.Errorf("engine: close %s: %w", pos.Mint, err)
		}
		return c.forceClose(ctx, pos)
	}

	now := time.Now().UTC()
	fill := res.Price
	if fill <= 0 {
		fill = pos.CurrentPrice
	}
	pos.CloseAt(fill, reason, now)

	if uerr := c.book.Upsert(ctx, pos); uerr != nil {
		c.logger.Error("closed position persist failed",
			slog.String("position_id", pos.ID),
			slog.String("error", uerr.Error()),
		)
	}
	c.book.Remove(pos.ID)

	if terr := c.trades.Insert(ctx, domain.Trade{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		Mint:        pos.Mint,
		Side:        domain.TradeSideExit,
		Price:       fill,
		Quantity:    pos.Quantity,
		FeeUSD:      res.FeeUSD,
		SlippageBps: res.SlippageBps,
		RealizedPnL: pos.Exit.RealizedPnL,
		Signature:   res.Signature,
		ExecutedAt:  now,
	}); terr != nil {
		c.logger.Error("exit trade record failed",
			slog.String("position_id", pos.ID),
			slog.String("error", terr.Error()),
		)
	}

	c.publishPosition(ctx, domain.TopicPositionClosed, pos)
	c.logger.Info("position closed",
		slog.String("position_id", pos.ID),
		slog.String("mint", pos.Mint),
		slog.String("reason", string(reason)),
		slog.Float64("realized_pnl", pos.Exit.RealizedPnL),
	)
	return pos, nil
}

// forceClose marks the position ForceClosed after a failed shutdown exit. The
// venue never confirmed the close, so realized PnL is an estimate from the
// last mark.
func (c *Coordinator) forceClose(ctx context.Context, pos domain.Position) (domain.Position, error) {
	pos.ForceClose(time.Now().UTC())

	if err := c.book.Upsert(ctx, pos); err != nil {
		c.logger.Error("force-closed position persist failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	c.book.Remove(pos.ID)

	c.publishPosition(ctx, domain.TopicPositionForceClosed, pos)
	c.logger.Warn("position force-closed",
		slog.String("position_id", pos.ID),
		slog.String("mint", pos.Mint),
		slog.Float64("estimated_pnl", pos.Exit.RealizedPnL),
	)
	return pos, nil
}

func (c *Coordinator) validateEntry(sig domain.TradeSignal) error {
	if sig.Mint == "" {
		return &domain.ValidationError{Field: "mint", Reason: "empty"}
	}
	if sig.Price <= 0 {
		return &domain.ValidationError{Field: "price", Reason: "must be positive"}
	}
	if sig.Quantity <= 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if sig.Confidence < c.params.MinConfidence {
		return &domain.ValidationError{Field: "confidence", Reason: fmt.Sprintf("%.2f below minimum %.2f", sig.Confidence, c.params.MinConfidence)}
	}
	notional := sig.Price * sig.Quantity
	if notional < c.params.MinPositionSize {
		return &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("notional %.2f below minimum %.2f", notional, c.params.MinPositionSize)}
	}
	if c.params.MaxPositionSize > 0 && notional > c.params.MaxPositionSize {
		return &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("notional %.2f above maximum %.2f", notional, c.params.MaxPositionSize)}
	}
	if !(sig.StopLoss < sig.Price && sig.Price < sig.TakeProfit) {
		return &domain.ValidationError{Field: "levels", Reason: "require stopLoss < price < takeProfit"}
	}
	return nil
}

// recordFailure persists a FailedTrade and publishes it. Audit only: the
// originating position, if any, is never mutated here.
func (c *Coordinator) recordFailure(ctx context.Context, sig domain.TradeSignal, side domain.TradeSide, positionID, reason string) {
	failed := domain.FailedTrade{
		ID:         uuid.NewString(),
		PositionID: positionID,
		Mint:       sig.Mint,
		Side:       side,
		Price:      sig.Price,
		Quantity:   sig.Quantity,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := c.trades.InsertFailed(ctx, failed); err != nil {
		c.logger.Error("failed trade record failed",
			slog.String("mint", sig.Mint),
			slog.String("error", err.Error()),
		)
	}

	c.publish(ctx, domain.TopicTradeFailed, domain.TradeFailedEvent{
		Event:    domain.TopicTradeFailed,
		Mint:     sig.Mint,
		Side:     string(side),
		Price:    sig.Price,
		Quantity: sig.Quantity,
		Reason:   reason,
	})
	c.logger.Warn("trade failed",
		slog.String("mint", sig.Mint),
		slog.String("side", string(side)),
		slog.String("reason", reason),
	)
}

func (c *Coordinator) publishPosition(ctx context.Context, topic string, pos domain.Position) {
	ev := domain.PositionEvent{
		Event:         topic,
		PositionID:    pos.ID,
		Mint:          pos.Mint,
		EntryPrice:    pos.EntryPrice,
		CurrentPrice:  pos.CurrentPrice,
		Quantity:      pos.Quantity,
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
		UnrealizedPnL: pos.UnrealizedPnL,
	}
	if pos.Exit != nil {
		ev.RealizedPnL = pos.Exit.RealizedPnL
		ev.ExitPrice = pos.Exit.Price
		ev.Reason = string(pos.Exit.Reason)
	}
	c.publish(ctx, topic, ev)
}

// publish sends the event on the pub/sub topic and mirrors it onto the
// durable stream of the same name. Bus failures are logged, never propagated:
// notification loss must not affect position state.
func (c *Coordinator) publish(ctx context.Context, topic string, ev any) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("event marshal failed", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	if err := c.bus.Publish(ctx, topic, payload); err != nil {
		c.logger.Warn("event publish failed", slog.String("topic", topic), slog.String("error", err.Error()))
	}
	if err := c.bus.StreamAppend(ctx, topic, payload); err != nil {
		c.logger.Warn("event stream append failed", slog.String("topic", topic), slog.String("error", err.Error()))
	}
}
