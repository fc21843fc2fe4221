package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/solwatch/solwatch/internal/domain"
)

// entrySignal is the JSON shape published to the entry signal channel by
// external screeners.
type entrySignal struct {
	Mint       string  `json:"mint"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	Confidence float64 `json:"confidence"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Timestamp  string  `json:"timestamp"`
}

// exitSignal is the JSON shape published to the exit signal channel by
// operators requesting a manual close. The position id comes from the
// positions:opened event or the position store.
type exitSignal struct {
	PositionID string `json:"position_id"`
}

// TradeEngine is the engine surface the feeder drives: entry admission and
// operator-requested closes.
type TradeEngine interface {
	SubmitEntry(ctx context.Context, sig domain.TradeSignal) (domain.Position, error)
	ClosePosition(ctx context.Context, id string) (domain.Position, error)
}

// SignalFeeder subscribes to the entry and exit signal channels and routes
// each decoded message to the engine. Rejections are logged, not propagated;
// one bad signal must not stall the channel.
type SignalFeeder struct {
	bus    domain.EventBus
	engine TradeEngine
	logger *slog.Logger
}

// NewSignalFeeder creates a SignalFeeder.
func NewSignalFeeder(bus domain.EventBus, eng TradeEngine, logger *slog.Logger) *SignalFeeder {
	return &SignalFeeder{
		bus:    bus,
		engine: eng,
		logger: logger.With(slog.String("component", "signal_feeder")),
	}
}

// Run subscribes to both signal channels and routes messages until ctx is
// cancelled.
func (f *SignalFeeder) Run(ctx context.Context) error {
	entries, err := f.bus.Subscribe(ctx, domain.TopicEntrySignals)
	if err != nil {
		return err
	}
	exits, err := f.bus.Subscribe(ctx, domain.TopicExitSignals)
	if err != nil {
		return err
	}
	f.logger.Info("signal feeder started")
	defer f.logger.Info("signal feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-entries:
			if !ok {
				return nil
			}
			f.handleEntry(ctx, data)
		case data, ok := <-exits:
			if !ok {
				return nil
			}
			f.handleExit(ctx, data)
		}
	}
}

func (f *SignalFeeder) handleEntry(ctx context.Context, data []byte) {
	var ev entrySignal
	if err := json.Unmarshal(data, &ev); err != nil {
		f.logger.Debug("signal decode failed",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}

	mint := strings.TrimSpace(ev.Mint)
	if mint == "" {
		return
	}

	createdAt := time.Now().UTC()
	if ev.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err == nil {
			createdAt = t
		}
	}

	sig := domain.TradeSignal{
		ID:         uuid.NewString(),
		Kind:       domain.SignalKindEntry,
		Mint:       mint,
		Price:      ev.Price,
		Quantity:   ev.Quantity,
		Confidence: ev.Confidence,
		StopLoss:   ev.StopLoss,
		TakeProfit: ev.TakeProfit,
		CreatedAt:  createdAt,
	}

	pos, err := f.engine.SubmitEntry(ctx, sig)
	if err != nil {
		level := slog.LevelWarn
		// Routine admission rejections are expected under load.
		if errors.Is(err, domain.ErrDuplicatePosition) || errors.Is(err, domain.ErrShuttingDown) {
			level = slog.LevelDebug
		}
		f.logger.Log(ctx, level, "entry signal rejected",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
		return
	}

	f.logger.Info("position opened from signal",
		slog.String("mint", mint),
		slog.String("position_id", pos.ID),
		slog.Float64("quantity", pos.Quantity),
	)
}

func (f *SignalFeeder) handleExit(ctx context.Context, data []byte) {
	var ev exitSignal
	if err := json.Unmarshal(data, &ev); err != nil {
		f.logger.Debug("exit signal decode failed",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}

	id := strings.TrimSpace(ev.PositionID)
	if id == "" {
		return
	}

	pos, err := f.engine.ClosePosition(ctx, id)
	if err != nil {
		level := slog.LevelWarn
		// A close racing the monitor's own exit is expected.
		if errors.Is(err, domain.ErrNotFound) {
			level = slog.LevelDebug
		}
		f.logger.Log(ctx, level, "exit signal rejected",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	f.logger.Info("position closed from signal",
		slog.String("position_id", pos.ID),
		slog.String("mint", pos.Mint),
	)
}
