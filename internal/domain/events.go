package domain

import "context"

// Lifecycle topics published on the EventBus.
const (
	TopicPositionOpened      = "positions:opened"
	TopicPositionUpdated     = "positions:updated"
	TopicPositionClosed      = "positions:closed"
	TopicPositionForceClosed = "positions:force_closed"
	TopicTradeFailed         = "trades:failed"
	TopicEntrySignals        = "signals:entry"
	TopicExitSignals         = "signals:exit"
)

// EventBus provides pub/sub for lifecycle notifications plus a durable,
// ordered stream mirror, read out of band by audit tooling. The bus is
// injected at construction; there is no process-wide instance.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// PositionEvent is the JSON payload published on position lifecycle topics.
type PositionEvent struct {
	Event         string  `json:"event"`
	PositionID    string  `json:"position_id"`
	Mint          string  `json:"mint"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	Quantity      float64 `json:"quantity"`
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl,omitempty"`
	ExitPrice     float64 `json:"exit_price,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// TradeFailedEvent is the JSON payload published on TopicTradeFailed.
type TradeFailedEvent struct {
	Event    string  `json:"event"`
	Mint     string  `json:"mint"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Reason   string  `json:"reason"`
}
