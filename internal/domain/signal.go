package domain

import "time"

// SignalKind distinguishes entry intents from exit intents.
type SignalKind string

const (
	SignalKindEntry SignalKind = "entry"
	SignalKindExit  SignalKind = "exit"
)

// CloseReason records why a position was (or was asked to be) exited.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "stopLoss"
	CloseReasonTakeProfit CloseReason = "takeProfit"
	CloseReasonShutdown   CloseReason = "shutdown"
	CloseReasonManual     CloseReason = "manual"
)

// TradeSignal is an ephemeral intent to open or close a position. StopLoss and
// TakeProfit are only meaningful on entry signals; Reason only on exits.
type TradeSignal struct {
	ID         string // UUID
	Kind       SignalKind
	Mint       string
	Price      float64
	Quantity   float64
	Confidence float64 // [0,1] signal strength; exits carry 1.0
	StopLoss   float64
	TakeProfit float64
	Reason     CloseReason
	CreatedAt  time.Time
}

// TokenSnapshot is the scored view of a token that drives entry decisions.
// It is produced by external screeners and consumed through the SignalSource.
type TokenSnapshot struct {
	Mint            string
	Symbol          string
	Price           float64
	LiquidityUSD    float64
	Volume24hUSD    float64
	HolderCount     int
	TopHolderShare  float64 // fraction of supply held by the largest holder
	SentimentScore  float64 // [0,1] aggregated social sentiment
	MomentumPercent float64 // 24h price change in percent
	ObservedAt      time.Time
}

// SignalSource turns a token snapshot into a confidence score in [0,1].
// Implementations must be pure: no I/O and no engine state.
type SignalSource interface {
	Score(snap TokenSnapshot) float64
}
