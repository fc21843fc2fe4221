package domain

import "time"

// TradeSide marks whether a settled trade opened or closed a position.
type TradeSide string

const (
	TradeSideEntry TradeSide = "entry"
	TradeSideExit  TradeSide = "exit"
)

// Trade is a settled execution linked to a position. RealizedPnL is only
// populated on exit trades.
type Trade struct {
	ID          string
	PositionID  string
	Mint        string
	Side        TradeSide
	Price       float64
	Quantity    float64
	FeeUSD      float64
	SlippageBps float64
	RealizedPnL float64
	Signature   string // on-chain transaction signature
	ExecutedAt  time.Time
}

// FailedTrade records a rejected or erroring execution attempt. It is an
// audit artifact: recording one never mutates the originating position.
type FailedTrade struct {
	ID         string
	PositionID string // empty for failed entries
	Mint       string
	Side       TradeSide
	Price      float64
	Quantity   float64
	Reason     string
	OccurredAt time.Time
}
