package domain

import (
	"context"
	"time"
)

// PricePoint is one historical price sample.
type PricePoint struct {
	Price float64
	At    time.Time
}

// MarketMetrics carries the per-mint market context a risk evaluation needs
// beyond the spot price.
type MarketMetrics struct {
	// Volatility is the standard deviation of log-returns over the sampled
	// history window.
	Volatility float64
	Samples    int
}

// PriceFeed provides spot and historical prices for a token mint.
type PriceFeed interface {
	GetPrice(ctx context.Context, mint string) (float64, error)
	GetHistoricalPrices(ctx context.Context, mint string) ([]PricePoint, error)
}

// ExecutionResult is the venue's answer to an execution request.
type ExecutionResult struct {
	Success     bool
	Signature   string
	Price       float64 // effective fill price
	FeeUSD      float64
	SlippageBps float64
	Message     string // venue error detail when Success is false
}

// ExecutionVenue routes and settles swaps. Execute returns an error only for
// transport-level failures; venue-side rejections come back as a result with
// Success=false.
type ExecutionVenue interface {
	Execute(ctx context.Context, sig TradeSignal) (ExecutionResult, error)
	Balance(ctx context.Context) (float64, error)
}
