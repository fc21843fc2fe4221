package domain

import "time"

// PositionStatus tracks where a position is in its lifecycle. Closed and
// ForceClosed are terminal: no transition ever leaves them.
type PositionStatus string

const (
	PositionStatusActive      PositionStatus = "active"
	PositionStatusClosed      PositionStatus = "closed"
	PositionStatusForceClosed PositionStatus = "force_closed"
)

// Terminal reports whether the status permits no further transitions.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusForceClosed
}

// ExitRecord holds the fields that only exist once a position has reached a
// terminal status. A nil ExitRecord means the position is still active.
type ExitRecord struct {
	Price       float64
	At          time.Time
	RealizedPnL float64
	Reason      CloseReason
}

// Position is a tracked long position in a Solana token, from entry execution
// through terminal close. Only one active position may exist per mint.
type Position struct {
	ID   string
	Mint string // token mint address (the instrument identifier)

	EntryPrice   float64
	Quantity     float64
	StopLoss     float64
	TakeProfit   float64
	CurrentPrice float64

	UnrealizedPnL float64
	PnLPercent    float64

	EntryAt   time.Time
	UpdatedAt time.Time

	// EntrySignature is the transaction signature of the settled entry swap.
	EntrySignature string

	// Entry metadata, fixed at open.
	Confidence        float64
	InitialStopLoss   float64
	InitialTakeProfit float64
	RiskReward        float64

	// Tracked extrema and the last measured volatility, refreshed each round.
	HighestPrice float64
	LowestPrice  float64
	Volatility   float64

	Status PositionStatus
	Exit   *ExitRecord
}

// MarkPrice refreshes CurrentPrice, unrealized PnL, PnL percent, the tracked
// extrema, and the UpdatedAt timestamp. It is a no-op beyond the timestamp
// when the price has not moved. Terminal positions are never marked.
func (p *Position) MarkPrice(price float64, now time.Time) {
	if p.Status.Terminal() {
		return
	}
	p.CurrentPrice = price
	p.UnrealizedPnL = (price - p.EntryPrice) * p.Quantity
	if p.EntryPrice > 0 && p.Quantity > 0 {
		p.PnLPercent = p.UnrealizedPnL / (p.EntryPrice * p.Quantity) * 100
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if p.LowestPrice == 0 || price < p.LowestPrice {
		p.LowestPrice = price
	}
	if now.After(p.UpdatedAt) {
		p.UpdatedAt = now
	}
}

// RaiseStopLoss moves the stop up to level. Stops only ever ratchet upward;
// a level at or below the current stop is ignored.
func (p *Position) RaiseStopLoss(level float64, now time.Time) bool {
	if p.Status.Terminal() || level <= p.StopLoss {
		return false
	}
	p.StopLoss = level
	if now.After(p.UpdatedAt) {
		p.UpdatedAt = now
	}
	return true
}

// CloseAt transitions the position to Closed at the given exit price,
// computing realized PnL. It is ignored if the position is already terminal.
func (p *Position) CloseAt(price float64, reason CloseReason, now time.Time) {
	if p.Status.Terminal() {
		return
	}
	p.Status = PositionStatusClosed
	p.UpdatedAt = now
	p.Exit = &ExitRecord{
		Price:       price,
		At:          now,
		RealizedPnL: (price - p.EntryPrice) * p.Quantity,
		Reason:      reason,
	}
}

// ForceClose marks the position ForceClosed: the venue-side exit could not be
// confirmed during mandatory shutdown. Realized PnL is estimated from the last
// observed price since there is no settled exit.
func (p *Position) ForceClose(now time.Time) {
	if p.Status.Terminal() {
		return
	}
	p.Status = PositionStatusForceClosed
	p.UpdatedAt = now
	p.Exit = &ExitRecord{
		Price:       p.CurrentPrice,
		At:          now,
		RealizedPnL: p.UnrealizedPnL,
		Reason:      CloseReasonShutdown,
	}
}

// ComputeRiskReward returns (takeProfit-entry)/(entry-stopLoss), or 0 when the
// denominator is not positive.
func ComputeRiskReward(entry, stopLoss, takeProfit float64) float64 {
	risk := entry - stopLoss
	if risk <= 0 {
		return 0
	}
	return (takeProfit - entry) / risk
}
