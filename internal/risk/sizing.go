package risk

// SizingParams bound how much of the balance a single entry may commit.
type SizingParams struct {
	MinPositionSize     float64 // USD floor; a smaller computed size suppresses the trade
	MaxPositionSize     float64 // USD hard cap
	SizeFraction        float64 // base fraction of balance committed per entry
	MaxPositionFraction float64 // ceiling as a fraction of balance
}

// Size computes the notional for an entry: balance x fraction, scaled by
// confidence, clamped to [min, min(max, balance x maxFraction)]. The second
// return is false when the computed size falls below the floor, in which case
// no trade should be emitted.
func Size(p SizingParams, balance, confidence float64) (float64, bool) {
	if balance <= 0 || confidence <= 0 {
		return 0, false
	}

	size := balance * p.SizeFraction * confidence

	ceiling := p.MaxPositionSize
	if byFraction := balance * p.MaxPositionFraction; byFraction < ceiling {
		ceiling = byFraction
	}
	if size > ceiling {
		size = ceiling
	}
	if size < p.MinPositionSize {
		return 0, false
	}
	return size, true
}
