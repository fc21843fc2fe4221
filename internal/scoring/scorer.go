package scoring

import (
	"math"

	"github.com/solwatch/solwatch/internal/domain"
)

// Weights controls how much each snapshot dimension contributes to the
// confidence score. They should sum to roughly 1; the score is clamped to
// [0,1] either way.
type Weights struct {
	Liquidity     float64
	Volume        float64
	HolderSpread  float64
	Sentiment     float64
	Momentum      float64
	MinLiquidity  float64 // USD floor below which the score is zeroed
	MinHolders    int
	MaxTopHolder  float64 // top-holder share above this zeroes the score
	MomentumScale float64 // percent move that saturates the momentum term
}

// DefaultWeights mirrors the tuning used for new-listing screens.
func DefaultWeights() Weights {
	return Weights{
		Liquidity:     0.25,
		Volume:        0.20,
		HolderSpread:  0.15,
		Sentiment:     0.20,
		Momentum:      0.20,
		MinLiquidity:  25000,
		MinHolders:    200,
		MaxTopHolder:  0.30,
		MomentumScale: 50,
	}
}

// Scorer turns token snapshots into entry confidence. It is pure: same
// snapshot, same score.
type Scorer struct {
	w Weights
}

var _ domain.SignalSource = (*Scorer)(nil)

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score returns a confidence in [0,1]. Tokens failing the hard gates
// (illiquid, too few holders, concentrated supply) score zero outright.
func (s *Scorer) Score(snap domain.TokenSnapshot) float64 {
	if snap.LiquidityUSD < s.w.MinLiquidity {
		return 0
	}
	if snap.HolderCount < s.w.MinHolders {
		return 0
	}
	if snap.TopHolderShare > s.w.MaxTopHolder {
		return 0
	}

	// log-scaled liquidity and volume: each decade above the floor adds a
	// fixed increment, saturating after two decades.
	liq := saturate(math.Log10(snap.LiquidityUSD/s.w.MinLiquidity) / 2)
	vol := 0.0
	if snap.Volume24hUSD > 0 && snap.LiquidityUSD > 0 {
		vol = saturate(snap.Volume24hUSD / (snap.LiquidityUSD * 2))
	}

	spread := saturate(1 - snap.TopHolderShare/s.w.MaxTopHolder)
	sentiment := saturate(snap.SentimentScore)
	momentum := saturate(snap.MomentumPercent / s.w.MomentumScale)

	score := s.w.Liquidity*liq +
		s.w.Volume*vol +
		s.w.HolderSpread*spread +
		s.w.Sentiment*sentiment +
		s.w.Momentum*momentum
	return saturate(score)
}

func saturate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
