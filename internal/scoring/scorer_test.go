package scoring

import (
	"testing"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

func healthySnapshot() domain.TokenSnapshot {
	return domain.TokenSnapshot{
		Mint:            "mint-1",
		Symbol:          "WIF",
		Price:           1.25,
		LiquidityUSD:    250000,
		Volume24hUSD:    400000,
		HolderCount:     5000,
		TopHolderShare:  0.08,
		SentimentScore:  0.7,
		MomentumPercent: 20,
		ObservedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestScoreHardGates(t *testing.T) {
	s := NewScorer(DefaultWeights())

	tests := []struct {
		name   string
		mutate func(*domain.TokenSnapshot)
	}{
		{name: "illiquid", mutate: func(sn *domain.TokenSnapshot) { sn.LiquidityUSD = 1000 }},
		{name: "too few holders", mutate: func(sn *domain.TokenSnapshot) { sn.HolderCount = 10 }},
		{name: "concentrated supply", mutate: func(sn *domain.TokenSnapshot) { sn.TopHolderShare = 0.6 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := healthySnapshot()
			tt.mutate(&snap)
			if got := s.Score(snap); got != 0 {
				t.Fatalf("Score = %v, want 0", got)
			}
		})
	}
}

func TestScoreBounds(t *testing.T) {
	s := NewScorer(DefaultWeights())
	snap := healthySnapshot()
	got := s.Score(snap)
	if got <= 0 || got > 1 {
		t.Fatalf("Score = %v, want in (0,1]", got)
	}

	// Pure: identical input scores identically.
	if again := s.Score(snap); again != got {
		t.Fatalf("Score not deterministic: %v vs %v", again, got)
	}
}

func TestScoreOrdersQuality(t *testing.T) {
	s := NewScorer(DefaultWeights())

	strong := healthySnapshot()
	weak := healthySnapshot()
	weak.SentimentScore = 0.1
	weak.MomentumPercent = 1
	weak.Volume24hUSD = 10000

	if s.Score(strong) <= s.Score(weak) {
		t.Fatalf("strong snapshot scored %v, weak %v; want strong higher",
			s.Score(strong), s.Score(weak))
	}
}
