package risk

import (
	"math"

	"github.com/solwatch/solwatch/internal/domain"
)

// Volatility computes the standard deviation of log-returns over the sample
// sequence. Fewer than two usable samples yield zero volatility; non-positive
// prices are skipped since their log-return is undefined.
func Volatility(points []domain.PricePoint) domain.MarketMetrics {
	returns := make([]float64, 0, len(points))
	var prev float64
	for _, pt := range points {
		if pt.Price <= 0 {
			continue
		}
		if prev > 0 {
			returns = append(returns, math.Log(pt.Price/prev))
		}
		prev = pt.Price
	}
	if len(returns) < 2 {
		return domain.MarketMetrics{Samples: len(returns)}
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return domain.MarketMetrics{
		Volatility: math.Sqrt(variance),
		Samples:    len(returns),
	}
}
