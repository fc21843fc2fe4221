// Package service holds the operational services that run beside the trading
// engine: performance reporting and cold-storage archival.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

// PerformanceReport aggregates realized results over a time window.
type PerformanceReport struct {
	Since        time.Time `json:"since"`
	Until        time.Time `json:"until"`
	TradesTotal  int       `json:"trades_total"`
	Entries      int       `json:"entries"`
	Exits        int       `json:"exits"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	WinRate      float64   `json:"win_rate"` // fraction of exits with positive PnL
	RealizedPnL  float64   `json:"realized_pnl"`
	TotalFeesUSD float64   `json:"total_fees_usd"`
	AvgSlippage  float64   `json:"avg_slippage_bps"`
	BestTrade    float64   `json:"best_trade_pnl"`
	WorstTrade   float64   `json:"worst_trade_pnl"`
}

// PerformanceService computes realized trading statistics from the trade
// history.
type PerformanceService struct {
	trades domain.TradeStore
	logger *slog.Logger
}

// NewPerformanceService creates a PerformanceService.
func NewPerformanceService(trades domain.TradeStore, logger *slog.Logger) *PerformanceService {
	return &PerformanceService{
		trades: trades,
		logger: logger.With(slog.String("component", "performance")),
	}
}

// Report aggregates every trade settled in [since, until).
func (s *PerformanceService) Report(ctx context.Context, since, until time.Time) (PerformanceReport, error) {
	trades, err := s.trades.ListRange(ctx, since, until)
	if err != nil {
		return PerformanceReport{}, fmt.Errorf("service: performance report: %w", err)
	}

	report := PerformanceReport{
		Since:       since,
		Until:       until,
		TradesTotal: len(trades),
	}

	var slippageSum float64
	for _, t := range trades {
		report.TotalFeesUSD += t.FeeUSD
		slippageSum += t.SlippageBps

		switch t.Side {
		case domain.TradeSideEntry:
			report.Entries++
		case domain.TradeSideExit:
			report.Exits++
			report.RealizedPnL += t.RealizedPnL
			if t.RealizedPnL > 0 {
				report.Wins++
			} else {
				report.Losses++
			}
			if t.RealizedPnL > report.BestTrade {
				report.BestTrade = t.RealizedPnL
			}
			if t.RealizedPnL < report.WorstTrade {
				report.WorstTrade = t.RealizedPnL
			}
		}
	}

	if report.Exits > 0 {
		report.WinRate = float64(report.Wins) / float64(report.Exits)
	}
	if len(trades) > 0 {
		report.AvgSlippage = slippageSum / float64(len(trades))
	}
	return report, nil
}

// RealizedPnLSince returns the summed realized PnL of all exits since the
// given time, straight from the store aggregate.
func (s *PerformanceService) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	pnl, err := s.trades.SumRealizedPnL(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("service: realized pnl: %w", err)
	}
	return pnl, nil
}
