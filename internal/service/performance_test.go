package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

type stubTradeStore struct {
	trades []domain.Trade
	pnl    float64
}

func (s *stubTradeStore) Insert(ctx context.Context, t domain.Trade) error             { return nil }
func (s *stubTradeStore) InsertFailed(ctx context.Context, f domain.FailedTrade) error { return nil }
func (s *stubTradeStore) ListRange(ctx context.Context, since, until time.Time) ([]domain.Trade, error) {
	return s.trades, nil
}
func (s *stubTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (s *stubTradeStore) ListFailedBefore(ctx context.Context, before time.Time) ([]domain.FailedTrade, error) {
	return nil, nil
}
func (s *stubTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
func (s *stubTradeStore) SumRealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	return s.pnl, nil
}

func TestPerformanceReport(t *testing.T) {
	store := &stubTradeStore{
		trades: []domain.Trade{
			{Side: domain.TradeSideEntry, FeeUSD: 0.5, SlippageBps: 10},
			{Side: domain.TradeSideExit, RealizedPnL: 120, FeeUSD: 0.5, SlippageBps: 20},
			{Side: domain.TradeSideEntry, FeeUSD: 0.5, SlippageBps: 10},
			{Side: domain.TradeSideExit, RealizedPnL: -40, FeeUSD: 0.5, SlippageBps: 40},
			{Side: domain.TradeSideExit, RealizedPnL: 15, FeeUSD: 0.5, SlippageBps: 20},
		},
	}
	svc := NewPerformanceService(store, slog.Default())

	report, err := svc.Report(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if report.TradesTotal != 5 || report.Entries != 2 || report.Exits != 3 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if report.Wins != 2 || report.Losses != 1 {
		t.Fatalf("unexpected win/loss: %+v", report)
	}
	if want := 2.0 / 3.0; report.WinRate < want-1e-9 || report.WinRate > want+1e-9 {
		t.Fatalf("win rate: got %f want %f", report.WinRate, want)
	}
	if report.RealizedPnL != 95 {
		t.Fatalf("realized pnl: got %f want 95", report.RealizedPnL)
	}
	if report.BestTrade != 120 || report.WorstTrade != -40 {
		t.Fatalf("best/worst: %+v", report)
	}
	if report.TotalFeesUSD != 2.5 {
		t.Fatalf("fees: got %f", report.TotalFeesUSD)
	}
	if report.AvgSlippage != 20 {
		t.Fatalf("avg slippage: got %f", report.AvgSlippage)
	}
}

func TestPerformanceReportEmpty(t *testing.T) {
	svc := NewPerformanceService(&stubTradeStore{}, slog.Default())

	report, err := svc.Report(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.TradesTotal != 0 || report.WinRate != 0 || report.AvgSlippage != 0 {
		t.Fatalf("expected zero report, got %+v", report)
	}
}
