package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

// OverviewFetcher fetches the screening metrics for a token mint.
type OverviewFetcher interface {
	GetTokenOverview(ctx context.Context, mint string) (domain.TokenSnapshot, error)
}

// Screener scores a fixed watchlist of token mints on an interval. Each pass
// fetches a fresh snapshot per mint, persists it, and publishes an entry
// signal for every mint whose score clears the confidence floor. Position
// admission (duplicates, capacity, sizing) stays with the engine; the
// screener only proposes.
type Screener struct {
	fetcher       OverviewFetcher
	tokens        domain.TokenStore
	source        domain.SignalSource
	bus           domain.EventBus
	mints         []string
	interval      time.Duration
	minConfidence float64
	logger        *slog.Logger
}

// NewScreener creates a Screener over the given watchlist.
func NewScreener(
	fetcher OverviewFetcher,
	tokens domain.TokenStore,
	source domain.SignalSource,
	bus domain.EventBus,
	mints []string,
	interval time.Duration,
	minConfidence float64,
	logger *slog.Logger,
) *Screener {
	return &Screener{
		fetcher:       fetcher,
		tokens:        tokens,
		source:        source,
		bus:           bus,
		mints:         mints,
		interval:      interval,
		minConfidence: minConfidence,
		logger:        logger.With(slog.String("component", "screener")),
	}
}

// Run screens the watchlist once immediately, then on every interval tick,
// until ctx is cancelled.
func (s *Screener) Run(ctx context.Context) error {
	s.logger.Info("screener started",
		slog.Int("watchlist", len(s.mints)),
		slog.Duration("interval", s.interval),
	)
	defer s.logger.Info("screener stopped")

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce screens every watchlist mint. Per-mint failures are logged and
// skipped so one bad token cannot starve the rest of the list.
func (s *Screener) runOnce(ctx context.Context) {
	for _, mint := range s.mints {
		if ctx.Err() != nil {
			return
		}
		if err := s.screenMint(ctx, mint); err != nil {
			s.logger.Warn("screen failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Screener) screenMint(ctx context.Context, mint string) error {
	snap, err := s.fetcher.GetTokenOverview(ctx, mint)
	if err != nil {
		return err
	}
	if err := s.tokens.Upsert(ctx, snap); err != nil {
		return err
	}

	score := s.source.Score(snap)
	if score < s.minConfidence {
		s.logger.Debug("mint below confidence floor",
			slog.String("mint", mint),
			slog.Float64("score", score),
		)
		return nil
	}

	// Quantity is left at zero so the engine sizes the position from the
	// wallet balance.
	payload, err := json.Marshal(map[string]any{
		"mint":       snap.Mint,
		"price":      snap.Price,
		"quantity":   0.0,
		"confidence": score,
		"timestamp":  snap.ObservedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, domain.TopicEntrySignals, payload); err != nil {
		return err
	}

	s.logger.Info("entry signal published",
		slog.String("mint", snap.Mint),
		slog.String("symbol", snap.Symbol),
		slog.Float64("score", score),
		slog.Float64("price", snap.Price),
	)
	return nil
}
