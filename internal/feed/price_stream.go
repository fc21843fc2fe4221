// Package feed bridges external inputs into the trading engine: the live
// price stream that warms the price cache and the signal channel that carries
// entry candidates.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
	"github.com/solwatch/solwatch/internal/platform/birdeye"
)

// syncInterval is how often subscriptions are reconciled with the active set.
const syncInterval = 30 * time.Second

// MintProvider reports the mints whose prices should be streamed. The engine
// position book satisfies this with its active set.
type MintProvider func() []string

// PriceStream connects to the live Birdeye socket, keeps its subscriptions in
// sync with the active position set, and writes each tick into the price
// cache. It reconnects on disconnect.
type PriceStream struct {
	wsURL     string
	apiKey    string
	mints     MintProvider
	cache     domain.PriceCache
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceStream creates a PriceStream.
func NewPriceStream(wsURL, apiKey string, mints MintProvider, cache domain.PriceCache, logger *slog.Logger) *PriceStream {
	return &PriceStream{
		wsURL:  wsURL,
		apiKey: apiKey,
		mints:  mints,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_stream")),
		done:   make(chan struct{}),
	}
}

// Run connects and streams until ctx is cancelled, reconnecting with a fixed
// backoff on disconnect.
func (s *PriceStream) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn("price stream disconnected, reconnecting", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *PriceStream) runConnection(ctx context.Context) error {
	client := birdeye.NewWSClient(s.wsURL, s.apiKey)
	defer client.Close()

	client.OnPriceUpdate(func(mint string, price float64, ts time.Time) {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.SetPrice(cacheCtx, mint, price, ts); err != nil {
			s.logger.Debug("price cache write failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}

	subscribed := s.syncSubscriptions(client, nil)
	s.logger.Info("price stream connected", slog.Int("mints", len(subscribed)))

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			subscribed = s.syncSubscriptions(client, subscribed)
		}
	}
}

// syncSubscriptions subscribes newly active mints and unsubscribes ones whose
// positions have closed. It returns the current subscription set.
func (s *PriceStream) syncSubscriptions(client *birdeye.WSClient, current map[string]struct{}) map[string]struct{} {
	want := make(map[string]struct{})
	for _, mint := range s.mints() {
		want[mint] = struct{}{}
	}

	for mint := range want {
		if _, ok := current[mint]; ok {
			continue
		}
		if err := client.Subscribe(mint); err != nil {
			s.logger.Warn("subscribe failed", slog.String("mint", mint), slog.String("error", err.Error()))
			delete(want, mint)
		}
	}
	for mint := range current {
		if _, ok := want[mint]; ok {
			continue
		}
		if err := client.Unsubscribe(mint); err != nil {
			s.logger.Debug("unsubscribe failed", slog.String("mint", mint), slog.String("error", err.Error()))
		}
	}
	return want
}

// Close stops the stream.
func (s *PriceStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
