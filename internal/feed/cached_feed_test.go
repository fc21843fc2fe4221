package feed

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

type fakeCache struct {
	price float64
	at    time.Time
	err   error
	sets  int
}

func (c *fakeCache) SetPrice(_ context.Context, _ string, price float64, at time.Time) error {
	c.price, c.at = price, at
	c.sets++
	return nil
}

func (c *fakeCache) GetPrice(context.Context, string) (float64, time.Time, error) {
	if c.err != nil {
		return 0, time.Time{}, c.err
	}
	return c.price, c.at, nil
}

type fakeFeed struct {
	price float64
	err   error
	calls int
}

func (f *fakeFeed) GetPrice(context.Context, string) (float64, error) {
	f.calls++
	return f.price, f.err
}

func (f *fakeFeed) GetHistoricalPrices(context.Context, string) ([]domain.PricePoint, error) {
	return nil, nil
}

func TestCachedFeedServesFreshEntries(t *testing.T) {
	cache := &fakeCache{price: 1.5, at: time.Now().UTC()}
	upstream := &fakeFeed{price: 2.0}
	cf := NewCachedFeed(cache, upstream, time.Minute, slog.Default())

	price, err := cf.GetPrice(context.Background(), "MINT")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 1.5 {
		t.Errorf("price = %v, want cached 1.5", price)
	}
	if upstream.calls != 0 {
		t.Errorf("upstream called %d times, want 0", upstream.calls)
	}
}

func TestCachedFeedFallsBackWhenStale(t *testing.T) {
	tests := []struct {
		name  string
		cache *fakeCache
	}{
		{"stale entry", &fakeCache{price: 1.5, at: time.Now().UTC().Add(-10 * time.Minute)}},
		{"cache miss", &fakeCache{err: domain.ErrNotFound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := &fakeFeed{price: 2.0}
			cf := NewCachedFeed(tt.cache, upstream, time.Minute, slog.Default())

			price, err := cf.GetPrice(context.Background(), "MINT")
			if err != nil {
				t.Fatalf("GetPrice: %v", err)
			}
			if price != 2.0 {
				t.Errorf("price = %v, want upstream 2.0", price)
			}
			if upstream.calls != 1 {
				t.Errorf("upstream called %d times, want 1", upstream.calls)
			}
			if tt.cache.sets != 1 {
				t.Errorf("cache backfilled %d times, want 1", tt.cache.sets)
			}
		})
	}
}

func TestCachedFeedPropagatesUpstreamErrors(t *testing.T) {
	cache := &fakeCache{err: domain.ErrNotFound}
	upstream := &fakeFeed{err: errors.New("feed down")}
	cf := NewCachedFeed(cache, upstream, time.Minute, slog.Default())

	if _, err := cf.GetPrice(context.Background(), "MINT"); err == nil {
		t.Fatal("expected error when cache misses and upstream fails")
	}
}
