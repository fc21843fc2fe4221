package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

// CachedFeed serves spot prices from the Redis price cache while the entry is
// fresh, falling back to the underlying feed (and backfilling the cache) when
// the entry is missing or older than maxAge. History requests always go to the
// underlying feed.
type CachedFeed struct {
	cache  domain.PriceCache
	feed   domain.PriceFeed
	maxAge time.Duration
	logger *slog.Logger
}

var _ domain.PriceFeed = (*CachedFeed)(nil)

// NewCachedFeed wraps feed with the price cache. maxAge bounds how old a
// cached price may be before it is treated as stale.
func NewCachedFeed(cache domain.PriceCache, feed domain.PriceFeed, maxAge time.Duration, logger *slog.Logger) *CachedFeed {
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	return &CachedFeed{
		cache:  cache,
		feed:   feed,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "cached_feed")),
	}
}

// GetPrice returns the cached price when fresh, otherwise fetches from the
// underlying feed and refreshes the cache.
func (c *CachedFeed) GetPrice(ctx context.Context, mint string) (float64, error) {
	price, at, err := c.cache.GetPrice(ctx, mint)
	if err == nil && time.Since(at) <= c.maxAge {
		return price, nil
	}

	price, err = c.feed.GetPrice(ctx, mint)
	if err != nil {
		return 0, err
	}
	if cerr := c.cache.SetPrice(ctx, mint, price, time.Now().UTC()); cerr != nil {
		c.logger.Debug("price cache backfill failed",
			slog.String("mint", mint),
			slog.String("error", cerr.Error()),
		)
	}
	return price, nil
}

// GetHistoricalPrices delegates to the underlying feed; history is not cached.
func (c *CachedFeed) GetHistoricalPrices(ctx context.Context, mint string) ([]domain.PricePoint, error) {
	return c.feed.GetHistoricalPrices(ctx, mint)
}
