package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

// Book is the authoritative in-memory index of active positions, keyed by
// token mint. Every mutation is mirrored into the durable store before the
// in-memory state changes, so a crash can always rehydrate. Writes for a
// given mint are sequential: the monitor partitions work per position, so no
// two tasks touch the same key in one round, and the mutex only guards the
// map itself.
type Book struct {
	store  domain.PositionStore
	logger *slog.Logger

	mu     sync.RWMutex
	byMint map[string]domain.Position
}

func NewBook(store domain.PositionStore, logger *slog.Logger) *Book {
	return &Book{
		store:  store,
		logger: logger.With(slog.String("component", "position_book")),
		byMint: make(map[string]domain.Position),
	}
}

// RehydrateParams controls startup revalidation of persisted positions.
type RehydrateParams struct {
	// Staleness is the age beyond which a rehydrated position gets a fresh
	// price mark before trading resumes.
	Staleness time.Duration
	// StopLossPercent and TakeProfitPercent rebuild inverted levels from the
	// current price.
	StopLossPercent   float64
	TakeProfitPercent float64
}

// Rehydrate loads the durable store's active set into memory. Positions whose
// last update is older than the staleness threshold are re-marked from the
// price feed; stop and target levels that ended up inverted are rebuilt
// around the current price and logged as warnings. A store failure here is
// fatal: the engine must not run without its active set.
func (b *Book) Rehydrate(ctx context.Context, feed domain.PriceFeed, params RehydrateParams) error {
	active, err := b.store.ListByStatus(ctx, domain.PositionStatusActive)
	if err != nil {
		return &domain.FatalError{Op: "rehydrate active positions", Err: err}
	}

	now := time.Now().UTC()
	for _, pos := range active {
		if params.Staleness > 0 && now.Sub(pos.UpdatedAt) > params.Staleness {
			price, ferr := feed.GetPrice(ctx, pos.Mint)
			if ferr != nil {
				b.logger.Warn("stale position price refresh failed",
					slog.String("position_id", pos.ID),
					slog.String("mint", pos.Mint),
					slog.String("error", ferr.Error()),
				)
			} else {
				pos.MarkPrice(price, now)
			}
		}

		if corrected := b.correctLevels(&pos, params); corrected {
			b.logger.Warn("rehydrated position had inverted levels, corrected",
				slog.String("position_id", pos.ID),
				slog.String("mint", pos.Mint),
				slog.Float64("stop_loss", pos.StopLoss),
				slog.Float64("take_profit", pos.TakeProfit),
			)
			if uerr := b.store.Update(ctx, pos); uerr != nil {
				return &domain.FatalError{Op: "persist corrected position", Err: uerr}
			}
		}

		b.mu.Lock()
		b.byMint[pos.Mint] = pos
		b.mu.Unlock()
	}

	b.logger.Info("position book rehydrated", slog.Int("active", len(active)))
	return nil
}

// correctLevels rebuilds stop and target when they no longer bracket the
// current price the way a long requires.
func (b *Book) correctLevels(pos *domain.Position, params RehydrateParams) bool {
	price := pos.CurrentPrice
	if price <= 0 {
		price = pos.EntryPrice
	}
	if price <= 0 {
		return false
	}

	corrected := false
	if pos.StopLoss >= pos.TakeProfit || pos.StopLoss >= price {
		pos.StopLoss = price * (1 - params.StopLossPercent/100)
		corrected = true
	}
	if pos.TakeProfit <= price || pos.TakeProfit <= pos.StopLoss {
		pos.TakeProfit = price * (1 + params.TakeProfitPercent/100)
		corrected = true
	}
	return corrected
}

// Register adds a newly opened position, mirroring it into the durable store
// first. At most one active position may exist per mint.
func (b *Book) Register(ctx context.Context, pos domain.Position) error {
	b.mu.Lock()
	if _, exists := b.byMint[pos.Mint]; exists {
		b.mu.Unlock()
		return fmt.Errorf("engine: register %s: %w", pos.Mint, domain.ErrDuplicatePosition)
	}
	b.mu.Unlock()

	if err := b.store.Create(ctx, pos); err != nil {
		return fmt.Errorf("engine: persist new position: %w", err)
	}

	b.mu.Lock()
	b.byMint[pos.Mint] = pos
	b.mu.Unlock()
	return nil
}

// Upsert writes the position through to the durable store and refreshes the
// in-memory slot. The position must already be registered.
func (b *Book) Upsert(ctx context.Context, pos domain.Position) error {
	if err := b.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("engine: persist position update: %w", err)
	}
	b.mu.Lock()
	if _, ok := b.byMint[pos.Mint]; ok {
		b.byMint[pos.Mint] = pos
	}
	b.mu.Unlock()
	return nil
}

// Remove drops the position with the given id from the active index. The
// durable record is left in place as history.
func (b *Book) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for mint, pos := range b.byMint {
		if pos.ID == id {
			delete(b.byMint, mint)
			return
		}
	}
}

// Get returns the active position with the given id.
func (b *Book) Get(id string) (domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, pos := range b.byMint {
		if pos.ID == id {
			return pos, true
		}
	}
	return domain.Position{}, false
}

// GetByMint returns the active position for a mint.
func (b *Book) GetByMint(mint string) (domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.byMint[mint]
	return pos, ok
}

// Active returns a snapshot of all active positions.
func (b *Book) Active() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Position, 0, len(b.byMint))
	for _, pos := range b.byMint {
		out = append(out, pos)
	}
	return out
}

// Len returns the number of active positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byMint)
}
