package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/solwatch/internal/domain"
)

// TokenStore implements domain.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *pgxpool.Pool
}

var _ domain.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a new TokenStore backed by the given connection pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Upsert stores the latest scored snapshot for a mint, replacing any prior one.
func (s *TokenStore) Upsert(ctx context.Context, snap domain.TokenSnapshot) error {
	const query = `
		INSERT INTO tokens (
			mint, symbol, price, liquidity_usd, volume_24h_usd,
			holder_count, top_holder_share, sentiment_score,
			momentum_percent, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (mint) DO UPDATE SET
			symbol           = EXCLUDED.symbol,
			price            = EXCLUDED.price,
			liquidity_usd    = EXCLUDED.liquidity_usd,
			volume_24h_usd   = EXCLUDED.volume_24h_usd,
			holder_count     = EXCLUDED.holder_count,
			top_holder_share = EXCLUDED.top_holder_share,
			sentiment_score  = EXCLUDED.sentiment_score,
			momentum_percent = EXCLUDED.momentum_percent,
			observed_at      = EXCLUDED.observed_at`

	_, err := s.pool.Exec(ctx, query,
		snap.Mint, snap.Symbol, snap.Price, snap.LiquidityUSD, snap.Volume24hUSD,
		snap.HolderCount, snap.TopHolderShare, snap.SentimentScore,
		snap.MomentumPercent, snap.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert token %s: %w", snap.Mint, err)
	}
	return nil
}

// Get retrieves the latest snapshot for a mint.
func (s *TokenStore) Get(ctx context.Context, mint string) (domain.TokenSnapshot, error) {
	const query = `
		SELECT mint, symbol, price, liquidity_usd, volume_24h_usd,
		       holder_count, top_holder_share, sentiment_score,
		       momentum_percent, observed_at
		FROM tokens WHERE mint = $1`

	var snap domain.TokenSnapshot
	err := s.pool.QueryRow(ctx, query, mint).Scan(
		&snap.Mint, &snap.Symbol, &snap.Price, &snap.LiquidityUSD, &snap.Volume24hUSD,
		&snap.HolderCount, &snap.TopHolderShare, &snap.SentimentScore,
		&snap.MomentumPercent, &snap.ObservedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenSnapshot{}, domain.ErrNotFound
		}
		return domain.TokenSnapshot{}, fmt.Errorf("postgres: get token %s: %w", mint, err)
	}
	return snap, nil
}
