package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/solwatch/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, mint, side, price, quantity,
	fee_usd, slippage_bps, realized_pnl, signature, executed_at`

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.ID, &t.PositionID, &t.Mint, &side, &t.Price, &t.Quantity,
			&t.FeeUSD, &t.SlippageBps, &t.RealizedPnL, &t.Signature, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends a settled trade.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, position_id, mint, side, price, quantity,
			fee_usd, slippage_bps, realized_pnl, signature, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.PositionID, t.Mint, string(t.Side), t.Price, t.Quantity,
		t.FeeUSD, t.SlippageBps, t.RealizedPnL, t.Signature, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// InsertFailed appends a failed execution attempt.
func (s *TradeStore) InsertFailed(ctx context.Context, f domain.FailedTrade) error {
	const query = `
		INSERT INTO failed_trades (
			id, position_id, mint, side, price, quantity, reason, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.PositionID, f.Mint, string(f.Side), f.Price, f.Quantity,
		f.Reason, f.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert failed trade %s: %w", f.ID, err)
	}
	return nil
}

// ListRange returns trades executed within [since, until), oldest first.
func (s *TradeStore) ListRange(ctx context.Context, since, until time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE executed_at >= $1 AND executed_at < $2
		 ORDER BY executed_at ASC`, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades in range: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades in range: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades executed before the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE executed_at < $1
		 ORDER BY executed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before cutoff: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before cutoff: %w", err)
	}
	return trades, nil
}

// ListFailedBefore returns failed trades that occurred before the cutoff.
func (s *TradeStore) ListFailedBefore(ctx context.Context, before time.Time) ([]domain.FailedTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, mint, side, price, quantity, reason, occurred_at
		 FROM failed_trades
		 WHERE occurred_at < $1
		 ORDER BY occurred_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list failed trades before cutoff: %w", err)
	}
	defer rows.Close()

	var failed []domain.FailedTrade
	for rows.Next() {
		var f domain.FailedTrade
		var side string
		if err := rows.Scan(
			&f.ID, &f.PositionID, &f.Mint, &side, &f.Price, &f.Quantity,
			&f.Reason, &f.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan failed trade: %w", err)
		}
		f.Side = domain.TradeSide(side)
		failed = append(failed, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan failed trades: %w", err)
	}
	return failed, nil
}

// DeleteBefore removes trades and failed trades older than the cutoff and
// returns the number of rows deleted. Used after a successful archive upload.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before cutoff: %w", err)
	}
	deleted := tag.RowsAffected()

	ftag, err := s.pool.Exec(ctx,
		`DELETE FROM failed_trades WHERE occurred_at < $1`, before)
	if err != nil {
		return deleted, fmt.Errorf("postgres: delete failed trades before cutoff: %w", err)
	}
	return deleted + ftag.RowsAffected(), nil
}

// SumRealizedPnL returns the total realized PnL of exit trades since the
// given time.
func (s *TradeStore) SumRealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	var sum *float64
	err := s.pool.QueryRow(ctx,
		`SELECT SUM(realized_pnl) FROM trades
		 WHERE side = 'exit' AND executed_at >= $1`, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum realized pnl: %w", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}
