package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/solwatch/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, mint, entry_price, quantity, stop_loss, take_profit,
	current_price, unrealized_pnl, pnl_percent, entry_at, updated_at,
	entry_signature, confidence, initial_stop_loss, initial_take_profit,
	risk_reward, highest_price, lowest_price, volatility, status,
	exit_price, exit_at, realized_pnl, close_reason`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string
	var exitPrice, realizedPnL *float64
	var exitAt *time.Time
	var closeReason *string

	err := row.Scan(
		&p.ID, &p.Mint, &p.EntryPrice, &p.Quantity, &p.StopLoss, &p.TakeProfit,
		&p.CurrentPrice, &p.UnrealizedPnL, &p.PnLPercent, &p.EntryAt, &p.UpdatedAt,
		&p.EntrySignature, &p.Confidence, &p.InitialStopLoss, &p.InitialTakeProfit,
		&p.RiskReward, &p.HighestPrice, &p.LowestPrice, &p.Volatility, &status,
		&exitPrice, &exitAt, &realizedPnL, &closeReason,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)

	// Terminal rows carry a complete exit record; active rows leave Exit nil.
	if exitAt != nil {
		exit := &domain.ExitRecord{At: *exitAt}
		if exitPrice != nil {
			exit.Price = *exitPrice
		}
		if realizedPnL != nil {
			exit.RealizedPnL = *realizedPnL
		}
		if closeReason != nil {
			exit.Reason = domain.CloseReason(*closeReason)
		}
		p.Exit = exit
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// exitColumns splits the optional exit record into nullable column values.
func exitColumns(p domain.Position) (exitPrice, realizedPnL *float64, exitAt *time.Time, closeReason *string) {
	if p.Exit == nil {
		return nil, nil, nil, nil
	}
	price := p.Exit.Price
	pnl := p.Exit.RealizedPnL
	at := p.Exit.At
	reason := string(p.Exit.Reason)
	return &price, &pnl, &at, &reason
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, mint, entry_price, quantity, stop_loss, take_profit,
			current_price, unrealized_pnl, pnl_percent, entry_at, updated_at,
			entry_signature, confidence, initial_stop_loss, initial_take_profit,
			risk_reward, highest_price, lowest_price, volatility, status,
			exit_price, exit_at, realized_pnl, close_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24
		)`

	exitPrice, realizedPnL, exitAt, closeReason := exitColumns(p)
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Mint, p.EntryPrice, p.Quantity, p.StopLoss, p.TakeProfit,
		p.CurrentPrice, p.UnrealizedPnL, p.PnLPercent, p.EntryAt, p.UpdatedAt,
		p.EntrySignature, p.Confidence, p.InitialStopLoss, p.InitialTakeProfit,
		p.RiskReward, p.HighestPrice, p.LowestPrice, p.Volatility, string(p.Status),
		exitPrice, exitAt, realizedPnL, closeReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			stop_loss      = $2,
			take_profit    = $3,
			current_price  = $4,
			unrealized_pnl = $5,
			pnl_percent    = $6,
			updated_at     = $7,
			highest_price  = $8,
			lowest_price   = $9,
			volatility     = $10,
			status         = $11,
			exit_price     = $12,
			exit_at        = $13,
			realized_pnl   = $14,
			close_reason   = $15
		WHERE id = $1`

	exitPrice, realizedPnL, exitAt, closeReason := exitColumns(p)
	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.StopLoss, p.TakeProfit,
		p.CurrentPrice, p.UnrealizedPnL, p.PnLPercent, p.UpdatedAt,
		p.HighestPrice, p.LowestPrice, p.Volatility, string(p.Status),
		exitPrice, exitAt, realizedPnL, closeReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByStatus returns all positions in the given lifecycle status, newest first.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = $1
		 ORDER BY entry_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by status: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns terminal positions whose exit happened before the
// cutoff, used by the archiver.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status IN ('closed', 'force_closed') AND exit_at < $1
		 ORDER BY exit_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}
