package domain

import (
	"context"
	"time"
)

// PositionStore persists positions. Positions are never deleted, only
// appended to and updated; history survives terminal transitions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListByStatus(ctx context.Context, status PositionStatus) ([]Position, error)
}

// TradeStore persists settled trades and failed execution attempts.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	InsertFailed(ctx context.Context, failed FailedTrade) error
	ListRange(ctx context.Context, since, until time.Time) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	ListFailedBefore(ctx context.Context, before time.Time) ([]FailedTrade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	SumRealizedPnL(ctx context.Context, since time.Time) (float64, error)
}

// TokenStore persists the latest scored snapshot per token mint.
type TokenStore interface {
	Upsert(ctx context.Context, snap TokenSnapshot) error
	Get(ctx context.Context, mint string) (TokenSnapshot, error)
}
