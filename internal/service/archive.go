package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

// TradePruner deletes trade rows that have been archived.
type TradePruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveService moves aged records to cold storage on a fixed schedule and
// prunes the archived trade rows from Postgres afterwards. Positions are
// archived but never pruned; the positions table is the system of record.
type ArchiveService struct {
	archiver      domain.Archiver
	pruner        TradePruner
	reader        domain.BlobReader
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
}

// NewArchiveService creates an ArchiveService.
func NewArchiveService(archiver domain.Archiver, pruner TradePruner, reader domain.BlobReader, retentionDays int, interval time.Duration, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		archiver:      archiver,
		pruner:        pruner,
		reader:        reader,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.With(slog.String("component", "archive")),
	}
}

// Run executes archive runs at the configured interval until ctx is
// cancelled. The first run happens after one full interval.
func (s *ArchiveService) Run(ctx context.Context) error {
	s.logger.Info("archive service started",
		slog.Duration("interval", s.interval),
		slog.Int("retention_days", s.retentionDays),
	)
	defer s.logger.Info("archive service stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce performs a single archive run: upload trades, failed trades, and
// closed positions older than the retention cutoff, then prune the trade rows
// whose archive succeeded.
func (s *ArchiveService) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)
	s.logger.Info("starting archive run", slog.Time("cutoff", cutoff))

	trades, err := s.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("service: archiving trades before %v: %w", cutoff, err)
	}

	failed, err := s.archiver.ArchiveFailedTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("service: archiving failed trades before %v: %w", cutoff, err)
	}

	positions, err := s.archiver.ArchiveClosedPositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("service: archiving positions before %v: %w", cutoff, err)
	}

	// Prune only after every upload has succeeded.
	var pruned int64
	if trades > 0 || failed > 0 {
		pruned, err = s.pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("service: pruning trades before %v: %w", cutoff, err)
		}
	}

	s.logger.Info("archive run complete",
		slog.Int64("trades_archived", trades),
		slog.Int64("failed_trades_archived", failed),
		slog.Int64("positions_archived", positions),
		slog.Int64("rows_pruned", pruned),
	)
	s.logInventory(ctx)
	return nil
}

// logInventory reports the cold-storage footprint after a run. Informational
// only; a listing failure never fails the run.
func (s *ArchiveService) logInventory(ctx context.Context) {
	objects, err := s.reader.List(ctx, "archive/")
	if err != nil {
		s.logger.Warn("archive inventory listing failed", slog.String("error", err.Error()))
		return
	}
	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	s.logger.Info("archive inventory",
		slog.Int("objects", len(objects)),
		slog.Int64("bytes", total),
	)
}
