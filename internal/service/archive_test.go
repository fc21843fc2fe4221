package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

type stubArchiver struct {
	trades, failed, positions int64
	calls                     int
}

func (a *stubArchiver) ArchiveTrades(context.Context, time.Time) (int64, error) {
	a.calls++
	return a.trades, nil
}

func (a *stubArchiver) ArchiveFailedTrades(context.Context, time.Time) (int64, error) {
	a.calls++
	return a.failed, nil
}

func (a *stubArchiver) ArchiveClosedPositions(context.Context, time.Time) (int64, error) {
	a.calls++
	return a.positions, nil
}

type stubPruner struct {
	pruned int64
	calls  int
	before time.Time
}

func (p *stubPruner) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	p.calls++
	p.before = before
	return p.pruned, nil
}

type stubBlobReader struct {
	infos []domain.BlobInfo
	lists int
}

func (r *stubBlobReader) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (r *stubBlobReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	r.lists++
	return r.infos, nil
}

func (r *stubBlobReader) Exists(context.Context, string) (bool, error) { return false, nil }

func TestArchiveRunOncePrunesAfterUploads(t *testing.T) {
	archiver := &stubArchiver{trades: 5, failed: 2, positions: 3}
	pruner := &stubPruner{pruned: 7}
	reader := &stubBlobReader{infos: []domain.BlobInfo{{Path: "archive/trades/2026-08.jsonl", Size: 128}}}
	svc := NewArchiveService(archiver, pruner, reader, 30, time.Hour, slog.Default())

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if archiver.calls != 3 {
		t.Errorf("archiver calls = %d, want 3", archiver.calls)
	}
	if pruner.calls != 1 {
		t.Errorf("pruner calls = %d, want 1", pruner.calls)
	}
	if reader.lists != 1 {
		t.Errorf("inventory listings = %d, want 1", reader.lists)
	}

	wantCutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if diff := pruner.before.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("prune cutoff = %v, want about %v", pruner.before, wantCutoff)
	}
}

func TestArchiveRunOnceSkipsPruneWhenNothingArchived(t *testing.T) {
	archiver := &stubArchiver{}
	pruner := &stubPruner{}
	svc := NewArchiveService(archiver, pruner, &stubBlobReader{}, 30, time.Hour, slog.Default())

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if pruner.calls != 0 {
		t.Errorf("pruner calls = %d, want 0", pruner.calls)
	}
}
