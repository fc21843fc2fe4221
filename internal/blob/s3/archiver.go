package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

// multipartThreshold is the combined object size above which uploads switch
// from a single PutObject to the multipart path.
const multipartThreshold = 8 * 1024 * 1024

// Narrow store views required by the archiver. The Postgres stores satisfy
// these through their time-ranged queries; the archiver never needs the full
// store interfaces.

// TradeArchiveStore reads settled and failed trades for archival.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
	ListFailedBefore(ctx context.Context, before time.Time) ([]domain.FailedTrade, error)
}

// PositionArchiveStore reads terminal positions for archival.
type PositionArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// records, serializing them to JSONL, and uploading the result.
//
// Deletion of archived rows from the primary store is a separate, explicit
// step taken by the caller after the archive upload has succeeded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	trades    TradeArchiveStore
	positions PositionArchiveStore
	logger    *slog.Logger
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, trades TradeArchiveStore, positions PositionArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		trades:    trades,
		positions: positions,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads every trade settled before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the record count.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return upload(ctx, a, "trades", before, trades)
}

// ArchiveFailedTrades uploads every failed execution attempt recorded before
// the cutoff to archive/failed_trades/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveFailedTrades(ctx context.Context, before time.Time) (int64, error) {
	failed, err := a.trades.ListFailedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive failed trades query: %w", err)
	}
	return upload(ctx, a, "failed_trades", before, failed)
}

// ArchiveClosedPositions uploads every terminal position whose exit predates
// the cutoff to archive/positions/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	return upload(ctx, a, "positions", before, positions)
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)

	// Runs within the same month append to one object. Overwriting would drop
	// rows already pruned from the primary store.
	existing, err := a.readExisting(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s read existing: %w", kind, err)
	}
	combined, added := appendNew(existing, buf)

	if added > 0 {
		if int64(len(combined)) >= multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(combined), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(combined), "application/x-ndjson")
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
	}

	// Rows are only reported archived, and later pruned, once the object is
	// confirmed present.
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive %s verify: %s missing after upload", kind, path)
	}

	a.logger.Info("archive uploaded",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int("records", len(records)),
		slog.Int("appended", added),
		slog.Int("bytes", len(combined)),
	)
	return int64(len(records)), nil
}

// appendNew extends existing with the JSONL lines from buf that are not
// already present. Records that outlive pruning, closed positions above all,
// get re-listed on every run and must not duplicate in the archive.
func appendNew(existing, buf []byte) ([]byte, int) {
	seen := make(map[string]struct{})
	for _, line := range bytes.Split(existing, []byte{'\n'}) {
		if len(line) > 0 {
			seen[string(line)] = struct{}{}
		}
	}

	out := existing
	added := 0
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		if _, ok := seen[string(line)]; ok {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
		added++
	}
	return out, added
}

// readExisting returns the current contents of an archive object, or nil when
// the object does not exist yet.
func (a *ArchiveImpl) readExisting(ctx context.Context, path string) ([]byte, error) {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/trades/2026-08.jsonl
//	archive/failed_trades/2026-08.jsonl
//	archive/positions/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice as newline-delimited JSON, one compact line
// per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
