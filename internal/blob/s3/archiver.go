package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 << 20
)

// ClosedTradeSource lists closed trades for archival.
type ClosedTradeSource interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// Archiver copies closed trades older than a cutoff to object storage as
// JSON lines. Rows are never deleted from the primary store. Each run only
// uploads trades closed since the previous run's cutoff.
type Archiver struct {
	writer domain.BlobWriter
	trades ClosedTradeSource
	audit  domain.AuditStore
	logger *slog.Logger

	mu        sync.Mutex
	watermark time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades ClosedTradeSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveClosedTrades uploads trades closed before the cutoff and not yet
// archived by this process, returning how many were written.
func (a *Archiver) ArchiveClosedTrades(ctx context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.trades.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	var batch []domain.Trade
	for _, t := range all {
		if t.ClosedAt != nil && !t.ClosedAt.Before(a.watermark) {
			batch = append(batch, t)
		}
	}
	if len(batch) == 0 {
		a.watermark = before
		return 0, nil
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive encode: %w", err)
	}

	path := archivePath(before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}
	a.watermark = before

	n := int64(len(batch))
	a.logger.InfoContext(ctx, "closed trades archived", slog.String("path", path), slog.Int64("count", n))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"path":   path,
			"count":  n,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return n, fmt.Errorf("s3blob: archive audit: %w", err)
		}
	}
	return n, nil
}

// Run archives every interval, cutting off at now minus retention, until
// ctx is done.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.ArchiveClosedTrades(ctx, time.Now().UTC().Add(-retention)); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath partitions by month and names the file after the cutoff:
//
//	archive/trades/2025-01/20250115T000000Z.jsonl
func archivePath(before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/trades/%s/%s.jsonl", before.Format("2006-01"), before.Format("20060102T150405Z"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
