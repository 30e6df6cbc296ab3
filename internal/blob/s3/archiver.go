package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/settled/internal/domain"
)

// BlobWriter is the narrow upload interface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// archiveRecord is the JSONL row format for archived journal entries.
// Amounts are decimal strings; absent fields are omitted.
type archiveRecord struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	OrderHash   string    `json:"order_hash"`
	TradeHash   string    `json:"trade_hash,omitempty"`
	Maker       string    `json:"maker,omitempty"`
	Taker       string    `json:"taker,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	SellAmount  string    `json:"sell_amount,omitempty"`
	FeeMake     string    `json:"fee_make,omitempty"`
	FeeTake     string    `json:"fee_take,omitempty"`
	BlockHeight uint64    `json:"block_height"`
	CreatedAt   time.Time `json:"created_at"`
}

// JournalArchiver moves aged journal entries out of the primary store into
// object storage as JSONL files. Entries are deleted from the store only
// after a successful upload, so a failed upload leaves everything in place
// for the next cycle.
type JournalArchiver struct {
	writer    BlobWriter
	journal   domain.JournalStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewJournalArchiver creates an archiver that uploads entries older than
// retention, checking once per interval.
func NewJournalArchiver(writer BlobWriter, journal domain.JournalStore, retention, interval time.Duration, logger *slog.Logger) *JournalArchiver {
	return &JournalArchiver{
		writer:    writer,
		journal:   journal,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run executes archive cycles until the context is cancelled. Cycle errors
// are logged and retried on the next tick.
func (a *JournalArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("journal archiver started",
		slog.Duration("retention", a.retention),
		slog.Duration("interval", a.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-a.retention)
			count, err := a.ArchiveBefore(ctx, cutoff)
			if err != nil {
				a.logger.Error("archive cycle failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				a.logger.Info("journal entries archived", slog.Int64("count", count))
			}
		}
	}
}

// ArchiveBefore uploads all journal entries created before the cutoff and
// then deletes them from the store. It returns the number of entries
// archived.
func (a *JournalArchiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	entries, err := a.journal.ListBefore(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal marshal: %w", err)
	}

	path := archivePath(cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive journal upload: %w", err)
	}

	deleted, err := a.journal.DeleteBefore(ctx, cutoff)
	if err != nil {
		// The upload succeeded; the entries will be re-archived (and the
		// object overwritten) on the next cycle.
		return 0, fmt.Errorf("s3blob: archive journal delete: %w", err)
	}

	a.logger.Debug("archive uploaded",
		slog.String("path", path),
		slog.Int64("deleted", deleted),
	)
	return int64(len(entries)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/journal/2026-08.jsonl
func archivePath(cutoff time.Time) string {
	return fmt.Sprintf("archive/journal/%s.jsonl", cutoff.Format("2006-01"))
}

// marshalJSONL serialises journal entries as newline-delimited JSON.
func marshalJSONL(entries []domain.JournalEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, e := range entries {
		rec := archiveRecord{
			ID:          e.ID,
			Kind:        string(e.Kind),
			OrderHash:   e.OrderHash.Hex(),
			BlockHeight: e.BlockHeight,
			CreatedAt:   e.CreatedAt,
		}
		if e.TradeHash != (common.Hash{}) {
			rec.TradeHash = e.TradeHash.Hex()
		}
		if e.Maker != (common.Address{}) {
			rec.Maker = e.Maker.Hex()
		}
		if e.Taker != (common.Address{}) {
			rec.Taker = e.Taker.Hex()
		}
		if e.Amount != nil {
			rec.Amount = e.Amount.String()
		}
		if e.SellAmount != nil {
			rec.SellAmount = e.SellAmount.String()
		}
		if e.FeeMake != nil {
			rec.FeeMake = e.FeeMake.String()
		}
		if e.FeeTake != nil {
			rec.FeeTake = e.FeeTake.String()
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
