package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// TradeLister is the slice of domain.TradeStore the archiver reads.
type TradeLister interface {
	ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.CompletedTrade, error)
}

// SummaryArchiver uploads a stopped session's summary and, when a trade
// store is wired, its completed trades as JSONL:
//
//	<prefix>/2025/01/31/<session>/summary.json
//	<prefix>/2025/01/31/<session>/trades.jsonl
type SummaryArchiver struct {
	writer domain.BlobWriter
	prefix string
	trades TradeLister
	audit  domain.AuditStore
}

// NewSummaryArchiver creates a SummaryArchiver. trades and audit may be nil.
func NewSummaryArchiver(writer domain.BlobWriter, prefix string, trades TradeLister, audit domain.AuditStore) *SummaryArchiver {
	return &SummaryArchiver{writer: writer, prefix: prefix, trades: trades, audit: audit}
}

// ArchiveSummary uploads the summary of one session.
func (a *SummaryArchiver) ArchiveSummary(ctx context.Context, s domain.SessionSummary) error {
	dir := sessionDir(a.prefix, s)

	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal summary %s: %w", s.SessionID, err)
	}
	summaryKey := path.Join(dir, "summary.json")
	if err := a.writer.Put(ctx, summaryKey, bytes.NewReader(body), "application/json"); err != nil {
		return err
	}

	detail := map[string]any{
		"session_id": s.SessionID,
		"summary":    summaryKey,
	}
	if a.trades != nil {
		trades, err := a.trades.ListBySession(ctx, s.SessionID, domain.ListOpts{})
		if err != nil {
			return fmt.Errorf("s3blob: list trades %s: %w", s.SessionID, err)
		}
		if len(trades) > 0 {
			buf, err := marshalJSONL(trades)
			if err != nil {
				return fmt.Errorf("s3blob: marshal trades %s: %w", s.SessionID, err)
			}
			tradesKey := path.Join(dir, "trades.jsonl")
			if err := a.writer.Put(ctx, tradesKey, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
				return err
			}
			detail["trades"] = tradesKey
			detail["trade_count"] = len(trades)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.session", detail); err != nil {
			return fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return nil
}

// sessionDir partitions archives by the day the session stopped.
func sessionDir(prefix string, s domain.SessionSummary) string {
	at := s.StoppedAt
	if at.IsZero() {
		at = time.Now()
	}
	return path.Join(prefix, at.UTC().Format("2006/01/02"), s.SessionID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
