package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memWriter) Put(_ context.Context, p string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[p] = b
	m.types[p] = contentType
	return nil
}

type stubTrades []domain.CompletedTrade

func (s stubTrades) ListBySession(context.Context, string, domain.ListOpts) ([]domain.CompletedTrade, error) {
	return s, nil
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveSummary(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
	audit := &memAudit{}
	trades := stubTrades{{ID: "t1", NetProfit: 10}, {ID: "t2", NetProfit: -3}}
	a := NewSummaryArchiver(w, "sessions", trades, audit)

	sum := domain.SessionSummary{
		SessionID: "abc",
		Symbol:    "BTCIRT",
		Status:    domain.SessionStopped,
		StoppedAt: time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC),
		NetProfit: 7,
	}
	if err := a.ArchiveSummary(context.Background(), sum); err != nil {
		t.Fatalf("ArchiveSummary() error = %v", err)
	}

	raw, ok := w.objects["sessions/2025/01/31/abc/summary.json"]
	if !ok {
		t.Fatalf("summary not written; objects: %v", keys(w.objects))
	}
	var got domain.SessionSummary
	if err := json.Unmarshal(raw, &got); err != nil || got.NetProfit != 7 || got.Symbol != "BTCIRT" {
		t.Errorf("summary = %+v, %v", got, err)
	}

	lines := bytes.Split(bytes.TrimSpace(w.objects["sessions/2025/01/31/abc/trades.jsonl"]), []byte("\n"))
	if len(lines) != 2 {
		t.Errorf("trades.jsonl has %d lines, want 2", len(lines))
	}
	if w.types["sessions/2025/01/31/abc/trades.jsonl"] != "application/x-ndjson" {
		t.Errorf("content type = %q", w.types["sessions/2025/01/31/abc/trades.jsonl"])
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.session" {
		t.Errorf("audit events = %v", audit.events)
	}
}

func TestArchiveSummaryWithoutStores(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
	a := NewSummaryArchiver(w, "", nil, nil)
	if err := a.ArchiveSummary(context.Background(), domain.SessionSummary{SessionID: "x"}); err != nil {
		t.Fatal(err)
	}
	if len(w.objects) != 1 {
		t.Errorf("objects = %v", keys(w.objects))
	}
	for k := range w.objects {
		if !strings.HasSuffix(k, "/x/summary.json") {
			t.Errorf("key = %q", k)
		}
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	for in, want := range map[string]string{
		"http://localhost:9000": "http://localhost:9000",
		"s3.example.com":        "https://s3.example.com",
	} {
		if got := normaliseEndpoint(in); got != want {
			t.Errorf("normaliseEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
