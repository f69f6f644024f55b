package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type recordSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, Options{Events: []string{"emergency_stop", " rebalance "}}, discard())

	ctx := context.Background()
	_ = n.Notify(ctx, "trade_completed", "Trade", "x")
	_ = n.Notify(ctx, "rebalance", "Rebalanced", "x")
	_ = n.NotifyAll(ctx, "Always", "x")

	if got := strings.Join(s.titles, ","); got != "Rebalanced,Always" {
		t.Errorf("delivered = %q", got)
	}
}

func TestNotifierPrefixAndQuiet(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, Options{Prefix: "[dryrun]", Quiet: time.Minute}, discard())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	ctx := context.Background()
	_ = n.Notify(ctx, "risk", "Drawdown", "a")
	_ = n.Notify(ctx, "risk", "Drawdown", "b")
	now = now.Add(2 * time.Minute)
	_ = n.Notify(ctx, "risk", "Drawdown", "c")

	if len(s.titles) != 2 || s.titles[0] != "[dryrun] Drawdown" {
		t.Errorf("delivered = %v", s.titles)
	}
}

func TestNotifierKeepsGoingAfterFailure(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("down")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, Options{}, discard())

	err := n.Notify(context.Background(), "e", "T", "m")
	if err == nil || !strings.Contains(err.Error(), "bad: down") {
		t.Errorf("err = %v", err)
	}
	if len(good.titles) != 1 {
		t.Error("second sender skipped")
	}
}

func TestTelegramSender(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "tok", "42")
	if err := s.Send(context.Background(), "Grid started", "BTCIRT"); err != nil {
		t.Fatal(err)
	}
	if path != "/bottok/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if body["chat_id"] != "42" || body["text"] != "Grid started\nBTCIRT" {
		t.Errorf("body = %v", body)
	}
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v", err)
	}
}
