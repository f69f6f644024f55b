package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/gridbot/internal/cache/memory"
	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/gorilla/websocket"
)

type chanPublisher chan domain.OrderBookSnapshot

func (c chanPublisher) Publish(_ context.Context, snap domain.OrderBookSnapshot) error {
	c <- snap
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const bookPush = `{"push":{"channel":"public:orderbook-BTCIRT","pub":{"data":"{\"asks\":[[\"6100\",\"1\"]],\"bids\":[[\"5900\",\"2\"]]}"}}}`

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:            url,
		Symbols:        []string{"BTCIRT"},
		LeaseTTL:       time.Minute,
		ReadTimeout:    5 * time.Second,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}
}

func TestFeedSubscribesEchoesAndPublishes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	echoed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, connect, _ := conn.ReadMessage()
		_, subscribe, _ := conn.ReadMessage()
		if !strings.Contains(string(connect), `"connect"`) ||
			!strings.Contains(string(subscribe), `"public:orderbook-BTCIRT"`) {
			t.Errorf("handshake frames = %s / %s", connect, subscribe)
			return
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte("{}"))
		_, echo, err := conn.ReadMessage()
		if err == nil {
			echoed <- string(echo)
		}

		batch := "garbage\n" +
			`{"push":{"channel":"public:orderbook-ETHIRT","pub":{"data":{"asks":[["1","1"]],"bids":[]}}}}` + "\n" +
			bookPush
		_ = conn.WriteMessage(websocket.TextMessage, []byte(batch))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	pub := make(chanPublisher, 4)
	f := NewOrderbookFeed(testConfig(wsURL(srv)), memory.NewLockManager(), pub, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case got := <-echoed:
		if got != "{}" {
			t.Errorf("heartbeat echo = %q, want {}", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat not echoed")
	}

	select {
	case snap := <-pub:
		if snap.Symbol != "BTCIRT" || snap.BestBid() != 5900 || snap.BestAsk() != 6100 {
			t.Errorf("snapshot = %+v", snap)
		}
		if snap.Source != domain.SourceWS || snap.LastTradePrice != 6000 {
			t.Errorf("source/last = %v/%v", snap.Source, snap.LastTradePrice)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot published")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if len(pub) != 0 {
		t.Errorf("unexpected extra publications: %d", len(pub))
	}
}

func TestFeedReconnectsAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)
		_, _, _ = conn.ReadMessage()
		_, _, _ = conn.ReadMessage()
		if n == 1 {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(bookPush))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	pub := make(chanPublisher, 4)
	f := NewOrderbookFeed(testConfig(wsURL(srv)), memory.NewLockManager(), pub, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	select {
	case <-pub:
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot after reconnect")
	}
	if got := conns.Load(); got < 2 {
		t.Errorf("connections = %d, want >= 2", got)
	}
}

func TestFeedRequiresLease(t *testing.T) {
	locks := memory.NewLockManager()
	held, err := locks.Acquire(context.Background(), "feed:orderbook", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release(context.Background())

	f := NewOrderbookFeed(testConfig("ws://127.0.0.1:1"), locks, make(chanPublisher), nil, discardLogger())
	if err := f.Run(context.Background()); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("Run() = %v, want ErrLockHeld", err)
	}
}

type lostLease struct{}

func (lostLease) Key() string                  { return "feed:orderbook" }
func (lostLease) Renew(context.Context) error   { return domain.ErrLeaseLost }
func (lostLease) Release(context.Context) error { return nil }

type lostLocks struct{}

func (lostLocks) Acquire(context.Context, string, time.Duration) (domain.Lease, error) {
	return lostLease{}, nil
}

func TestFeedStopsWhenLeaseLost(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1")
	cfg.LeaseTTL = 30 * time.Millisecond
	f := NewOrderbookFeed(cfg, lostLocks{}, make(chanPublisher), nil, discardLogger())

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()
	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrLeaseLost) {
			t.Errorf("Run() = %v, want ErrLeaseLost", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept going after the lease was lost")
	}
}

func TestFeedKeepsLeaseOnQuietConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	resume := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(bookPush))
		<-resume
		_ = conn.WriteMessage(websocket.TextMessage, []byte(bookPush))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	defer close(resume)

	locks := memory.NewLockManager()
	cfg := testConfig(wsURL(srv))
	cfg.LeaseTTL = 300 * time.Millisecond
	cfg.ReadTimeout = 3 * time.Second

	pub := make(chanPublisher, 4)
	f := NewOrderbookFeed(cfg, locks, pub, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case <-pub:
	case <-time.After(5 * time.Second):
		t.Fatal("no first snapshot")
	}

	// Silent for well over the lease TTL.
	time.Sleep(800 * time.Millisecond)
	if other, err := locks.Acquire(context.Background(), cfg.LeaseKey, time.Minute); err == nil {
		_ = other.Release(context.Background())
		t.Fatal("a second consumer acquired the lease while the first was connected")
	} else if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Acquire() = %v, want ErrLockHeld", err)
	}
	select {
	case err := <-done:
		t.Fatalf("Run() returned during a quiet period: %v", err)
	default:
	}

	resume <- struct{}{}
	select {
	case <-pub:
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot after the quiet period")
	}
}

func TestJitterAddsOnTopOfBackoff(t *testing.T) {
	f := NewOrderbookFeed(testConfig("ws://unused"), memory.NewLockManager(), make(chanPublisher), nil, discardLogger())
	for i := 0; i < 100; i++ {
		d := f.jitter(time.Second)
		if d < time.Second || d > 1500*time.Millisecond {
			t.Fatalf("jitter(1s) = %v", d)
		}
	}
}
