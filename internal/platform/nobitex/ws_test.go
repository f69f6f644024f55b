package nobitex

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    FrameKind
		channel string
		data    string
		wantErr bool
	}{
		{name: "heartbeat", raw: `{}`, kind: FrameHeartbeat},
		{name: "heartbeat padded", raw: " {}\n", kind: FrameHeartbeat},
		{
			name:    "push object",
			raw:     `{"push":{"channel":"public:orderbook-BTCIRT","pub":{"data":{"asks":[["1","2"]]}}}}`,
			kind:    FramePush,
			channel: "public:orderbook-BTCIRT",
			data:    `{"asks":[["1","2"]]}`,
		},
		{
			name:    "push string",
			raw:     `{"push":{"channel":"public:orderbook-ETHIRT","pub":{"data":"{\"bids\":[]}"}}}`,
			kind:    FramePush,
			channel: "public:orderbook-ETHIRT",
			data:    `{"bids":[]}`,
		},
		{name: "reply", raw: `{"id":2,"subscribe":{}}`, kind: FrameReply},
		{name: "error", raw: `{"id":3,"error":{"code":103,"message":"permission denied"}}`, kind: FrameError},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "unknown shape", raw: `{"foo":1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrProtocol) {
					t.Errorf("err = %v, want ErrProtocol", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if f.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", f.Kind, tt.kind)
			}
			if f.Channel != tt.channel {
				t.Errorf("Channel = %q, want %q", f.Channel, tt.channel)
			}
			if tt.data != "" && string(f.Data) != tt.data {
				t.Errorf("Data = %s, want %s", f.Data, tt.data)
			}
		})
	}
}

func TestChannelSymbol(t *testing.T) {
	ch := BookChannel("btcirt")
	if ch != "public:orderbook-BTCIRT" {
		t.Errorf("BookChannel = %q", ch)
	}
	sym, ok := SymbolFromChannel(ch)
	if !ok || sym != "BTCIRT" {
		t.Errorf("SymbolFromChannel = %q, %v", sym, ok)
	}
	if _, ok := SymbolFromChannel("public:trades-BTCIRT"); ok {
		t.Error("trades channel accepted as book channel")
	}
}

func TestParseBookPublicationInfersLastTrade(t *testing.T) {
	data := []byte(`{"asks":[{"price":"6010","amount":"1"},["6020","2"]],"bids":[["5990","3"],{"price":5980,"quantity":4}]}`)
	now := time.Unix(1700000000, 0)
	snap, err := ParseBookPublication("BTCIRT", data, now)
	if err != nil {
		t.Fatalf("ParseBookPublication() error = %v", err)
	}
	if snap.LastTradePrice != 6000 {
		t.Errorf("LastTradePrice = %v, want mid 6000", snap.LastTradePrice)
	}
	if snap.Source != domain.SourceWS || !snap.CapturedAt.Equal(now) {
		t.Errorf("Source/CapturedAt = %q/%v", snap.Source, snap.CapturedAt)
	}
	wantAsks := []domain.PriceLevel{{Price: 6010, Quantity: 1}, {Price: 6020, Quantity: 2}}
	wantBids := []domain.PriceLevel{{Price: 5990, Quantity: 3}, {Price: 5980, Quantity: 4}}
	if !reflect.DeepEqual(snap.Asks, wantAsks) || !reflect.DeepEqual(snap.Bids, wantBids) {
		t.Errorf("asks=%v bids=%v", snap.Asks, snap.Bids)
	}
}

func TestParseBookPublicationRejectsGarbage(t *testing.T) {
	if _, err := ParseBookPublication("BTCIRT", []byte(`[1,2`), time.Now()); !errors.Is(err, ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", err)
	}
	if _, err := ParseBookPublication("BTCIRT", []byte(`{"asks":[],"bids":[]}`), time.Now()); !errors.Is(err, ErrProtocol) {
		t.Errorf("empty book err = %v, want ErrProtocol", err)
	}
}

func TestBookRoundTrip(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`["6005000000","0.1"]`),
		json.RawMessage(`["6010000000","0.25"]`),
		json.RawMessage(`["6020000000","1.123456"]`),
	}
	levels := NormalizeLevels(raw, true)

	again := NormalizeLevels(EncodeLevels(levels), true)
	if !reflect.DeepEqual(levels, again) {
		t.Errorf("encode/parse round trip = %v, want %v", again, levels)
	}

	snap := domain.OrderBookSnapshot{Symbol: "BTCIRT", Asks: levels, Bids: NormalizeLevels(raw, false)}
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back domain.OrderBookSnapshot
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back.Asks, snap.Asks) || !reflect.DeepEqual(back.Bids, snap.Bids) {
		t.Errorf("json round trip asks=%v bids=%v", back.Asks, back.Bids)
	}
}
