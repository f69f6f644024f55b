package nobitex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the WebSocket upgrade.
	handshakeTimeout = 15 * time.Second

	// BookChannelPrefix prefixes the public order book channel of a symbol.
	BookChannelPrefix = "public:orderbook-"
)

// ErrProtocol marks a frame that is not valid JSON or has an unknown shape.
var ErrProtocol = errors.New("nobitex/ws: protocol error")

// FrameKind discriminates decoded server frames.
type FrameKind int

const (
	FrameHeartbeat FrameKind = iota
	FramePush
	FrameReply
	FrameError
)

// Frame is one decoded server message.
type Frame struct {
	Kind    FrameKind
	ID      int64
	Channel string
	Data    []byte // publication payload, unwrapped if it was sent as a JSON string
	Err     string
}

// wireFrame is the union of every server message shape.
type wireFrame struct {
	ID    int64 `json:"id"`
	Push  *struct {
		Channel string `json:"channel"`
		Pub     *struct {
			Data json.RawMessage `json:"data"`
		} `json:"pub"`
	} `json:"push"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// BookChannel returns the order book channel for symbol.
func BookChannel(symbol string) string {
	return BookChannelPrefix + strings.ToUpper(symbol)
}

// SymbolFromChannel extracts the symbol from an order book channel.
func SymbolFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, BookChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, BookChannelPrefix), true
}

// WSConn is one WebSocket session speaking the connect/subscribe/push
// protocol. Writes are serialised; reads must come from one goroutine.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	nextID  int64
	pending [][]byte
}

// DialWS opens a connection to wsURL.
func DialWS(ctx context.Context, wsURL string) (*WSConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("nobitex/ws: connect: %w", err)
	}
	return &WSConn{conn: conn}, nil
}

// Connect sends the connect frame. token may be empty for public channels.
func (c *WSConn) Connect(token string) error {
	connect := map[string]any{}
	if token != "" {
		connect["token"] = token
	}
	c.nextID++
	return c.writeJSON(map[string]any{"id": c.nextID, "connect": connect})
}

// Subscribe sends one subscribe frame for channel.
func (c *WSConn) Subscribe(channel string) error {
	c.nextID++
	return c.writeJSON(map[string]any{
		"id":        c.nextID,
		"subscribe": map[string]string{"channel": channel},
	})
}

// Heartbeat echoes an empty object.
func (c *WSConn) Heartbeat() error {
	return c.writeRaw([]byte("{}"))
}

// SetReadDeadline bounds the next ReadFrame.
func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// ReadFrame returns the next server frame. A single WebSocket message may
// carry several newline-separated frames; they are returned one by one.
// Frames that fail to decode return an error wrapping ErrProtocol and the
// connection stays usable.
func (c *WSConn) ReadFrame() (Frame, error) {
	for len(c.pending) == 0 {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("nobitex/ws: read: %w", err)
		}
		for _, part := range bytes.Split(msg, []byte("\n")) {
			if part = bytes.TrimSpace(part); len(part) > 0 {
				c.pending = append(c.pending, part)
			}
		}
	}
	raw := c.pending[0]
	c.pending = c.pending[1:]
	return DecodeFrame(raw)
}

// Close sends a close frame and closes the connection.
func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *WSConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nobitex/ws: marshal: %w", err)
	}
	return c.writeRaw(b)
}

func (c *WSConn) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("nobitex/ws: write: %w", err)
	}
	return nil
}

// DecodeFrame classifies one raw server frame.
func DecodeFrame(raw []byte) (Frame, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("{}")) {
		return Frame{Kind: FrameHeartbeat}, nil
	}

	var wf wireFrame
	if err := json.Unmarshal(raw, &wf); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	switch {
	case wf.Error != nil:
		return Frame{Kind: FrameError, ID: wf.ID, Err: fmt.Sprintf("%d: %s", wf.Error.Code, wf.Error.Message)}, nil
	case wf.Push != nil:
		if wf.Push.Pub == nil {
			return Frame{Kind: FramePush, Channel: wf.Push.Channel}, nil
		}
		data, err := unwrapData(wf.Push.Pub.Data)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FramePush, Channel: wf.Push.Channel, Data: data}, nil
	case wf.ID != 0:
		return Frame{Kind: FrameReply, ID: wf.ID}, nil
	}
	return Frame{}, fmt.Errorf("%w: unrecognised frame", ErrProtocol)
}

// unwrapData returns the publication payload, decoding it first when the
// server sent it as a JSON string.
func unwrapData(data json.RawMessage) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return data, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: string payload: %v", ErrProtocol, err)
	}
	return []byte(s), nil
}

// ParseBookPublication turns a publication payload into a snapshot.
func ParseBookPublication(symbol string, data []byte, now time.Time) (domain.OrderBookSnapshot, error) {
	var dto OrderBookDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("%w: book payload: %v", ErrProtocol, err)
	}
	snap := dto.ToSnapshot(symbol, domain.SourceWS, now)
	if snap.Empty() {
		return domain.OrderBookSnapshot{}, fmt.Errorf("%w: empty book for %s", ErrProtocol, symbol)
	}
	return snap, nil
}
