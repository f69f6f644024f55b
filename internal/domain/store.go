package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists trading orders.
type OrderStore interface {
	Upsert(ctx context.Context, order TradingOrder) error
	GetByID(ctx context.Context, id string) (TradingOrder, error)
	ListBySession(ctx context.Context, sessionID string, opts ListOpts) ([]TradingOrder, error)
	// ListResting returns orders on symbol that were last seen live on the
	// book, across sessions.
	ListResting(ctx context.Context, symbol string) ([]TradingOrder, error)
}

// TradeStore persists completed round trips.
type TradeStore interface {
	Insert(ctx context.Context, trade CompletedTrade) error
	ListBySession(ctx context.Context, sessionID string, opts ListOpts) ([]CompletedTrade, error)
}

// SessionStore persists bot sessions.
type SessionStore interface {
	Create(ctx context.Context, s BotSession) error
	Update(ctx context.Context, s BotSession) error
	GetByID(ctx context.Context, id string) (BotSession, error)
	ListRecent(ctx context.Context, limit int) ([]BotSession, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter uploads an object to archive storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
