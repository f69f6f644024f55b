package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, session_id, symbol, buy_order_id, sell_order_id,
	buy_price, sell_price, amount, gross_profit, fees, net_profit, completed_at`

// Insert records a completed round trip. Re-inserting the same trade is a
// no-op.
func (s *TradeStore) Insert(ctx context.Context, t domain.CompletedTrade) error {
	const query = `
		INSERT INTO completed_trades (
			id, session_id, symbol, buy_order_id, sell_order_id,
			buy_price, sell_price, amount, gross_profit, fees, net_profit, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.SessionID, t.Symbol, t.BuyOrderID, t.SellOrderID,
		t.BuyPrice, t.SellPrice, t.Amount, t.GrossProfit, t.Fees, t.NetProfit, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListBySession returns a session's trades, newest first.
func (s *TradeStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.CompletedTrade, error) {
	q := newListQuery(`SELECT `+tradeSelectCols+` FROM completed_trades WHERE session_id = $1`, sessionID)
	q.window("completed_at", opts)
	q.page("completed_at DESC", opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for session %s: %w", sessionID, err)
	}
	trades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CompletedTrade, error) {
		var t domain.CompletedTrade
		err := row.Scan(
			&t.ID, &t.SessionID, &t.Symbol, &t.BuyOrderID, &t.SellOrderID,
			&t.BuyPrice, &t.SellPrice, &t.Amount, &t.GrossProfit, &t.Fees, &t.NetProfit, &t.CompletedAt,
		)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for session %s: %w", sessionID, err)
	}
	return trades, nil
}
