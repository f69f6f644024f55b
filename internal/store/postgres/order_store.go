package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert inserts the order or overwrites its mutable fields.
func (s *OrderStore) Upsert(ctx context.Context, o domain.TradingOrder) error {
	const query = `
		INSERT INTO trading_orders (
			id, exchange_order_id, session_id, symbol, side,
			price, quantity, filled_quantity, avg_fill_price,
			status, simulated, paired_order_id,
			created_at, placed_at, filled_at, cancelled_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			exchange_order_id = EXCLUDED.exchange_order_id,
			filled_quantity   = EXCLUDED.filled_quantity,
			avg_fill_price    = EXCLUDED.avg_fill_price,
			status            = EXCLUDED.status,
			paired_order_id   = EXCLUDED.paired_order_id,
			placed_at         = EXCLUDED.placed_at,
			filled_at         = EXCLUDED.filled_at,
			cancelled_at      = EXCLUDED.cancelled_at,
			updated_at        = NOW()`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.ExchangeOrderID, o.SessionID, o.Symbol, string(o.Side),
		o.Price, o.Quantity, o.FilledQuantity, o.AvgFillPrice,
		string(o.Status), o.Simulated, o.PairedOrderID,
		o.CreatedAt, o.PlacedAt, o.FilledAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

const orderSelectCols = `id, exchange_order_id, session_id, symbol, side,
	price, quantity, filled_quantity, avg_fill_price,
	status, simulated, paired_order_id,
	created_at, placed_at, filled_at, cancelled_at`

func scanOrder(scanner pgx.Row) (domain.TradingOrder, error) {
	var o domain.TradingOrder
	var side, status string
	err := scanner.Scan(
		&o.ID, &o.ExchangeOrderID, &o.SessionID, &o.Symbol, &side,
		&o.Price, &o.Quantity, &o.FilledQuantity, &o.AvgFillPrice,
		&status, &o.Simulated, &o.PairedOrderID,
		&o.CreatedAt, &o.PlacedAt, &o.FilledAt, &o.CancelledAt,
	)
	if err != nil {
		return domain.TradingOrder{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.TradingOrder, error) {
	defer rows.Close()
	var orders []domain.TradingOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by its internal ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.TradingOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM trading_orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingOrder{}, domain.ErrNotFound
		}
		return domain.TradingOrder{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListBySession returns a session's orders, oldest first.
func (s *OrderStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.TradingOrder, error) {
	q := newListQuery(`SELECT `+orderSelectCols+` FROM trading_orders WHERE session_id = $1`, sessionID)
	q.window("created_at", opts)
	q.page("created_at ASC", opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for session %s: %w", sessionID, err)
	}
	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders for session %s: %w", sessionID, err)
	}
	return orders, nil
}

// ListResting returns orders on symbol whose last known status is live on
// the book, regardless of session.
func (s *OrderStore) ListResting(ctx context.Context, symbol string) ([]domain.TradingOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM trading_orders
		 WHERE symbol = $1 AND status IN ('placed', 'partially_filled')
		 ORDER BY created_at`, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resting orders: %w", err)
	}
	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resting orders: %w", err)
	}
	return orders, nil
}
