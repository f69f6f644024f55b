package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionSelectCols = `id, symbol, capital, active_capital_pct, step_percent, levels,
	center_price, status, simulated, gross_profit, realized_profit, total_fees,
	trade_count, peak_equity, started_at, last_rebalance_at, last_check_at,
	stopped_at, stop_reason`

// Create inserts a new session.
func (s *SessionStore) Create(ctx context.Context, b domain.BotSession) error {
	const query = `
		INSERT INTO bot_sessions (
			id, symbol, capital, active_capital_pct, step_percent, levels,
			center_price, status, simulated, gross_profit, realized_profit, total_fees,
			trade_count, peak_equity, started_at, last_rebalance_at, last_check_at,
			stopped_at, stop_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19
		)`

	_, err := s.pool.Exec(ctx, query,
		b.ID, b.Symbol, b.Capital, b.ActiveCapitalPct, b.StepPercent, b.Levels,
		b.CenterPrice, string(b.Status), b.Simulated, b.GrossProfit, b.RealizedProfit, b.TotalFees,
		b.TradeCount, b.PeakEquity, b.StartedAt, nullTime(b.LastRebalanceAt), nullTime(b.LastCheckAt),
		b.StoppedAt, b.StopReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: create session %s: %w", b.ID, err)
	}
	return nil
}

// Update overwrites the session's mutable state.
func (s *SessionStore) Update(ctx context.Context, b domain.BotSession) error {
	const query = `
		UPDATE bot_sessions SET
			center_price = $2, status = $3, gross_profit = $4, realized_profit = $5,
			total_fees = $6, trade_count = $7, peak_equity = $8,
			last_rebalance_at = $9, last_check_at = $10, stopped_at = $11,
			stop_reason = $12, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		b.ID, b.CenterPrice, string(b.Status), b.GrossProfit, b.RealizedProfit,
		b.TotalFees, b.TradeCount, b.PeakEquity,
		nullTime(b.LastRebalanceAt), nullTime(b.LastCheckAt), b.StoppedAt,
		b.StopReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: update session %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (domain.BotSession, error) {
	var b domain.BotSession
	var status string
	var rebalanced, checked *time.Time
	err := row.Scan(
		&b.ID, &b.Symbol, &b.Capital, &b.ActiveCapitalPct, &b.StepPercent, &b.Levels,
		&b.CenterPrice, &status, &b.Simulated, &b.GrossProfit, &b.RealizedProfit, &b.TotalFees,
		&b.TradeCount, &b.PeakEquity, &b.StartedAt, &rebalanced, &checked,
		&b.StoppedAt, &b.StopReason,
	)
	if err != nil {
		return domain.BotSession{}, err
	}
	b.Status = domain.SessionStatus(status)
	if rebalanced != nil {
		b.LastRebalanceAt = *rebalanced
	}
	if checked != nil {
		b.LastCheckAt = *checked
	}
	return b, nil
}

// GetByID retrieves a session.
func (s *SessionStore) GetByID(ctx context.Context, id string) (domain.BotSession, error) {
	b, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionSelectCols+` FROM bot_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BotSession{}, domain.ErrNotFound
		}
		return domain.BotSession{}, fmt.Errorf("postgres: get session %s: %w", id, err)
	}
	return b, nil
}

// ListRecent returns the most recently started sessions.
func (s *SessionStore) ListRecent(ctx context.Context, limit int) ([]domain.BotSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionSelectCols+` FROM bot_sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.BotSession
	for rows.Next() {
		b, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sessions rows: %w", err)
	}
	return out, nil
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
