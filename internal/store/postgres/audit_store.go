package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// AuditStore is the append-only audit log. Entries whose detail carries a
// session_id are indexed by it.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail for %s: %w", event, err)
	}
	var sessionID *string
	if id, ok := detail["session_id"].(string); ok && id != "" {
		sessionID = &id
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, session_id, detail) VALUES ($1, $2, $3)`,
		event, sessionID, raw)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries across sessions, newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, newListQuery(`SELECT id, event, detail, created_at FROM audit_log WHERE TRUE`), opts)
}

// ListBySession returns one session's entries, newest first.
func (s *AuditStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, newListQuery(`SELECT id, event, detail, created_at FROM audit_log WHERE session_id = $1`, sessionID), opts)
}

func (s *AuditStore) list(ctx context.Context, q *listQuery, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	q.window("created_at", opts)
	q.page("created_at DESC", opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit log: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var e domain.AuditEntry
		var raw []byte
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if raw != nil {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("audit entry %d detail: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit log: %w", err)
	}
	return entries, nil
}
