package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
)

const ticketColumns = `id, order_id, kind, reason, items_json, created_at, resolved_at, resolved_by, note`

type ReconciliationQueue struct{ db *sql.DB }

func NewReconciliationQueue(db *sql.DB) *ReconciliationQueue { return &ReconciliationQueue{db: db} }

func scanTicket(row scanner) (*saga.Ticket, error) {
	var (
		t        saga.Ticket
		kind     string
		items    []byte
		resolved sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.OrderID, &kind, &t.Reason, &items, &t.CreatedAt, &resolved, &t.ResolvedBy, &t.Note); err != nil {
		return nil, err
	}
	t.Kind = saga.TicketKind(kind)
	t.CreatedAt = t.CreatedAt.UTC()
	t.ResolvedAt = timePtr(resolved)
	if err := json.Unmarshal(items, &t.Items); err != nil {
		return nil, fmt.Errorf("mysql: decode ticket items of %s: %w", t.ID, err)
	}
	return &t, nil
}

func (q *ReconciliationQueue) Enqueue(ctx context.Context, t *saga.Ticket) error {
	if t == nil || t.ID == "" {
		return errors.New("reconciliation queue: id is required")
	}
	items := t.Items
	if items == nil {
		items = []saga.TicketItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("mysql: encode ticket items: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
INSERT INTO reconciliation_tickets (`+ticketColumns+`)
VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrderID, string(t.Kind), t.Reason, b, t.CreatedAt.UTC(), nullTime(t.ResolvedAt), t.ResolvedBy, t.Note)
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("reconciliation queue: ticket %s: %w", t.ID, apperr.ErrConflict)
		}
		return fmt.Errorf("mysql: enqueue ticket: %w", err)
	}
	return nil
}

func (q *ReconciliationQueue) ListOpen(ctx context.Context) ([]*saga.Ticket, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT `+ticketColumns+`
FROM reconciliation_tickets WHERE resolved_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("mysql: list tickets: %w", err)
	}
	defer rows.Close()

	out := make([]*saga.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql: list tickets: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: list tickets: %w", err)
	}
	return out, nil
}

// Resolve closes an open ticket once; a second resolve is a conflict.
func (q *ReconciliationQueue) Resolve(ctx context.Context, id, resolvedBy, note string, at time.Time) (*saga.Ticket, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE reconciliation_tickets
SET resolved_at = ?, resolved_by = ?, note = ?
WHERE id = ? AND resolved_at IS NULL`, at.UTC(), resolvedBy, note, id)
	if err != nil {
		return nil, fmt.Errorf("mysql: resolve ticket: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("mysql: resolve ticket: %w", err)
	}

	t, err := scanTicket(q.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM reconciliation_tickets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: resolve ticket: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("reconciliation queue: ticket %s already resolved: %w", id, apperr.ErrConflict)
	}
	return t, nil
}
