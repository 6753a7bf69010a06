package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
)

// SagaLog appends to saga_steps; the auto-increment id keeps append order.
type SagaLog struct{ db *sql.DB }

func NewSagaLog(db *sql.DB) *SagaLog { return &SagaLog{db: db} }

func (l *SagaLog) Append(ctx context.Context, e saga.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO saga_steps (order_id, step, status, detail, at)
VALUES (?,?,?,?,?)`, e.OrderID, string(e.Step), string(e.Status), e.Detail, e.At.UTC())
	if err != nil {
		return fmt.Errorf("mysql: append saga step: %w", err)
	}
	return nil
}

func (l *SagaLog) Entries(ctx context.Context, orderID string) ([]saga.Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT order_id, step, status, detail, at
FROM saga_steps WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("mysql: saga entries: %w", err)
	}
	defer rows.Close()

	var out []saga.Entry
	for rows.Next() {
		var (
			e            saga.Entry
			step, status string
		)
		if err := rows.Scan(&e.OrderID, &step, &status, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("mysql: saga entries: %w", err)
		}
		e.Step, e.Status, e.At = saga.Step(step), saga.StepStatus(status), e.At.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: saga entries: %w", err)
	}
	return out, nil
}

func (l *SagaLog) Stalled(ctx context.Context, step saga.Step) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT s.order_id
FROM saga_steps s
JOIN (SELECT order_id, MAX(id) AS id FROM saga_steps WHERE step = ? GROUP BY order_id) last ON last.id = s.id
WHERE s.status = ?
ORDER BY s.order_id`, string(step), string(saga.StepStarted))
	if err != nil {
		return nil, fmt.Errorf("mysql: stalled sagas: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("mysql: stalled sagas: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
