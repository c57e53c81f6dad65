package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/metrics"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create journals an order placed during runID. Re-journaling the same order
// ID refreshes its status.
func (s *OrderStore) Create(ctx context.Context, runID string, o domain.Order) (err error) {
	defer func() { metrics.RecordDatabaseQuery("order_create", err) }()

	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = timeNow()
	}

	const query = `
		INSERT INTO orders (
			id, run_id, market_id, order_type, action,
			price, quantity, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		o.ID, runID, o.MarketID, string(o.Type), string(o.Action),
		o.Price, o.Quantity, string(o.Status), createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// MarkCancelled records that the bot dropped the order.
func (s *OrderStore) MarkCancelled(ctx context.Context, id string) (err error) {
	defer func() { metrics.RecordDatabaseQuery("order_cancel", err) }()

	const query = `
		UPDATE orders
		SET status = $1, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, string(domain.OrderStatusCancelled), id)
	if err != nil {
		return fmt.Errorf("postgres: cancel order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, run_id::text, market_id, order_type, action,
	price, quantity, status, created_at, cancelled_at`

func scanOrderRecord(scanner interface{ Scan(dest ...any) error }) (domain.OrderRecord, error) {
	var r domain.OrderRecord
	var orderType, action, status string

	err := scanner.Scan(
		&r.ID, &r.RunID, &r.MarketID, &orderType, &action,
		&r.Price, &r.Quantity, &status, &r.CreatedAt, &r.CancelledAt,
	)
	if err != nil {
		return domain.OrderRecord{}, err
	}

	r.Type = domain.OrderType(orderType)
	r.Action = domain.OrderAction(action)
	r.Status = domain.OrderStatus(status)
	return r, nil
}

// Get returns one journaled order.
func (s *OrderStore) Get(ctx context.Context, id string) (domain.OrderRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	r, err := scanOrderRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderRecord{}, domain.ErrNotFound
		}
		return domain.OrderRecord{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return r, nil
}

// ListByRun returns every order placed during runID, oldest first.
func (s *OrderStore) ListByRun(ctx context.Context, runID string) ([]domain.OrderRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE run_id = $1 ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		r, err := scanOrderRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
