package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository stores orders. Create writes an order and all of its items
// atomically.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, updatedAt time.Time) (*Order, error)
}

// SQLRepository is a database/sql Repository. Queries use $N placeholders,
// which both the pgx and sqlite drivers accept.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates a repository over an already migrated database.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Create inserts the order row and its items in one transaction.
func (r *SQLRepository) Create(ctx context.Context, o *Order) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, total_amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.UserID, o.TotalAmount, string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range o.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, product_id, quantity, price_per_item, position)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, o.ID, item.ProductID, item.Quantity, item.PricePerItem, i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item %s: %w", item.ProductID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

// Get loads one order with its items, or ErrNotFound.
func (r *SQLRepository) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns orders newest first.
func (r *SQLRepository) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	query := `SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders`
	args := []any{}
	if filter.UserID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *filter.UserID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Skip)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	out := make([]Order, len(orders))
	for i, o := range orders {
		out[i] = *o
	}
	return out, nil
}

// UpdateStatus sets status and updated_at and returns the updated order.
func (r *SQLRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, updatedAt time.Time) (*Order, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`, string(status), updatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// loadItems fills Items for each order with one query per order.
func (r *SQLRepository) loadItems(ctx context.Context, orders []*Order) error {
	for _, o := range orders {
		rows, err := r.db.QueryContext(ctx,
			`SELECT id, order_id, product_id, quantity, price_per_item
			 FROM order_items WHERE order_id = $1 ORDER BY position`, o.ID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}

		o.Items = []Item{}
		for rows.Next() {
			var item Item
			if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.PricePerItem); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan order item: %w", err)
			}
			o.Items = append(o.Items, item)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanOrder reads id, user_id, total_amount, status, created_at, updated_at.
func scanOrder(s scanner) (*Order, error) {
	var (
		o      Order
		status string
	)
	if err := s.Scan(&o.ID, &o.UserID, &o.TotalAmount, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}
