package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/model"
)

// OrderRepo defines the interface for order operations
type OrderRepo interface {
	Create(ctx context.Context, customerID uuid.UUID, items []model.OrderItem, total float64) (model.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]model.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

// NewOrderRepo creates a new OrderRepo instance
func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, customer_id, items, total, status, payment_status, mpesa_receipt, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var o model.Order
	var items []byte
	var paymentStatus string
	err := row.Scan(&o.ID, &o.CustomerID, &items, &o.Total, &o.Status, &paymentStatus, &o.MpesaReceipt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, fmt.Errorf("order: %w", ErrNotFound)
		}
		return model.Order{}, fmt.Errorf("query order: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return model.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	return o, nil
}

// Create inserts a pending order
func (r *orderRepo) Create(ctx context.Context, customerID uuid.UUID, items []model.OrderItem, total float64) (model.Order, error) {
	encoded, err := json.Marshal(items)
	if err != nil {
		return model.Order{}, fmt.Errorf("encode order items: %w", err)
	}
	return scanOrder(r.db.QueryRowContext(ctx, `
		INSERT INTO orders (customer_id, items, total)
		VALUES ($1, $2, $3)
		RETURNING `+orderColumns, customerID, encoded, total))
}

// GetByID retrieves an order by ID
func (r *orderRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// ListByCustomer returns the customer's orders, newest first
func (r *orderRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
