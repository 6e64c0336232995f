package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/db"
	"github.com/homegoods/storefront/internal/model"
)

// PaymentRepo defines the interface for payment record operations.
// Payment writes also maintain the owning order's payment_status.
type PaymentRepo interface {
	CreateProcessing(ctx context.Context, p model.Payment) (model.Payment, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (model.Payment, error)
	LatestForOrder(ctx context.Context, orderID uuid.UUID) (model.Payment, error)
	// Resolve moves a processing payment to a terminal status. updated is false when the
	// payment had already been resolved.
	Resolve(ctx context.Context, checkoutRequestID string, status model.PaymentStatus, resultDesc, receipt *string) (p model.Payment, updated bool, err error)
}

type paymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo creates a new PaymentRepo instance
func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, order_id, phone_number, amount, checkout_request_id, COALESCE(merchant_request_id, ''),
	status, result_desc, receipt, created_at, updated_at`

func scanPayment(row rowScanner) (model.Payment, error) {
	var p model.Payment
	var status string
	err := row.Scan(&p.ID, &p.OrderID, &p.PhoneNumber, &p.Amount, &p.CheckoutRequestID, &p.MerchantRequestID,
		&status, &p.ResultDesc, &p.Receipt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Payment{}, fmt.Errorf("payment: %w", ErrNotFound)
		}
		return model.Payment{}, fmt.Errorf("query payment: %w", err)
	}
	p.Status = model.PaymentStatus(status)
	return p, nil
}

// CreateProcessing records an acknowledged STK push and marks the order as processing
func (r *paymentRepo) CreateProcessing(ctx context.Context, p model.Payment) (model.Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Payment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var merchantID *string
	if p.MerchantRequestID != "" {
		merchantID = &p.MerchantRequestID
	}
	created, err := scanPayment(tx.QueryRowContext(ctx, `
		INSERT INTO payments (order_id, phone_number, amount, checkout_request_id, merchant_request_id, status)
		VALUES ($1, $2, $3, $4, $5, 'processing')
		RETURNING `+paymentColumns,
		p.OrderID, p.PhoneNumber, p.Amount, p.CheckoutRequestID, merchantID))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return model.Payment{}, fmt.Errorf("payment %s: %w", p.CheckoutRequestID, ErrDuplicate)
		}
		return model.Payment{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET payment_status = 'processing', updated_at = now()
		WHERE id = $1 AND payment_status <> 'completed'
	`, p.OrderID)
	if err != nil {
		return model.Payment{}, fmt.Errorf("update order payment status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Payment{}, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// GetByCheckoutRequestID retrieves a payment by the gateway's checkout request id
func (r *paymentRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (model.Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE checkout_request_id = $1`, checkoutRequestID))
}

// LatestForOrder returns the most recent payment attempt for the order
func (r *paymentRepo) LatestForOrder(ctx context.Context, orderID uuid.UUID) (model.Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID))
}

// Resolve applies a gateway outcome to the payment and its order in one transaction
func (r *paymentRepo) Resolve(ctx context.Context, checkoutRequestID string, status model.PaymentStatus, resultDesc, receipt *string) (model.Payment, bool, error) {
	if !status.Terminal() {
		return model.Payment{}, false, fmt.Errorf("resolve payment: status %q is not terminal", status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Payment{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPayment(tx.QueryRowContext(ctx, `
		UPDATE payments
		SET status = $2, result_desc = $3, receipt = $4, updated_at = now()
		WHERE checkout_request_id = $1 AND status = 'processing'
		RETURNING `+paymentColumns, checkoutRequestID, string(status), resultDesc, receipt))
	if errors.Is(err, ErrNotFound) {
		// Either unknown or already resolved; report which.
		existing, getErr := r.GetByCheckoutRequestID(ctx, checkoutRequestID)
		if getErr != nil {
			return model.Payment{}, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return model.Payment{}, false, err
	}

	if status == model.PaymentCompleted {
		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET payment_status = 'completed', status = 'paid', mpesa_receipt = $2, updated_at = now()
			WHERE id = $1
		`, p.OrderID, receipt)
	} else {
		// Only the latest attempt speaks for the order. A later attempt may already
		// have succeeded or still be processing.
		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET payment_status = 'failed', updated_at = now()
			WHERE id = $1 AND payment_status <> 'completed'
			AND NOT EXISTS (
				SELECT 1 FROM payments p2
				WHERE p2.order_id = $1 AND p2.created_at > $2
			)
		`, p.OrderID, p.CreatedAt)
	}
	if err != nil {
		return model.Payment{}, false, fmt.Errorf("update order payment status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Payment{}, false, fmt.Errorf("commit: %w", err)
	}
	return p, true, nil
}
