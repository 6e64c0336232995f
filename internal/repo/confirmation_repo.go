package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/model"
)

// ConfirmationRepo defines the interface for email confirmation token operations
type ConfirmationRepo interface {
	CreateOrReplace(ctx context.Context, accountID uuid.UUID, email, tokenHashHex string, expiresAt time.Time) (uuid.UUID, error)
	GetActiveByEmail(ctx context.Context, email string) (model.EmailConfirmation, error)
	MarkConsumed(ctx context.Context, id uuid.UUID) error
	IncrementAttempt(ctx context.Context, id uuid.UUID) (newAttemptCount int, err error)
}

type confirmationRepo struct {
	db *sql.DB
}

// NewConfirmationRepo creates a new ConfirmationRepo instance
func NewConfirmationRepo(db *sql.DB) ConfirmationRepo {
	return &confirmationRepo{db: db}
}

// CreateOrReplace ensures only one active confirmation per email: it consumes any pending
// token and inserts the new one under a per-email advisory lock.
func (r *confirmationRepo) CreateOrReplace(ctx context.Context, accountID uuid.UUID, email, tokenHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Released on COMMIT/ROLLBACK.
	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, email); err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE email_confirmations
		SET consumed_at = now()
		WHERE email = $1 AND consumed_at IS NULL
	`, email)
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume pending confirmations: %w", err)
	}

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO email_confirmations (account_id, email, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, accountID, email, tokenHashHex, expiresAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert confirmation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// GetActiveByEmail returns the pending (unconsumed, unexpired, attempt_count < 5) confirmation for the email
func (r *confirmationRepo) GetActiveByEmail(ctx context.Context, email string) (model.EmailConfirmation, error) {
	var c model.EmailConfirmation
	var hashHex string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, email, token_hash, expires_at, consumed_at, created_at,
		       attempt_count, last_attempt_at
		FROM email_confirmations
		WHERE email = $1
		  AND consumed_at IS NULL
		  AND expires_at > now()
		  AND attempt_count < 5
		ORDER BY created_at DESC
		LIMIT 1
	`, email).Scan(
		&c.ID,
		&c.AccountID,
		&c.Email,
		&hashHex,
		&c.ExpiresAt,
		&c.ConsumedAt,
		&c.CreatedAt,
		&c.AttemptCount,
		&c.LastAttemptAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EmailConfirmation{}, fmt.Errorf("confirmation: %w", ErrNotFound)
		}
		return model.EmailConfirmation{}, fmt.Errorf("query confirmation: %w", err)
	}

	c.TokenHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return model.EmailConfirmation{}, fmt.Errorf("decode token_hash: %w", err)
	}
	return c, nil
}

// MarkConsumed sets consumed_at = now() for the confirmation
func (r *confirmationRepo) MarkConsumed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE email_confirmations SET consumed_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("confirmation: %w", ErrNotFound)
	}
	return nil
}

// IncrementAttempt bumps attempt_count and last_attempt_at; returns the new attempt_count
func (r *confirmationRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE email_confirmations
		SET attempt_count = attempt_count + 1, last_attempt_at = now()
		WHERE id = $1
		RETURNING attempt_count
	`, id).Scan(&newCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("confirmation: %w", ErrNotFound)
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}
