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

// AccountRepo defines the interface for identity account operations
type AccountRepo interface {
	Create(ctx context.Context, email, passwordHash string) (model.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Account, error)
	GetByEmail(ctx context.Context, email string) (model.Account, error)
	MarkEmailConfirmed(ctx context.Context, id uuid.UUID) error
}

type accountRepo struct {
	db *sql.DB
}

// NewAccountRepo creates a new AccountRepo instance
func NewAccountRepo(db *sql.DB) AccountRepo {
	return &accountRepo{db: db}
}

const accountColumns = `id, email, password_hash, provider, email_confirmed_at, created_at`

func scanAccount(row *sql.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Provider, &a.EmailConfirmedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, fmt.Errorf("account: %w", ErrNotFound)
		}
		return model.Account{}, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

// Create inserts a new account; the email must already be normalized
func (r *accountRepo) Create(ctx context.Context, email, passwordHash string) (model.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, password_hash)
		VALUES ($1, $2)
		RETURNING `+accountColumns, email, passwordHash)
	a, err := scanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return model.Account{}, fmt.Errorf("account %s: %w", email, ErrDuplicate)
		}
		return model.Account{}, err
	}
	return a, nil
}

// GetByID retrieves an account by ID
func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetByEmail retrieves an account by normalized email
func (r *accountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

// MarkEmailConfirmed sets email_confirmed_at if it is not already set
func (r *accountRepo) MarkEmailConfirmed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET email_confirmed_at = COALESCE(email_confirmed_at, now()) WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("account: %w", ErrNotFound)
	}
	return nil
}
