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

// CustomerRepo defines the interface for customer profile operations
type CustomerRepo interface {
	Create(ctx context.Context, c model.Customer) (model.Customer, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Customer, error)
	GetByEmail(ctx context.Context, email string) (model.Customer, error)
}

type customerRepo struct {
	db *sql.DB
}

// NewCustomerRepo creates a new CustomerRepo instance
func NewCustomerRepo(db *sql.DB) CustomerRepo {
	return &customerRepo{db: db}
}

const customerColumns = `id, email, full_name, COALESCE(phone, ''), role, is_active, created_at`

func scanCustomer(row *sql.Row) (model.Customer, error) {
	var c model.Customer
	var role string
	err := row.Scan(&c.ID, &c.Email, &c.FullName, &c.Phone, &role, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Customer{}, fmt.Errorf("customer: %w", ErrNotFound)
		}
		return model.Customer{}, fmt.Errorf("query customer: %w", err)
	}
	c.Role = model.Role(role)
	return c, nil
}

// Create inserts a profile. Email is stored normalized; an empty role defaults to user.
func (r *customerRepo) Create(ctx context.Context, c model.Customer) (model.Customer, error) {
	if c.Role == "" {
		c.Role = model.RoleUser
	}
	var phone *string
	if c.Phone != "" {
		phone = &c.Phone
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO customers (email, full_name, phone, role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+customerColumns,
		model.NormalizeEmail(c.Email), c.FullName, phone, string(c.Role), c.IsActive)
	created, err := scanCustomer(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return model.Customer{}, fmt.Errorf("customer %s: %w", c.Email, ErrDuplicate)
		}
		return model.Customer{}, err
	}
	return created, nil
}

// GetByID retrieves a profile by ID
func (r *customerRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Customer, error) {
	return scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

// GetByEmail retrieves a profile by email, normalizing it first
func (r *customerRepo) GetByEmail(ctx context.Context, email string) (model.Customer, error) {
	return scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE email = $1`, model.NormalizeEmail(email)))
}
