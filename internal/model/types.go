package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the application-level role carried by a customer profile
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role may act on other customers' records
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// PaymentStatus is the client-observed status of a payment attempt
type PaymentStatus string

const (
	PaymentIdle       PaymentStatus = "idle"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

// Terminal reports whether no further transition is expected for the status
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// Account is an identity known to the auth provider
type Account struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	Provider         string     `json:"provider"`
	CreatedAt        time.Time  `json:"created_at"`
}

// EmailConfirmed reports whether the account's email address has been confirmed
func (a Account) EmailConfirmed() bool {
	return a.EmailConfirmedAt != nil
}

// Customer is the application-level profile of an account, keyed by normalized email
type Customer struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailConfirmation is a pending email confirmation token (only its hash is stored)
type EmailConfirmation struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Email         string
	TokenHash     []byte
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
	CreatedAt     time.Time
	AttemptCount  int
	LastAttemptAt *time.Time
}

// RefreshSession represents a refresh token session
type RefreshSession struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
}

// OrderItem is a single line of an order
type OrderItem struct {
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// Order is a customer order awaiting or having received payment
type Order struct {
	ID            uuid.UUID     `json:"id"`
	CustomerID    uuid.UUID     `json:"customer_id"`
	Items         []OrderItem   `json:"items"`
	Total         float64       `json:"total"`
	Status        string        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	MpesaReceipt  *string       `json:"mpesa_receipt,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Payment mirrors a gateway transaction for an order
type Payment struct {
	ID                uuid.UUID     `json:"id"`
	OrderID           uuid.UUID     `json:"order_id"`
	PhoneNumber       string        `json:"phone_number"`
	Amount            float64       `json:"amount"`
	CheckoutRequestID string        `json:"checkout_request_id"`
	MerchantRequestID string        `json:"merchant_request_id,omitempty"`
	Status            PaymentStatus `json:"status"`
	ResultDesc        *string       `json:"result_desc,omitempty"`
	Receipt           *string       `json:"receipt,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// NormalizeEmail lowercases and trims an email address; profiles are keyed by this form
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
