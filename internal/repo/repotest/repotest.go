// Package repotest provides in-memory implementations of the repo interfaces for tests
// that exercise handlers or clients without a database.
package repotest

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/repo"
)

const maxConfirmAttempts = 5

// Store holds every table behind a single lock so payment writes can update orders atomically
type Store struct {
	mu            sync.Mutex
	accounts      map[uuid.UUID]model.Account
	confirmations map[uuid.UUID]*model.EmailConfirmation
	refresh       map[uuid.UUID]*model.RefreshSession
	customers     map[uuid.UUID]model.Customer
	orders        map[uuid.UUID]model.Order
	payments      []model.Payment
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		accounts:      make(map[uuid.UUID]model.Account),
		confirmations: make(map[uuid.UUID]*model.EmailConfirmation),
		refresh:       make(map[uuid.UUID]*model.RefreshSession),
		customers:     make(map[uuid.UUID]model.Customer),
		orders:        make(map[uuid.UUID]model.Order),
	}
}

func (s *Store) Accounts() repo.AccountRepo           { return accounts{s} }
func (s *Store) Confirmations() repo.ConfirmationRepo { return confirmations{s} }
func (s *Store) Refresh() repo.RefreshRepo            { return refresh{s} }
func (s *Store) Customers() repo.CustomerRepo         { return customers{s} }
func (s *Store) Orders() repo.OrderRepo               { return orders{s} }
func (s *Store) Payments() repo.PaymentRepo           { return payments{s} }

// ResetAttemptGaps clears last-attempt timestamps so confirmations can be retried immediately
func (s *Store) ResetAttemptGaps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.confirmations {
		c.LastAttemptAt = nil
	}
}

// BackdateAccount moves an account's creation time into the past
func (s *Store) BackdateAccount(email string, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.accounts {
		if a.Email == model.NormalizeEmail(email) {
			a.CreatedAt = a.CreatedAt.Add(-by)
			s.accounts[id] = a
		}
	}
}

// SetCustomerActive toggles a profile's active flag
func (s *Store) SetCustomerActive(email string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.customers {
		if c.Email == model.NormalizeEmail(email) {
			c.IsActive = active
			s.customers[id] = c
		}
	}
}

// ActiveRefreshSessions counts unrevoked refresh sessions of an account
func (s *Store) ActiveRefreshSessions(accountID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.refresh {
		if r.AccountID == accountID && r.RevokedAt == nil {
			n++
		}
	}
	return n
}

type accounts struct{ *Store }

func (s accounts) Create(_ context.Context, email, passwordHash string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return model.Account{}, fmt.Errorf("account %s: %w", email, repo.ErrDuplicate)
		}
	}
	a := model.Account{ID: uuid.New(), Email: email, PasswordHash: passwordHash, Provider: "email", CreatedAt: time.Now()}
	s.accounts[a.ID] = a
	return a, nil
}

func (s accounts) GetByID(_ context.Context, id uuid.UUID) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, fmt.Errorf("account: %w", repo.ErrNotFound)
	}
	return a, nil
}

func (s accounts) GetByEmail(_ context.Context, email string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return model.Account{}, fmt.Errorf("account: %w", repo.ErrNotFound)
}

func (s accounts) MarkEmailConfirmed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account: %w", repo.ErrNotFound)
	}
	now := time.Now()
	a.EmailConfirmedAt = &now
	s.accounts[id] = a
	return nil
}

type confirmations struct{ *Store }

func (s confirmations) CreateOrReplace(_ context.Context, accountID uuid.UUID, email, tokenHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	hash, err := hex.DecodeString(tokenHashHex)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode token hash: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, c := range s.confirmations {
		if c.Email == email && c.ConsumedAt == nil {
			c.ConsumedAt = &now
		}
	}
	c := &model.EmailConfirmation{ID: uuid.New(), AccountID: accountID, Email: email, TokenHash: hash,
		ExpiresAt: expiresAt, CreatedAt: now}
	s.confirmations[c.ID] = c
	return c.ID, nil
}

func (s confirmations) GetActiveByEmail(_ context.Context, email string) (model.EmailConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.confirmations {
		if c.Email == email && c.ConsumedAt == nil && c.ExpiresAt.After(time.Now()) && c.AttemptCount < maxConfirmAttempts {
			return *c, nil
		}
	}
	return model.EmailConfirmation{}, fmt.Errorf("confirmation: %w", repo.ErrNotFound)
}

func (s confirmations) MarkConsumed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confirmations[id]
	if !ok || c.ConsumedAt != nil {
		return fmt.Errorf("confirmation: %w", repo.ErrNotFound)
	}
	now := time.Now()
	c.ConsumedAt = &now
	return nil
}

func (s confirmations) IncrementAttempt(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confirmations[id]
	if !ok {
		return 0, fmt.Errorf("confirmation: %w", repo.ErrNotFound)
	}
	now := time.Now()
	c.AttemptCount++
	c.LastAttemptAt = &now
	return c.AttemptCount, nil
}

type refresh struct{ *Store }

func (s refresh) Create(_ context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &model.RefreshSession{ID: uuid.New(), AccountID: accountID, TokenHash: tokenHash, CreatedAt: time.Now(), ExpiresAt: expiresAt}
	s.refresh[r.ID] = r
	return r.ID, nil
}

func (s refresh) find(tokenHash string, includeRevoked bool) (model.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.refresh {
		if r.TokenHash != tokenHash {
			continue
		}
		if !includeRevoked && (r.RevokedAt != nil || !r.ExpiresAt.After(time.Now())) {
			continue
		}
		return *r, nil
	}
	return model.RefreshSession{}, fmt.Errorf("refresh session: %w", repo.ErrNotFound)
}

func (s refresh) FindByTokenHash(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	return s.find(tokenHash, false)
}

func (s refresh) FindByTokenHashIncludeRevoked(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	return s.find(tokenHash, true)
}

func (s refresh) revoke(id uuid.UUID, replacedBy *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refresh[id]
	if !ok || r.RevokedAt != nil {
		return fmt.Errorf("refresh session: %w", repo.ErrNotFound)
	}
	now := time.Now()
	r.RevokedAt = &now
	r.ReplacedBy = replacedBy
	return nil
}

func (s refresh) RevokeAndSetReplacedBy(_ context.Context, sessionID, replacedBy uuid.UUID) error {
	return s.revoke(sessionID, &replacedBy)
}

func (s refresh) Revoke(_ context.Context, sessionID uuid.UUID) error {
	return s.revoke(sessionID, nil)
}

func (s refresh) RevokeAllForAccount(_ context.Context, accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, r := range s.refresh {
		if r.AccountID == accountID && r.RevokedAt == nil {
			r.RevokedAt = &now
		}
	}
	return nil
}

type customers struct{ *Store }

func (s customers) Create(_ context.Context, c model.Customer) (model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Email = model.NormalizeEmail(c.Email)
	for _, existing := range s.customers {
		if existing.Email == c.Email {
			return model.Customer{}, fmt.Errorf("customer %s: %w", c.Email, repo.ErrDuplicate)
		}
	}
	if c.Role == "" {
		c.Role = model.RoleUser
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	s.customers[c.ID] = c
	return c, nil
}

func (s customers) GetByID(_ context.Context, id uuid.UUID) (model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return model.Customer{}, fmt.Errorf("customer: %w", repo.ErrNotFound)
	}
	return c, nil
}

func (s customers) GetByEmail(_ context.Context, email string) (model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = model.NormalizeEmail(email)
	for _, c := range s.customers {
		if c.Email == email {
			return c, nil
		}
	}
	return model.Customer{}, fmt.Errorf("customer: %w", repo.ErrNotFound)
}

type orders struct{ *Store }

func (s orders) Create(_ context.Context, customerID uuid.UUID, items []model.OrderItem, total float64) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	o := model.Order{ID: uuid.New(), CustomerID: customerID, Items: items, Total: total, Status: "pending",
		PaymentStatus: model.PaymentIdle, CreatedAt: now, UpdatedAt: now}
	s.orders[o.ID] = o
	return o, nil
}

func (s orders) GetByID(_ context.Context, id uuid.UUID) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("order: %w", repo.ErrNotFound)
	}
	return o, nil
}

func (s orders) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Order{}
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type payments struct{ *Store }

func (s payments) CreateProcessing(_ context.Context, p model.Payment) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments {
		if existing.CheckoutRequestID == p.CheckoutRequestID {
			return model.Payment{}, fmt.Errorf("payment %s: %w", p.CheckoutRequestID, repo.ErrDuplicate)
		}
	}
	p.ID = uuid.New()
	p.Status = model.PaymentProcessing
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.payments = append(s.payments, p)
	if o, ok := s.orders[p.OrderID]; ok && o.PaymentStatus != model.PaymentCompleted {
		o.PaymentStatus = model.PaymentProcessing
		o.UpdatedAt = p.CreatedAt
		s.orders[p.OrderID] = o
	}
	return p, nil
}

func (s payments) GetByCheckoutRequestID(_ context.Context, id string) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.CheckoutRequestID == id {
			return p, nil
		}
	}
	return model.Payment{}, fmt.Errorf("payment: %w", repo.ErrNotFound)
}

func (s payments) LatestForOrder(_ context.Context, orderID uuid.UUID) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.payments) - 1; i >= 0; i-- {
		if s.payments[i].OrderID == orderID {
			return s.payments[i], nil
		}
	}
	return model.Payment{}, fmt.Errorf("payment: %w", repo.ErrNotFound)
}

func (s payments) Resolve(_ context.Context, id string, status model.PaymentStatus, desc, receipt *string) (model.Payment, bool, error) {
	if !status.Terminal() {
		return model.Payment{}, false, fmt.Errorf("resolve payment: status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.payments {
		if p.CheckoutRequestID != id {
			continue
		}
		if p.Status != model.PaymentProcessing {
			return p, false, nil
		}
		p.Status, p.ResultDesc, p.Receipt, p.UpdatedAt = status, desc, receipt, time.Now()
		s.payments[i] = p

		o := s.orders[p.OrderID]
		if status == model.PaymentCompleted {
			o.PaymentStatus, o.Status, o.MpesaReceipt = model.PaymentCompleted, "paid", receipt
		} else if o.PaymentStatus != model.PaymentCompleted && s.latestLocked(p.OrderID) == i {
			o.PaymentStatus = model.PaymentFailed
		}
		o.UpdatedAt = p.UpdatedAt
		s.orders[p.OrderID] = o
		return p, true, nil
	}
	return model.Payment{}, false, fmt.Errorf("payment: %w", repo.ErrNotFound)
}

// latestLocked returns the index of the order's most recent payment, or -1. s.mu must be held.
func (s payments) latestLocked(orderID uuid.UUID) int {
	for i := len(s.payments) - 1; i >= 0; i-- {
		if s.payments[i].OrderID == orderID {
			return i
		}
	}
	return -1
}
