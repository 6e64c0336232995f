package auth

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/repo"
)

type memAccounts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: map[uuid.UUID]model.Account{}}
}

func (m *memAccounts) Create(_ context.Context, email, passwordHash string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == email {
			return model.Account{}, fmt.Errorf("account %s: %w", email, repo.ErrDuplicate)
		}
	}
	a := model.Account{ID: uuid.New(), Email: email, PasswordHash: passwordHash, Provider: "email", CreatedAt: time.Now()}
	m.byID[a.ID] = a
	return a, nil
}

func (m *memAccounts) GetByID(_ context.Context, id uuid.UUID) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return model.Account{}, repo.ErrNotFound
	}
	return a, nil
}

func (m *memAccounts) GetByEmail(_ context.Context, email string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == email {
			return a, nil
		}
	}
	return model.Account{}, repo.ErrNotFound
}

func (m *memAccounts) MarkEmailConfirmed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return repo.ErrNotFound
	}
	now := time.Now()
	a.EmailConfirmedAt = &now
	m.byID[id] = a
	return nil
}

type memConfirmations struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.EmailConfirmation
	// concurrentAttempts are counted alongside each recorded attempt
	concurrentAttempts int
	consumeErr         error
}

func newMemConfirmations() *memConfirmations {
	return &memConfirmations{rows: map[uuid.UUID]*model.EmailConfirmation{}}
}

func (m *memConfirmations) CreateOrReplace(_ context.Context, accountID uuid.UUID, email, tokenHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, c := range m.rows {
		if c.Email == email && c.ConsumedAt == nil {
			c.ConsumedAt = &now
		}
	}
	hash, err := hex.DecodeString(tokenHashHex)
	if err != nil {
		return uuid.Nil, err
	}
	c := &model.EmailConfirmation{ID: uuid.New(), AccountID: accountID, Email: email, TokenHash: hash, ExpiresAt: expiresAt, CreatedAt: now}
	m.rows[c.ID] = c
	return c.ID, nil
}

func (m *memConfirmations) GetActiveByEmail(_ context.Context, email string) (model.EmailConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.Email == email && c.ConsumedAt == nil && c.ExpiresAt.After(time.Now()) && c.AttemptCount < maxConfirmAttempts {
			return *c, nil
		}
	}
	return model.EmailConfirmation{}, repo.ErrNotFound
}

func (m *memConfirmations) MarkConsumed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return m.consumeErr
	}
	c, ok := m.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	now := time.Now()
	c.ConsumedAt = &now
	return nil
}

func (m *memConfirmations) IncrementAttempt(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return 0, repo.ErrNotFound
	}
	c.AttemptCount += 1 + m.concurrentAttempts
	return c.AttemptCount, nil
}

// resetAttemptGap lets tests retry immediately
func (m *memConfirmations) resetAttemptGap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		c.LastAttemptAt = nil
	}
}

type memRefresh struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.RefreshSession
}

func newMemRefresh() *memRefresh {
	return &memRefresh{rows: map[uuid.UUID]*model.RefreshSession{}}
}

func (m *memRefresh) Create(_ context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &model.RefreshSession{ID: uuid.New(), AccountID: accountID, TokenHash: tokenHash, CreatedAt: time.Now(), ExpiresAt: expiresAt}
	m.rows[s.ID] = s
	return s.ID, nil
}

func (m *memRefresh) FindByTokenHash(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.TokenHash == tokenHash && s.RevokedAt == nil && s.ExpiresAt.After(time.Now()) {
			return *s, nil
		}
	}
	return model.RefreshSession{}, repo.ErrNotFound
}

func (m *memRefresh) FindByTokenHashIncludeRevoked(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.TokenHash == tokenHash {
			return *s, nil
		}
	}
	return model.RefreshSession{}, repo.ErrNotFound
}

func (m *memRefresh) RevokeAndSetReplacedBy(_ context.Context, sessionID, replacedBy uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.RevokedAt != nil {
		return repo.ErrNotFound
	}
	now := time.Now()
	s.RevokedAt = &now
	s.ReplacedBy = &replacedBy
	return nil
}

func (m *memRefresh) Revoke(_ context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.RevokedAt != nil {
		return repo.ErrNotFound
	}
	now := time.Now()
	s.RevokedAt = &now
	return nil
}

func (m *memRefresh) RevokeAllForAccount(_ context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, s := range m.rows {
		if s.AccountID == accountID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

func (m *memRefresh) active(accountID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.rows {
		if s.AccountID == accountID && s.RevokedAt == nil {
			n++
		}
	}
	return n
}

type recordingMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *recordingMailer) SendConfirmation(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[email] = code
	return nil
}

func (m *recordingMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}
