package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/model"
)

type fakeProvider struct {
	mu sync.Mutex

	live       *ProviderSession
	sessionErr error

	refreshed   ProviderSession
	refreshErr  error
	refreshHits int

	signIn    ProviderSession
	signInErr error

	signUpErr error

	signOutHits int
}

func (p *fakeProvider) Session(context.Context) (ProviderSession, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return ProviderSession{}, false, p.sessionErr
	}
	if p.live == nil {
		return ProviderSession{}, false, nil
	}
	return *p.live, true, nil
}

func (p *fakeProvider) Refresh(context.Context) (ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshHits++
	if p.refreshErr != nil {
		return ProviderSession{}, p.refreshErr
	}
	ps := p.refreshed
	p.live = &ps
	return ps, nil
}

func (p *fakeProvider) SignIn(_ context.Context, email, _ string) (ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signInErr != nil {
		return ProviderSession{}, p.signInErr
	}
	ps := p.signIn
	ps.User.Email = email
	p.live = &ps
	return ps, nil
}

func (p *fakeProvider) SignUp(_ context.Context, email, _ string) (model.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signUpErr != nil {
		return model.Account{}, p.signUpErr
	}
	return model.Account{ID: uuid.New(), Email: email, Provider: "email"}, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutHits++
	p.live = nil
	return nil
}

func (p *fakeProvider) expire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = nil
}

func (p *fakeProvider) counts() (refresh, signOut int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshHits, p.signOutHits
}

type fakeProfiles struct {
	mu        sync.Mutex
	byEmail   map[string]model.Customer
	findErr   error
	createErr error
	created   []NewProfile
}

func newFakeProfiles(customers ...model.Customer) *fakeProfiles {
	p := &fakeProfiles{byEmail: map[string]model.Customer{}}
	for _, c := range customers {
		p.byEmail[c.Email] = c
	}
	return p
}

func (p *fakeProfiles) FindByEmail(_ context.Context, email string) (model.Customer, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findErr != nil {
		return model.Customer{}, false, p.findErr
	}
	c, ok := p.byEmail[email]
	return c, ok, nil
}

func (p *fakeProfiles) Create(_ context.Context, np NewProfile) (model.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, np)
	if p.createErr != nil {
		return model.Customer{}, p.createErr
	}
	c := model.Customer{ID: uuid.New(), Email: np.Email, FullName: np.FullName, Phone: np.Phone, Role: np.Role, IsActive: true}
	p.byEmail[c.Email] = c
	return c, nil
}

func (p *fakeProfiles) createdProfiles() []NewProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]NewProfile(nil), p.created...)
}

type memCache struct {
	mu   sync.Mutex
	data []byte
}

func (c *memCache) Load() ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), c.data...), true, nil
}

func (c *memCache) Save(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append([]byte(nil), data...)
	return nil
}

func (c *memCache) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	return nil
}

func (c *memCache) empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data == nil
}

func (c *memCache) entry() (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var e cacheEntry
	if c.data == nil || json.Unmarshal(c.data, &e) != nil {
		return cacheEntry{}, false
	}
	return e, true
}

func confirmedAccount(email string) model.Account {
	at := time.Now().Add(-time.Hour)
	return model.Account{ID: uuid.New(), Email: email, Provider: "email", EmailConfirmedAt: &at}
}

func activeCustomer(email string) model.Customer {
	return model.Customer{ID: uuid.New(), Email: email, FullName: "Wanjiru Kamau", Role: model.RoleUser, IsActive: true}
}

func writeCache(t interface{ Fatalf(string, ...any) }, c *memCache, user model.Account, customer model.Customer, expiresAt time.Time) {
	raw, err := json.Marshal(cacheEntry{User: user, Customer: customer, ExpiresAt: expiresAt.UnixMilli()})
	if err != nil {
		t.Fatalf("encode cache: %v", err)
	}
	_ = c.Save(raw)
}
