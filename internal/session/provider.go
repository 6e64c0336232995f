package session

import (
	"context"
	"time"

	"github.com/homegoods/storefront/internal/model"
)

// ProviderSession is a live session as reported by the identity provider
type ProviderSession struct {
	User      model.Account
	ExpiresAt time.Time
}

// IdentityProvider is the remote auth service
type IdentityProvider interface {
	// Session reports the live session; ok is false when there is none
	Session(ctx context.Context) (s ProviderSession, ok bool, err error)
	// Refresh silently renews the session from stored credentials
	Refresh(ctx context.Context) (ProviderSession, error)
	SignIn(ctx context.Context, email, password string) (ProviderSession, error)
	SignUp(ctx context.Context, email, password string) (model.Account, error)
	// SignOut invalidates the provider session. It succeeds when there is none.
	SignOut(ctx context.Context) error
}

// NewProfile describes a profile to create
type NewProfile struct {
	Email    string
	FullName string
	Phone    string
	Role     model.Role
}

// ProfileStore reads and creates customer profiles keyed by normalized email
type ProfileStore interface {
	// FindByEmail returns ok=false when no profile exists
	FindByEmail(ctx context.Context, email string) (c model.Customer, ok bool, err error)
	Create(ctx context.Context, p NewProfile) (model.Customer, error)
}

// Cache is the persisted session snapshot on the device
type Cache interface {
	Load() (data []byte, ok bool, err error)
	Save(data []byte) error
	Delete() error
}
