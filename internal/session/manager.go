// Package session keeps the client's authenticated identity and its customer profile
// in sync with the identity provider, and tears the session down when it goes stale.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/metrics"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/notify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of the Manager
type State string

const (
	StateUninitialized State = "uninitialized"
	StateRestoring     State = "restoring"
	StateAuthenticated State = "authenticated"
	StateRefreshing    State = "refreshing"
	StateSignedOut     State = "signed_out"
)

// ActivityKind is a user interaction that resets the inactivity clock
type ActivityKind string

const (
	ActivityPointer  ActivityKind = "pointer"
	ActivityKeyboard ActivityKind = "keyboard"
	ActivityScroll   ActivityKind = "scroll"
	ActivityTouch    ActivityKind = "touch"
	ActivityClick    ActivityKind = "click"
)

func (k ActivityKind) valid() bool {
	switch k {
	case ActivityPointer, ActivityKeyboard, ActivityScroll, ActivityTouch, ActivityClick:
		return true
	}
	return false
}

// sign-out reasons, used as metric labels
const (
	reasonUser               = "user"
	reasonInactivity         = "inactivity"
	reasonSessionInvalid     = "session_invalid"
	reasonProfileUnavailable = "profile_unavailable"
	reasonEmailNotConfirmed  = "email_not_confirmed"
)

// Options tunes the Manager. Zero fields take the defaults.
type Options struct {
	CacheTTL                time.Duration
	RefreshLead             time.Duration
	MinRefreshDelay         time.Duration
	ValidityInterval        time.Duration
	InactivityTimeout       time.Duration
	InactivityCheckInterval time.Duration
	// SignOutTimeout bounds the provider call made during a forced sign-out
	SignOutTimeout time.Duration

	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.CacheTTL <= 0 {
		o.CacheTTL = 7 * 24 * time.Hour
	}
	if o.RefreshLead <= 0 {
		o.RefreshLead = 5 * time.Minute
	}
	if o.MinRefreshDelay <= 0 {
		o.MinRefreshDelay = time.Minute
	}
	if o.ValidityInterval <= 0 {
		o.ValidityInterval = 10 * time.Minute
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = 30 * time.Minute
	}
	if o.InactivityCheckInterval <= 0 {
		o.InactivityCheckInterval = time.Minute
	}
	if o.SignOutTimeout <= 0 {
		o.SignOutTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Snapshot is a consistent view of the Manager. User and Customer are both set or both nil.
type Snapshot struct {
	State          State
	User           *model.Account
	Customer       *model.Customer
	ExpiresAt      time.Time
	LastActivityAt time.Time
}

// Authenticated reports whether the snapshot carries an identity
func (s Snapshot) Authenticated() bool {
	return s.User != nil
}

// SignUpRequest carries the details collected by a registration form
type SignUpRequest struct {
	Email    string
	Password string
	FullName string
	Phone    string
	IsAdmin  bool
}

// Manager owns the client session. It is safe for concurrent use.
type Manager struct {
	provider IdentityProvider
	profiles ProfileStore
	cache    Cache
	opts     Options
	log      zerolog.Logger

	// ops serializes Bootstrap, SignIn, SignUp and SignOut
	ops sync.Mutex

	mu           sync.Mutex
	state        State
	user         *model.Account
	customer     *model.Customer
	expiresAt    time.Time
	lastActivity time.Time
	// gen changes whenever a session starts or ends; background work carries the
	// generation it was started for and does nothing once it is stale
	gen    uint64
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a Manager in the uninitialized state. Call Bootstrap to restore a session.
func NewManager(provider IdentityProvider, profiles ProfileStore, cache Cache, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		provider: provider,
		profiles: profiles,
		cache:    cache,
		opts:     opts.withDefaults(),
		log:      logging.Component(logger, "session"),
		state:    StateUninitialized,
	}
}

func (m *Manager) now() time.Time {
	return m.opts.Now()
}

// Snapshot returns the current state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		State:          m.state,
		ExpiresAt:      m.expiresAt,
		LastActivityAt: m.lastActivity,
	}
	if m.user != nil {
		user, customer := *m.user, *m.customer
		s.User, s.Customer = &user, &customer
	}
	return s
}

// State returns the lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Bootstrap restores a session. The live provider session is checked concurrently with
// the device cache; a live session wins, otherwise a fresh cache triggers a silent
// refresh. Any failure leaves the Manager signed out with the cache discarded. An
// established session is kept as is.
func (m *Manager) Bootstrap(ctx context.Context) State {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	if m.user != nil {
		state := m.state
		m.mu.Unlock()
		return state
	}
	m.state = StateRestoring
	m.mu.Unlock()

	var (
		cached *cacheEntry
		live   ProviderSession
		liveOK bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cached = m.loadCache()
		return nil
	})
	g.Go(func() error {
		var err error
		live, liveOK, err = m.provider.Session(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		m.log.Warn().Err(err).Msg("live session check failed")
		liveOK = false
	}

	var restored ProviderSession
	switch {
	case liveOK:
		restored = live
	case cached != nil:
		ps, err := m.provider.Refresh(ctx)
		if err != nil {
			m.log.Info().Err(err).Msg("silent refresh failed")
			m.discard(ctx)
			return StateSignedOut
		}
		restored = ps
	default:
		m.setState(StateSignedOut)
		return StateSignedOut
	}

	customer, err := m.resolveProfile(ctx, restored.User, false)
	if err != nil {
		m.log.Warn().Err(err).Str("email", restored.User.Email).Msg("profile lookup failed during restore")
		m.discard(ctx)
		m.countSignOut(reasonProfileUnavailable)
		notify.Send(m.opts.Notifier, notify.LevelWarning, "Signed out", "We could not load your account. Please sign in again.")
		return StateSignedOut
	}

	m.establish(restored, customer)
	m.log.Info().Str("email", restored.User.Email).Bool("from_cache", !liveOK).Msg("session restored")
	return StateAuthenticated
}

// SignIn authenticates with the provider, requires a confirmed email and resolves the
// customer profile, creating a default one when none exists.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return authErr("sign in", ErrInvalidInput)
	}

	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	if m.user != nil {
		m.mu.Unlock()
		return authErr("sign in", ErrAlreadySignedIn)
	}
	m.state = StateUninitialized
	m.mu.Unlock()

	ps, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		m.setState(StateSignedOut)
		m.notifyError("Sign in failed", err)
		return authErr("sign in", err)
	}

	if !ps.User.EmailConfirmed() {
		m.discard(ctx)
		m.countSignOut(reasonEmailNotConfirmed)
		m.notifyError("Sign in failed", ErrEmailNotConfirmed)
		return authErr("sign in", ErrEmailNotConfirmed)
	}

	customer, err := m.resolveProfile(ctx, ps.User, true)
	if err != nil {
		m.log.Warn().Err(err).Str("email", email).Msg("profile unavailable at sign in")
		m.discard(ctx)
		m.countSignOut(reasonProfileUnavailable)
		m.notifyError("Sign in failed", err)
		return authErr("sign in", err)
	}

	m.establish(ps, customer)
	m.log.Info().Str("email", email).Msg("signed in")
	notify.Send(m.opts.Notifier, notify.LevelSuccess, "Signed in", "Welcome back, "+displayName(customer)+".")
	return nil
}

// SignUp registers an account and then creates its profile. A profile failure is logged
// and not rolled back; SignIn creates the missing profile later.
func (m *Manager) SignUp(ctx context.Context, req SignUpRequest) (model.Account, error) {
	email := model.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return model.Account{}, authErr("sign up", ErrInvalidInput)
	}

	m.ops.Lock()
	defer m.ops.Unlock()

	account, err := m.provider.SignUp(ctx, email, req.Password)
	if err != nil {
		m.notifyError("Sign up failed", err)
		return model.Account{}, authErr("sign up", err)
	}

	role := model.RoleUser
	if req.IsAdmin {
		role = model.RoleAdmin
	}
	_, err = m.profiles.Create(ctx, NewProfile{
		Email:    email,
		FullName: strings.TrimSpace(req.FullName),
		Phone:    strings.TrimSpace(req.Phone),
		Role:     role,
	})
	if err != nil {
		m.log.Error().Err(err).Str("email", email).Msg("create profile after sign up")
	}

	msg := "Your account is ready. You can sign in now."
	if !account.EmailConfirmed() {
		msg = "Check your email for a confirmation code before signing in."
	}
	notify.Send(m.opts.Notifier, notify.LevelSuccess, "Account created", msg)
	return account, nil
}

// SignOut ends the session with the provider and clears local state. Calling it while
// signed out does nothing. Local state is cleared even when the provider call fails.
func (m *Manager) SignOut(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil
	}
	m.endLocked()
	m.mu.Unlock()
	m.wg.Wait()

	err := m.provider.SignOut(ctx)
	m.deleteCache()
	m.countSignOut(reasonUser)
	if err != nil {
		m.log.Warn().Err(err).Msg("provider sign out failed")
		return authErr("sign out", err)
	}
	notify.Send(m.opts.Notifier, notify.LevelInfo, "Signed out", "You have been signed out.")
	return nil
}

// RecordActivity resets the inactivity clock. It is ignored while signed out.
func (m *Manager) RecordActivity(kind ActivityKind) {
	if !kind.valid() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user != nil {
		m.lastActivity = m.now()
	}
}

// Close stops background maintenance without signing out; the cache stays on the device.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) resolveProfile(ctx context.Context, user model.Account, create bool) (model.Customer, error) {
	email := model.NormalizeEmail(user.Email)
	customer, ok, err := m.profiles.FindByEmail(ctx, email)
	if err != nil {
		return model.Customer{}, errors.Join(ErrProfileUnavailable, err)
	}
	if !ok {
		if !create {
			return model.Customer{}, ErrProfileUnavailable
		}
		customer, err = m.profiles.Create(ctx, NewProfile{Email: email, Role: model.RoleUser})
		if err != nil {
			return model.Customer{}, errors.Join(ErrProfileUnavailable, err)
		}
		m.log.Info().Str("email", email).Msg("created missing profile")
	}
	if !customer.IsActive {
		return model.Customer{}, ErrAccountDisabled
	}
	return customer, nil
}

// establish installs the identity, writes the cache and starts maintenance
func (m *Manager) establish(ps ProviderSession, customer model.Customer) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	gen := m.gen
	user := ps.User
	m.user, m.customer = &user, &customer
	m.expiresAt = ps.ExpiresAt
	m.lastActivity = m.now()
	m.state = StateAuthenticated
	if !m.closed {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(3)
		go m.refreshLoop(ctx, gen)
		go m.validityLoop(ctx, gen)
		go m.inactivityLoop(ctx, gen)
	}
	m.mu.Unlock()

	m.saveCache(user, customer)
}

// endLocked clears the identity and stops maintenance. m.mu must be held.
func (m *Manager) endLocked() {
	m.gen++
	m.user, m.customer = nil, nil
	m.expiresAt = time.Time{}
	m.state = StateSignedOut
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// discard drops whatever partial session exists with the provider and on the device
func (m *Manager) discard(ctx context.Context) {
	m.mu.Lock()
	m.endLocked()
	m.mu.Unlock()

	if err := m.provider.SignOut(ctx); err != nil {
		m.log.Warn().Err(err).Msg("provider sign out failed")
	}
	m.deleteCache()
}

// forceSignOut ends the session started as generation gen. It runs on maintenance
// goroutines, so it must not wait for them.
func (m *Manager) forceSignOut(gen uint64, reason, message string) {
	m.mu.Lock()
	if m.gen != gen || m.user == nil {
		m.mu.Unlock()
		return
	}
	email := m.user.Email
	m.endLocked()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.SignOutTimeout)
	defer cancel()
	if err := m.provider.SignOut(ctx); err != nil {
		m.log.Warn().Err(err).Msg("provider sign out failed")
	}
	m.deleteCache()

	m.log.Info().Str("email", email).Str("reason", reason).Msg("session ended")
	m.countSignOut(reason)
	notify.Send(m.opts.Notifier, notify.LevelWarning, "Signed out", message)
}

func (m *Manager) refreshLoop(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		expiresAt := m.expiresAt
		m.mu.Unlock()

		delay := expiresAt.Sub(m.now()) - m.opts.RefreshLead
		if delay < m.opts.MinRefreshDelay {
			delay = m.opts.MinRefreshDelay
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.state = StateRefreshing
		m.mu.Unlock()

		ps, err := m.provider.Refresh(ctx)

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.state = StateAuthenticated
		if err != nil {
			m.mu.Unlock()
			// the validity check signs out if the session really is gone
			m.log.Warn().Err(err).Msg("scheduled refresh failed")
			return
		}
		m.expiresAt = ps.ExpiresAt
		user, customer := *m.user, *m.customer
		m.mu.Unlock()

		m.saveCache(user, customer)
		m.log.Debug().Time("expires_at", ps.ExpiresAt).Msg("session refreshed")
	}
}

func (m *Manager) validityLoop(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.ValidityInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !m.current(gen) {
			return
		}

		ps, ok, err := m.provider.Session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil || !ok || !ps.ExpiresAt.After(m.now()) {
			if err != nil {
				m.log.Warn().Err(err).Msg("session validity check failed")
			}
			m.forceSignOut(gen, reasonSessionInvalid, "Your session has expired. Please sign in again.")
			return
		}
	}
}

func (m *Manager) inactivityLoop(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.InactivityCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		stale := m.gen != gen
		idle := m.now().Sub(m.lastActivity)
		m.mu.Unlock()
		if stale {
			return
		}
		if idle > m.opts.InactivityTimeout {
			m.forceSignOut(gen, reasonInactivity, "You were signed out after a period of inactivity.")
			return
		}
	}
}

// current reports whether gen is still the live session generation
func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) countSignOut(reason string) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.SessionSignOuts.WithLabelValues(reason).Inc()
	}
}

func (m *Manager) notifyError(title string, err error) {
	msg := "Something went wrong. Please try again."
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		msg = "Incorrect email or password."
	case errors.Is(err, ErrEmailNotConfirmed):
		msg = "Please confirm your email address before signing in."
	case errors.Is(err, ErrEmailTaken):
		msg = "An account with this email already exists."
	case errors.Is(err, ErrAccountDisabled):
		msg = "This account has been disabled."
	case errors.Is(err, ErrProfileUnavailable):
		msg = "We could not load your account. Please try again."
	}
	notify.Send(m.opts.Notifier, notify.LevelError, title, msg)
}

func displayName(c model.Customer) string {
	if name := strings.TrimSpace(c.FullName); name != "" {
		return name
	}
	return c.Email
}
