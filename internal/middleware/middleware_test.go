package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/auth"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-at-least-32-characters-long"

type singleAccount struct {
	account model.Account
}

func (s singleAccount) Create(context.Context, string, string) (model.Account, error) {
	return model.Account{}, repo.ErrDuplicate
}

func (s singleAccount) GetByID(_ context.Context, id uuid.UUID) (model.Account, error) {
	if id == s.account.ID {
		return s.account, nil
	}
	return model.Account{}, repo.ErrNotFound
}

func (s singleAccount) GetByEmail(_ context.Context, email string) (model.Account, error) {
	if email == s.account.Email {
		return s.account, nil
	}
	return model.Account{}, repo.ErrNotFound
}

func (s singleAccount) MarkEmailConfirmed(context.Context, uuid.UUID) error { return nil }

func TestRateLimiter_allowWithinWindow(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 2)
	defer rl.Close()

	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"), "third request in window must be refused")
	assert.True(t, rl.Allow("other"), "keys are limited independently")
}

func TestRateLimiter_windowSlides(t *testing.T) {
	rl := NewRateLimiter(50*time.Millisecond, 1)
	defer rl.Close()

	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
	time.Sleep(80 * time.Millisecond)
	assert.True(t, rl.Allow("k"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	defer rl.Close()

	h := RateLimitMiddleware(rl, GetIPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/sign_in", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	account := model.Account{ID: uuid.New(), Email: "jane@example.com"}
	jwtService := auth.NewJWTService(testSecret, time.Hour)
	token, expiresAt, err := jwtService.SignAccessToken(account.ID, account.Email)
	require.NoError(t, err)

	var seen *model.Account
	var seenExpiry time.Time
	h := AuthMiddleware(jwtService, singleAccount{account})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetAccount(r.Context())
		seenExpiry, _ = GetTokenExpiry(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"bad scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	require.NotNil(t, seen)
	assert.Equal(t, account.ID, seen.ID)
	assert.Equal(t, expiresAt.Unix(), seenExpiry.Unix())
}

func TestOptionalAuthMiddleware(t *testing.T) {
	jwtService := auth.NewJWTService(testSecret, time.Hour)
	called := false
	h := OptionalAuthMiddleware(jwtService, singleAccount{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := GetAccount(r.Context())
		assert.False(t, ok)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/customers", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)

	req := httptest.NewRequest(http.MethodPost, "/customers", nil)
	req.Header.Set("Authorization", "Bearer broken")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetAccountKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:4000"
	assert.Equal(t, "ip:192.168.1.9", GetAccountKey(req))

	account := &model.Account{ID: uuid.New()}
	req = req.WithContext(WithAccount(req.Context(), account, time.Now()))
	assert.Equal(t, "account:"+account.ID.String(), GetAccountKey(req))
}
