package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/homegoods/storefront/internal/auth"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/repo"
)

type contextKey string

const (
	accountKey   contextKey = "account"
	expiresAtKey contextKey = "expires_at"
	tokenKey     contextKey = "access_token"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("missing token")
	}
	return token, nil
}

// AuthMiddleware validates JWT access tokens, loads the account, and attaches it to the context
func AuthMiddleware(jwtService *auth.JWTService, accounts repo.AccountRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, status, msg := authenticate(r, jwtService, accounts)
			if status != 0 {
				respondWithError(w, status, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware attaches the account when a valid token is present and
// rejects requests carrying an invalid one. Anonymous requests pass through.
func OptionalAuthMiddleware(jwtService *auth.JWTService, accounts repo.AccountRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx, status, msg := authenticate(r, jwtService, accounts)
			if status != 0 {
				respondWithError(w, status, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, jwtService *auth.JWTService, accounts repo.AccountRepo) (context.Context, int, string) {
	tokenString, err := BearerToken(r)
	if err != nil {
		return nil, http.StatusUnauthorized, err.Error()
	}

	claims, err := jwtService.VerifyToken(tokenString)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid or expired token"
	}

	account, err := accounts.GetByID(r.Context(), claims.AccountID)
	if err != nil {
		return nil, http.StatusUnauthorized, "account not found"
	}

	ctx := context.WithValue(r.Context(), accountKey, &account)
	ctx = context.WithValue(ctx, expiresAtKey, claims.ExpiresAt.Time)
	ctx = context.WithValue(ctx, tokenKey, tokenString)
	return ctx, 0, ""
}

// GetAccount returns the account attached to the request context (set by AuthMiddleware)
func GetAccount(ctx context.Context) (*model.Account, bool) {
	a, ok := ctx.Value(accountKey).(*model.Account)
	return a, ok
}

// GetTokenExpiry returns the expiry of the access token that authenticated the request
func GetTokenExpiry(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(expiresAtKey).(time.Time)
	return t, ok
}

// WithAccount attaches an account to ctx, as AuthMiddleware does
func WithAccount(ctx context.Context, account *model.Account, expiresAt time.Time) context.Context {
	ctx = context.WithValue(ctx, accountKey, account)
	return context.WithValue(ctx, expiresAtKey, expiresAt)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
