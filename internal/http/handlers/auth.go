package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/homegoods/storefront/internal/auth"
	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/metrics"
	"github.com/homegoods/storefront/internal/middleware"
	"github.com/homegoods/storefront/internal/model"
	"github.com/rs/zerolog/hlog"
)

// AuthHandler handles identity endpoints
type AuthHandler struct {
	svc            *auth.Service
	metrics        *metrics.Metrics
	signUpLimiter  *middleware.RateLimiter
	signInLimiter  *middleware.RateLimiter
	confirmLimiter *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler.
// IP limits: 5 sign-ups per hour, 10 sign-ins and 20 confirmations per 10 minutes.
func NewAuthHandler(svc *auth.Service, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{
		svc:            svc,
		metrics:        m,
		signUpLimiter:  middleware.NewRateLimiter(time.Hour, 5),
		signInLimiter:  middleware.NewRateLimiter(10*time.Minute, 10),
		confirmLimiter: middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

// Close stops the limiters' cleanup goroutines
func (h *AuthHandler) Close() {
	h.signUpLimiter.Close()
	h.signInLimiter.Close()
	h.confirmLimiter.Close()
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpResponse struct {
	User                 model.Account `json:"user"`
	ConfirmationRequired bool          `json:"confirmation_required"`
}

type confirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// tokenResponse is returned by sign-in and refresh. expires_at is unix seconds.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresAt    int64         `json:"expires_at"`
	User         model.Account `json:"user"`
}

type sessionResponse struct {
	User      model.Account `json:"user"`
	ExpiresAt int64         `json:"expires_at"`
}

func newTokenResponse(account model.Account, tokens auth.Tokens) tokenResponse {
	return tokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    "bearer",
		ExpiresAt:    tokens.ExpiresAt.Unix(),
		User:         account,
	}
}

func (h *AuthHandler) record(event string, err error) {
	h.metrics.AuthEvents.WithLabelValues(event, metrics.Result(err)).Inc()
}

// HandleSignUp handles POST /auth/sign_up
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if !h.signUpLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	account, err := h.svc.SignUp(r.Context(), req.Email, req.Password)
	h.record("sign_up", err)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmail):
			respondWithError(w, http.StatusBadRequest, "invalid_email")
		case errors.Is(err, auth.ErrWeakPassword):
			respondWithError(w, http.StatusBadRequest, "weak_password")
		case errors.Is(err, auth.ErrEmailTaken):
			respondWithError(w, http.StatusConflict, "email_taken")
		default:
			hlog.FromRequest(r).Error().Err(err).Str("email", logging.MaskEmail(req.Email)).Msg("sign up failed")
			respondWithError(w, http.StatusInternalServerError, "failed to sign up")
		}
		return
	}

	respondJSON(w, http.StatusCreated, signUpResponse{User: account, ConfirmationRequired: !account.EmailConfirmed()})
}

// HandleConfirm handles POST /auth/confirm
func (h *AuthHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" {
		respondWithError(w, http.StatusBadRequest, "email and code are required")
		return
	}
	if !h.confirmLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	err := h.svc.ConfirmEmail(r.Context(), req.Email, req.Code)
	h.record("confirm", err)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidConfirmation):
			respondWithError(w, http.StatusBadRequest, "invalid_confirmation")
		case errors.Is(err, auth.ErrTooManyAttempts):
			respondWithError(w, http.StatusTooManyRequests, "too_many_attempts")
		default:
			hlog.FromRequest(r).Error().Err(err).Str("email", logging.MaskEmail(req.Email)).Msg("confirm email failed")
			respondWithError(w, http.StatusInternalServerError, "failed to confirm email")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "email_confirmed"})
}

// HandleResend handles POST /auth/resend. The response does not reveal whether the email is registered.
func (h *AuthHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}
	if !h.signUpLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	if err := h.svc.ResendConfirmation(r.Context(), req.Email); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("email", logging.MaskEmail(req.Email)).Msg("resend confirmation failed")
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "confirmation_sent"})
}

// HandleSignIn handles POST /auth/sign_in
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if !h.signInLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	account, tokens, err := h.svc.SignIn(r.Context(), req.Email, req.Password)
	h.record("sign_in", err)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondWithError(w, http.StatusUnauthorized, "invalid_credentials")
		case errors.Is(err, auth.ErrEmailNotConfirmed):
			respondWithError(w, http.StatusForbidden, "email_not_confirmed")
		default:
			hlog.FromRequest(r).Error().Err(err).Str("email", logging.MaskEmail(req.Email)).Msg("sign in failed")
			respondWithError(w, http.StatusInternalServerError, "failed to sign in")
		}
		return
	}
	respondJSON(w, http.StatusOK, newTokenResponse(account, tokens))
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	account, tokens, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	h.record("refresh", err)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshTokenReuseDetected):
			hlog.FromRequest(r).Warn().Msg("refresh token reuse detected")
			respondWithError(w, http.StatusUnauthorized, "refresh_token_reuse_detected")
		case errors.Is(err, auth.ErrInvalidRefreshToken):
			respondWithError(w, http.StatusUnauthorized, "invalid_refresh_token")
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("refresh failed")
			respondWithError(w, http.StatusInternalServerError, "failed to refresh session")
		}
		return
	}
	respondJSON(w, http.StatusOK, newTokenResponse(account, tokens))
}

// HandleSignOut handles POST /auth/sign_out. Unknown or revoked tokens still succeed.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	err := h.svc.SignOut(r.Context(), req.RefreshToken)
	h.record("sign_out", err)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("sign out failed")
		respondWithError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "signed_out"})
}

// HandleSession handles GET /auth/session (protected)
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok || account == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	expiresAt, _ := middleware.GetTokenExpiry(r.Context())
	respondJSON(w, http.StatusOK, sessionResponse{User: *account, ExpiresAt: expiresAt.Unix()})
}
