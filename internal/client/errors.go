package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/homegoods/storefront/internal/checkout"
	"github.com/homegoods/storefront/internal/session"
)

var (
	ErrUnauthorized = errors.New("not signed in")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("too many requests")
)

// APIError is a non-2xx response from the storefront API
type APIError struct {
	Status int
	Code   string
	err    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Code)
}

// Unwrap exposes the sentinel matching Code, if any
func (e *APIError) Unwrap() error {
	return e.err
}

var codeErrors = map[string]error{
	"invalid_credentials":          session.ErrInvalidCredentials,
	"email_not_confirmed":          session.ErrEmailNotConfirmed,
	"email_taken":                  session.ErrEmailTaken,
	"account_disabled":             session.ErrAccountDisabled,
	"profile_required":             session.ErrProfileUnavailable,
	"invalid_refresh_token":        ErrUnauthorized,
	"refresh_token_reuse_detected": ErrUnauthorized,
	"authentication_required":      ErrUnauthorized,
	"phone_required":               checkout.ErrPhoneRequired,
	"invalid_phone":                checkout.ErrInvalidPhone,
	"amount_mismatch":              checkout.ErrAmountMismatch,
	"order_already_paid":           checkout.ErrAlreadyPaid,
	"customer_not_found":           ErrNotFound,
	"order_not_found":              ErrNotFound,
	"account_not_found":            ErrNotFound,
}

func newAPIError(status int, code string) *APIError {
	e := &APIError{Status: status, Code: code, err: codeErrors[code]}
	if e.err == nil {
		switch status {
		case http.StatusUnauthorized:
			e.err = ErrUnauthorized
		case http.StatusNotFound:
			e.err = ErrNotFound
		case http.StatusTooManyRequests:
			e.err = ErrRateLimited
		}
	}
	return e
}
