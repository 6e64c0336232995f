package auth

import "errors"

var (
	ErrInvalidEmail              = errors.New("invalid email address")
	ErrWeakPassword              = errors.New("password must be at least 8 characters")
	ErrEmailTaken                = errors.New("email already registered")
	ErrInvalidCredentials        = errors.New("invalid email or password")
	ErrEmailNotConfirmed         = errors.New("email not confirmed")
	ErrInvalidConfirmation       = errors.New("invalid or expired confirmation token")
	ErrTooManyAttempts           = errors.New("too many attempts, try again later")
	ErrInvalidRefreshToken       = errors.New("invalid or expired refresh token")
	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
	ErrInvalidAccessToken        = errors.New("invalid or expired access token")
)
