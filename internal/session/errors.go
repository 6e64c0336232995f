package session

import "errors"

var (
	ErrInvalidInput       = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotConfirmed  = errors.New("email address has not been confirmed")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrProfileUnavailable = errors.New("customer profile could not be resolved")
	ErrAccountDisabled    = errors.New("customer account is disabled")
	ErrAlreadySignedIn    = errors.New("already signed in")
	ErrNoSession          = errors.New("no active session")
)

// AuthError is returned by the Manager's auth operations
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func authErr(op string, err error) error {
	return &AuthError{Op: op, Err: err}
}
