package payments

import "errors"

var (
	ErrPhoneRequired      = errors.New("phone number is required")
	ErrInvalidPhone       = errors.New("phone number must be a Kenyan mobile number")
	ErrAmountMismatch     = errors.New("amount does not match the order total")
	ErrOrderAlreadyPaid   = errors.New("order has already been paid")
	ErrUnknownCheckout    = errors.New("unknown checkout request")
	ErrInvalidCallback    = errors.New("invalid callback payload")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
