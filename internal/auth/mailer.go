package auth

import (
	"context"

	"github.com/homegoods/storefront/internal/logging"
	"github.com/rs/zerolog"
)

// Mailer delivers account emails
type Mailer interface {
	SendConfirmation(ctx context.Context, email, code string) error
}

// LogMailer is a Mailer for development that records deliveries in the log.
// The code itself is never logged.
type LogMailer struct {
	log zerolog.Logger
}

// NewLogMailer creates a LogMailer
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{log: logger}
}

// SendConfirmation logs the delivery
func (m *LogMailer) SendConfirmation(_ context.Context, email, _ string) error {
	m.log.Info().Str("email", logging.MaskEmail(email)).Msg("confirmation email queued")
	return nil
}
