package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/repo"
	"github.com/rs/zerolog"
)

// Tokens is the credential pair handed to a client after sign-in or refresh
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ServiceOptions tunes the identity service
type ServiceOptions struct {
	ConfirmationSalt string
	RefreshTokenTTL  time.Duration
	// AutoConfirm marks new accounts as confirmed on sign-up (dev mode)
	AutoConfirm bool
}

// Service orchestrates identity operations
type Service struct {
	accounts      repo.AccountRepo
	confirmations repo.ConfirmationRepo
	refresh       repo.RefreshRepo
	jwtService    *JWTService
	mailer        Mailer
	opts          ServiceOptions
	log           zerolog.Logger
}

// NewService creates a new identity service
func NewService(
	accounts repo.AccountRepo,
	confirmations repo.ConfirmationRepo,
	refresh repo.RefreshRepo,
	jwtService *JWTService,
	mailer Mailer,
	opts ServiceOptions,
	logger zerolog.Logger,
) *Service {
	return &Service{
		accounts:      accounts,
		confirmations: confirmations,
		refresh:       refresh,
		jwtService:    jwtService,
		mailer:        mailer,
		opts:          opts,
		log:           logger,
	}
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\n")
}

// SignUp registers an account. Unless AutoConfirm is set, a confirmation code is mailed
// and the account cannot sign in until ConfirmEmail succeeds.
func (s *Service) SignUp(ctx context.Context, email, password string) (model.Account, error) {
	email = model.NormalizeEmail(email)
	if !validEmail(email) {
		return model.Account{}, ErrInvalidEmail
	}
	hash, err := HashPassword(password)
	if err != nil {
		return model.Account{}, err
	}

	account, err := s.accounts.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return model.Account{}, ErrEmailTaken
		}
		return model.Account{}, fmt.Errorf("create account: %w", err)
	}

	if s.opts.AutoConfirm {
		if err := s.accounts.MarkEmailConfirmed(ctx, account.ID); err != nil {
			return model.Account{}, fmt.Errorf("auto-confirm account: %w", err)
		}
		now := time.Now()
		account.EmailConfirmedAt = &now
		return account, nil
	}

	if err := s.sendConfirmation(ctx, account); err != nil {
		// The account exists; the user can request a new code.
		s.log.Error().Err(err).Str("email", logging.MaskEmail(email)).Msg("failed to send confirmation")
	}
	return account, nil
}

// ResendConfirmation issues a fresh confirmation code for an unconfirmed account
func (s *Service) ResendConfirmation(ctx context.Context, email string) error {
	account, err := s.accounts.GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Do not reveal whether the address is registered.
			return nil
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if account.EmailConfirmed() {
		return nil
	}
	return s.sendConfirmation(ctx, account)
}

func (s *Service) sendConfirmation(ctx context.Context, account model.Account) error {
	code, err := generateConfirmationCode()
	if err != nil {
		return err
	}
	hashHex := hashConfirmationHex(account.Email, code, s.opts.ConfirmationSalt)
	if _, err := s.confirmations.CreateOrReplace(ctx, account.ID, account.Email, hashHex, time.Now().Add(confirmationExpiry)); err != nil {
		return fmt.Errorf("store confirmation: %w", err)
	}
	if err := s.mailer.SendConfirmation(ctx, account.Email, code); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	return nil
}

// ConfirmEmail verifies the code against the pending confirmation: attempt limit 5,
// min 2s between attempts, hash comparison, then the account is marked confirmed.
func (s *Service) ConfirmEmail(ctx context.Context, email, code string) error {
	email = model.NormalizeEmail(email)
	pending, err := s.confirmations.GetActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidConfirmation
		}
		return fmt.Errorf("lookup confirmation: %w", err)
	}

	if pending.LastAttemptAt != nil && time.Since(*pending.LastAttemptAt) < minConfirmAttemptGap {
		return ErrTooManyAttempts
	}

	count, err := s.confirmations.IncrementAttempt(ctx, pending.ID)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if count > maxConfirmAttempts {
		if err := s.confirmations.MarkConsumed(ctx, pending.ID); err != nil {
			s.log.Error().Err(err).Str("confirmation_id", pending.ID.String()).Msg("failed to retire confirmation after too many attempts")
		}
		return ErrInvalidConfirmation
	}

	provided := hashConfirmationBytes(email, strings.TrimSpace(code), s.opts.ConfirmationSalt)
	if !constantTimeCompare(provided, pending.TokenHash) {
		return ErrInvalidConfirmation
	}

	if err := s.confirmations.MarkConsumed(ctx, pending.ID); err != nil {
		return fmt.Errorf("consume confirmation: %w", err)
	}
	if err := s.accounts.MarkEmailConfirmed(ctx, pending.AccountID); err != nil {
		return fmt.Errorf("confirm account: %w", err)
	}
	return nil
}

// SignIn verifies credentials and issues a token pair. Unconfirmed accounts are refused.
func (s *Service) SignIn(ctx context.Context, email, password string) (model.Account, Tokens, error) {
	account, err := s.accounts.GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, Tokens{}, ErrInvalidCredentials
		}
		return model.Account{}, Tokens{}, fmt.Errorf("lookup account: %w", err)
	}

	ok, err := CheckPassword(account.PasswordHash, password)
	if err != nil {
		return model.Account{}, Tokens{}, err
	}
	if !ok {
		return model.Account{}, Tokens{}, ErrInvalidCredentials
	}
	if !account.EmailConfirmed() {
		return model.Account{}, Tokens{}, ErrEmailNotConfirmed
	}

	tokens, _, err := s.issueTokens(ctx, account)
	if err != nil {
		return model.Account{}, Tokens{}, err
	}
	return account, tokens, nil
}

func (s *Service) issueTokens(ctx context.Context, account model.Account) (Tokens, uuid.UUID, error) {
	accessToken, expiresAt, err := s.jwtService.SignAccessToken(account.ID, account.Email)
	if err != nil {
		return Tokens{}, uuid.Nil, err
	}
	refreshToken, refreshHash, err := GenerateRefreshToken()
	if err != nil {
		return Tokens{}, uuid.Nil, fmt.Errorf("generate refresh token: %w", err)
	}
	sessionID, err := s.refresh.Create(ctx, account.ID, refreshHash, time.Now().Add(s.opts.RefreshTokenTTL))
	if err != nil {
		return Tokens{}, uuid.Nil, fmt.Errorf("store refresh session: %w", err)
	}
	return Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, sessionID, nil
}

// Refresh rotates a refresh token. Presenting an already rotated token revokes every
// session of the account.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (model.Account, Tokens, error) {
	hash := HashRefreshToken(refreshToken)
	current, err := s.refresh.FindByTokenHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, Tokens{}, fmt.Errorf("lookup refresh session: %w", err)
		}
		previous, prevErr := s.refresh.FindByTokenHashIncludeRevoked(ctx, hash)
		if prevErr == nil && previous.RevokedAt != nil {
			if err := s.refresh.RevokeAllForAccount(ctx, previous.AccountID); err != nil {
				s.log.Error().Err(err).Str("account_id", previous.AccountID.String()).Msg("failed to revoke sessions after reuse")
			}
			return model.Account{}, Tokens{}, ErrRefreshTokenReuseDetected
		}
		return model.Account{}, Tokens{}, ErrInvalidRefreshToken
	}

	account, err := s.accounts.GetByID(ctx, current.AccountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, Tokens{}, ErrInvalidRefreshToken
		}
		return model.Account{}, Tokens{}, fmt.Errorf("lookup account: %w", err)
	}

	tokens, nextID, err := s.issueTokens(ctx, account)
	if err != nil {
		return model.Account{}, Tokens{}, err
	}
	if err := s.refresh.RevokeAndSetReplacedBy(ctx, current.ID, nextID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Lost a race with a concurrent rotation of the same token.
			_ = s.refresh.Revoke(ctx, nextID)
			return model.Account{}, Tokens{}, ErrInvalidRefreshToken
		}
		return model.Account{}, Tokens{}, fmt.Errorf("rotate refresh session: %w", err)
	}
	return account, tokens, nil
}

// SignOut revokes the refresh session. Unknown or already revoked tokens are not an error.
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	session, err := s.refresh.FindByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup refresh session: %w", err)
	}
	if err := s.refresh.Revoke(ctx, session.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// Session validates an access token and returns its account and expiry
func (s *Service) Session(ctx context.Context, accessToken string) (model.Account, time.Time, error) {
	claims, err := s.jwtService.VerifyToken(accessToken)
	if err != nil {
		return model.Account{}, time.Time{}, ErrInvalidAccessToken
	}
	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, time.Time{}, ErrInvalidAccessToken
		}
		return model.Account{}, time.Time{}, fmt.Errorf("lookup account: %w", err)
	}
	return account, claims.ExpiresAt.Time, nil
}
