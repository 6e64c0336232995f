// Package client talks to the storefront API on behalf of the session manager, the
// checkout flow and the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/checkout"
	"github.com/homegoods/storefront/internal/devicestore"
	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/session"
	"github.com/rs/zerolog"
)

// Client is an API client. Provider tokens are read from and written to its TokenStore.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
	log     zerolog.Logger
}

// New creates a client for the API at baseURL
func New(baseURL string, tokens TokenStore, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if tokens == nil {
		tokens = &MemoryTokenStore{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		log:     logging.Component(logger, "client"),
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// do sends a JSON request. With auth set the stored access token is attached and
// ErrUnauthorized is returned when there is none.
func (c *Client) do(ctx context.Context, method, path string, auth bool, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		tokens, ok, err := c.tokens.Load()
		if err != nil {
			return fmt.Errorf("load tokens: %w", err)
		}
		if !ok {
			return ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb)
		c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Str("code", eb.Error).Msg("api error")
		return newAPIError(resp.StatusCode, eb.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresAt    int64         `json:"expires_at"`
	User         model.Account `json:"user"`
}

type sessionResponse struct {
	User      model.Account `json:"user"`
	ExpiresAt int64         `json:"expires_at"`
}

func (c *Client) storeTokens(tr tokenResponse) (session.ProviderSession, error) {
	expiresAt := time.Unix(tr.ExpiresAt, 0)
	err := c.tokens.Save(devicestore.Tokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return session.ProviderSession{}, fmt.Errorf("save tokens: %w", err)
	}
	return session.ProviderSession{User: tr.User, ExpiresAt: expiresAt}, nil
}

// SignUp implements session.IdentityProvider
func (c *Client) SignUp(ctx context.Context, email, password string) (model.Account, error) {
	var resp struct {
		User model.Account `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/sign_up", false, credentials{email, password}, &resp); err != nil {
		return model.Account{}, err
	}
	return resp.User, nil
}

// ConfirmEmail submits the code mailed at sign-up
func (c *Client) ConfirmEmail(ctx context.Context, email, code string) error {
	body := map[string]string{"email": email, "code": code}
	return c.do(ctx, http.MethodPost, "/auth/confirm", false, body, nil)
}

// ResendConfirmation asks for a fresh confirmation code
func (c *Client) ResendConfirmation(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/resend", false, map[string]string{"email": email}, nil)
}

// SignIn implements session.IdentityProvider
func (c *Client) SignIn(ctx context.Context, email, password string) (session.ProviderSession, error) {
	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/sign_in", false, credentials{email, password}, &tr); err != nil {
		return session.ProviderSession{}, err
	}
	return c.storeTokens(tr)
}

// Refresh implements session.IdentityProvider. Rejected refresh tokens are forgotten.
func (c *Client) Refresh(ctx context.Context) (session.ProviderSession, error) {
	tokens, ok, err := c.tokens.Load()
	if err != nil {
		return session.ProviderSession{}, fmt.Errorf("load tokens: %w", err)
	}
	if !ok || tokens.RefreshToken == "" {
		return session.ProviderSession{}, session.ErrNoSession
	}

	var tr tokenResponse
	err = c.do(ctx, http.MethodPost, "/auth/refresh", false, map[string]string{"refresh_token": tokens.RefreshToken}, &tr)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.clearTokens()
		}
		return session.ProviderSession{}, err
	}
	return c.storeTokens(tr)
}

// Session implements session.IdentityProvider. A missing or rejected access token is
// reported as no session.
func (c *Client) Session(ctx context.Context) (session.ProviderSession, bool, error) {
	if _, ok, err := c.tokens.Load(); err != nil || !ok {
		return session.ProviderSession{}, false, err
	}

	var resp sessionResponse
	err := c.do(ctx, http.MethodGet, "/auth/session", true, nil, &resp)
	if errors.Is(err, ErrUnauthorized) {
		return session.ProviderSession{}, false, nil
	}
	if err != nil {
		return session.ProviderSession{}, false, err
	}
	return session.ProviderSession{User: resp.User, ExpiresAt: time.Unix(resp.ExpiresAt, 0)}, true, nil
}

// SignOut implements session.IdentityProvider. Local tokens are cleared even if the
// server cannot be reached.
func (c *Client) SignOut(ctx context.Context) error {
	tokens, ok, err := c.tokens.Load()
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	if !ok {
		return nil
	}
	defer c.clearTokens()
	if tokens.RefreshToken == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/auth/sign_out", false, map[string]string{"refresh_token": tokens.RefreshToken}, nil)
}

func (c *Client) clearTokens() {
	if err := c.tokens.Clear(); err != nil {
		c.log.Error().Err(err).Msg("clear tokens")
	}
}

// Profiles returns the client as a session.ProfileStore
func (c *Client) Profiles() Profiles {
	return Profiles{c}
}

// Profiles reads and creates customer profiles
type Profiles struct {
	c *Client
}

// FindByEmail implements session.ProfileStore
func (p Profiles) FindByEmail(ctx context.Context, email string) (model.Customer, bool, error) {
	var customer model.Customer
	err := p.c.do(ctx, http.MethodGet, "/customers/lookup?email="+url.QueryEscape(email), true, nil, &customer)
	if errors.Is(err, ErrNotFound) {
		return model.Customer{}, false, nil
	}
	if err != nil {
		return model.Customer{}, false, err
	}
	return customer, true, nil
}

type newProfileRequest struct {
	Email    string     `json:"email"`
	FullName string     `json:"full_name"`
	Phone    string     `json:"phone,omitempty"`
	Role     model.Role `json:"role,omitempty"`
}

// Create implements session.ProfileStore. It authenticates when tokens are present;
// right after sign-up there are none and the server allows the anonymous create.
func (p Profiles) Create(ctx context.Context, np session.NewProfile) (model.Customer, error) {
	_, authed, err := p.c.tokens.Load()
	if err != nil {
		return model.Customer{}, fmt.Errorf("load tokens: %w", err)
	}
	req := newProfileRequest{Email: np.Email, FullName: np.FullName, Phone: np.Phone, Role: np.Role}
	var customer model.Customer
	err = p.c.do(ctx, http.MethodPost, "/customers", authed, req, &customer)
	if authed && errors.Is(err, ErrUnauthorized) {
		// stale tokens from an earlier session
		err = p.c.do(ctx, http.MethodPost, "/customers", false, req, &customer)
	}
	if err != nil {
		return model.Customer{}, err
	}
	return customer, nil
}

// CreateOrder places an order for the signed-in customer
func (c *Client) CreateOrder(ctx context.Context, items []model.OrderItem) (model.Order, error) {
	var order model.Order
	err := c.do(ctx, http.MethodPost, "/orders", true, map[string]any{"items": items}, &order)
	return order, err
}

// ListOrders returns the signed-in customer's orders
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	var resp struct {
		Orders []model.Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders", true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// GetOrder reads one order
func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (model.Order, error) {
	var order model.Order
	err := c.do(ctx, http.MethodGet, "/orders/"+id.String(), true, nil, &order)
	return order, err
}

type pushRequest struct {
	OrderID     uuid.UUID `json:"order_id"`
	PhoneNumber string    `json:"phone_number"`
	Amount      float64   `json:"amount"`
}

// InitiatePush implements checkout.Gateway
func (c *Client) InitiatePush(ctx context.Context, req checkout.PushRequest) error {
	body := pushRequest{OrderID: req.OrderID, PhoneNumber: req.PhoneNumber, Amount: req.Amount}
	return c.do(ctx, http.MethodPost, "/payments/stk-push", true, body, nil)
}

type statusResponse struct {
	Status     model.PaymentStatus `json:"status"`
	Receipt    *string             `json:"mpesa_receipt"`
	ResultDesc *string             `json:"result_desc"`
}

// PaymentStatus implements checkout.Gateway
func (c *Client) PaymentStatus(ctx context.Context, orderID uuid.UUID) (checkout.StatusReport, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID.String()+"/payment-status", true, nil, &resp); err != nil {
		return checkout.StatusReport{}, err
	}
	report := checkout.StatusReport{Status: resp.Status}
	if resp.Receipt != nil {
		report.Receipt = *resp.Receipt
	}
	if resp.ResultDesc != nil {
		report.ResultDesc = *resp.ResultDesc
	}
	return report, nil
}

var (
	_ session.IdentityProvider = (*Client)(nil)
	_ session.ProfileStore     = Profiles{}
	_ checkout.Gateway         = (*Client)(nil)
)
