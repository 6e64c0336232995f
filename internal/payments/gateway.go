package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// PushRequest asks the gateway to prompt the customer's handset for payment
type PushRequest struct {
	OrderID     uuid.UUID
	PhoneNumber string
	Amount      float64
	Reference   string
	Description string
	CallbackURL string
}

// PushAck is the gateway's acknowledgement of an accepted push
type PushAck struct {
	CheckoutRequestID string
	MerchantRequestID string
	CustomerMessage   string
}

// Gateway sends STK push requests. Outcomes arrive later through the callback endpoint.
type Gateway interface {
	RequestPush(ctx context.Context, req PushRequest) (PushAck, error)
}

// HTTPGateway talks JSON to a payment gateway service
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	backoff func() retry.Backoff
}

// NewHTTPGateway creates a gateway client. Transport failures and 5xx responses are retried
// up to three times with exponential backoff.
func NewHTTPGateway(baseURL, apiKey string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))
		},
	}
}

type pushBody struct {
	OrderID          string  `json:"order_id"`
	PhoneNumber      string  `json:"phone_number"`
	Amount           float64 `json:"amount"`
	AccountReference string  `json:"account_reference"`
	Description      string  `json:"description"`
	CallbackURL      string  `json:"callback_url"`
}

type pushResponse struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	CustomerMessage   string `json:"customer_message"`
	Error             string `json:"error"`
}

// RequestPush implements Gateway
func (g *HTTPGateway) RequestPush(ctx context.Context, req PushRequest) (PushAck, error) {
	body, err := json.Marshal(pushBody{
		OrderID:          req.OrderID.String(),
		PhoneNumber:      req.PhoneNumber,
		Amount:           req.Amount,
		AccountReference: req.Reference,
		Description:      req.Description,
		CallbackURL:      req.CallbackURL,
	})
	if err != nil {
		return PushAck{}, fmt.Errorf("encode push request: %w", err)
	}
	// One key per logical push so gateway-side retries collapse into a single prompt
	idempotencyKey := uuid.NewString()

	var ack PushAck
	err = retry.Do(ctx, g.backoff(), func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/stk-push", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)

		resp, err := g.client.Do(httpReq)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrGatewayUnavailable, err))
		}
		defer resp.Body.Close()

		var parsed pushResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &parsed)

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode))
		case resp.StatusCode >= 300:
			msg := parsed.Error
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return fmt.Errorf("%w: %s", ErrGatewayRejected, msg)
		case parsed.CheckoutRequestID == "":
			return fmt.Errorf("%w: missing checkout_request_id", ErrGatewayRejected)
		}
		ack = PushAck{
			CheckoutRequestID: parsed.CheckoutRequestID,
			MerchantRequestID: parsed.MerchantRequestID,
			CustomerMessage:   parsed.CustomerMessage,
		}
		return nil
	})
	if err != nil {
		return PushAck{}, err
	}
	return ack, nil
}
