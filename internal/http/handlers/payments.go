package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/middleware"
	"github.com/homegoods/storefront/internal/orders"
	"github.com/homegoods/storefront/internal/payments"
	"github.com/homegoods/storefront/internal/repo"
	"github.com/rs/zerolog/hlog"
)

// CallbackTokenHeader carries the shared secret on gateway callbacks
const CallbackTokenHeader = "X-Callback-Token"

// PaymentHandler serves STK push initiation, gateway callbacks and status polling
type PaymentHandler struct {
	payments       *payments.Service
	customers      repo.CustomerRepo
	callbackSecret string
	pushLimiter    *middleware.RateLimiter
}

// NewPaymentHandler creates a new payment handler. An empty callbackSecret rejects every callback.
// STK pushes are limited to 5 per account per minute.
func NewPaymentHandler(svc *payments.Service, customers repo.CustomerRepo, callbackSecret string) *PaymentHandler {
	return &PaymentHandler{
		payments:       svc,
		customers:      customers,
		callbackSecret: callbackSecret,
		pushLimiter:    middleware.NewRateLimiter(time.Minute, 5),
	}
}

// PushRateLimit is the middleware guarding HandleSTKPush
func (h *PaymentHandler) PushRateLimit() func(http.Handler) http.Handler {
	return middleware.RateLimitMiddleware(h.pushLimiter, middleware.GetAccountKey)
}

// Close stops the limiter's cleanup goroutine
func (h *PaymentHandler) Close() {
	h.pushLimiter.Close()
}

type stkPushRequest struct {
	OrderID     uuid.UUID `json:"order_id"`
	PhoneNumber string    `json:"phone_number"`
	Amount      float64   `json:"amount"`
}

type stkPushResponse struct {
	OrderID           uuid.UUID `json:"order_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Status            string    `json:"status"`
}

// HandleSTKPush handles POST /payments/stk-push
func (h *PaymentHandler) HandleSTKPush(w http.ResponseWriter, r *http.Request) {
	customer, ok := requireCustomer(w, r, h.customers)
	if !ok {
		return
	}
	var req stkPushRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.payments.Initiate(r.Context(), customer, req.OrderID, req.PhoneNumber, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrPhoneRequired):
			respondWithError(w, http.StatusBadRequest, "phone_required")
		case errors.Is(err, payments.ErrInvalidPhone):
			respondWithError(w, http.StatusBadRequest, "invalid_phone")
		case errors.Is(err, payments.ErrAmountMismatch):
			respondWithError(w, http.StatusBadRequest, "amount_mismatch")
		case errors.Is(err, orders.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "order_not_found")
		case errors.Is(err, payments.ErrOrderAlreadyPaid):
			respondWithError(w, http.StatusConflict, "order_already_paid")
		case errors.Is(err, payments.ErrGatewayRejected):
			respondWithError(w, http.StatusBadGateway, "gateway_rejected")
		case errors.Is(err, payments.ErrGatewayUnavailable):
			respondWithError(w, http.StatusServiceUnavailable, "gateway_unavailable")
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("stk push failed")
			respondWithError(w, http.StatusInternalServerError, "failed to initiate payment")
		}
		return
	}
	respondJSON(w, http.StatusAccepted, stkPushResponse{
		OrderID:           p.OrderID,
		CheckoutRequestID: p.CheckoutRequestID,
		Status:            string(p.Status),
	})
}

// HandleCallback handles POST /payments/callback from the gateway
func (h *PaymentHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(CallbackTokenHeader)
	if h.callbackSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.callbackSecret)) != 1 {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var cb payments.Callback
	if err := decodeJSON(w, r, &cb); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.payments.HandleCallback(r.Context(), cb); err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidCallback):
			respondWithError(w, http.StatusBadRequest, "invalid_callback")
		case errors.Is(err, payments.ErrUnknownCheckout):
			respondWithError(w, http.StatusNotFound, "unknown_checkout_request")
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("payment callback failed")
			respondWithError(w, http.StatusInternalServerError, "failed to process callback")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "accepted"})
}

// HandleStatus handles GET /orders/{id}/payment-status
func (h *PaymentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	customer, ok := requireCustomer(w, r, h.customers)
	if !ok {
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	view, err := h.payments.Status(r.Context(), customer, id)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "order_not_found")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("payment status failed")
		respondWithError(w, http.StatusInternalServerError, "failed to load payment status")
		return
	}
	respondJSON(w, http.StatusOK, view)
}
