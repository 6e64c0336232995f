// Package payments initiates M-Pesa STK pushes for orders and records gateway outcomes.
package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/metrics"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/orders"
	"github.com/homegoods/storefront/internal/repo"
	"github.com/rs/zerolog"
)

// Callback is a gateway outcome for a previously acknowledged push
type Callback struct {
	CheckoutRequestID string              `json:"checkout_request_id"`
	Status            model.PaymentStatus `json:"status"`
	ResultDesc        string              `json:"result_desc,omitempty"`
	Receipt           string              `json:"receipt,omitempty"`
}

// StatusView is what clients poll for
type StatusView struct {
	OrderID    uuid.UUID           `json:"order_id"`
	Status     model.PaymentStatus `json:"status"`
	Receipt    *string             `json:"mpesa_receipt,omitempty"`
	ResultDesc *string             `json:"result_desc,omitempty"`
}

// Service coordinates orders, payment records and the gateway
type Service struct {
	orders      *orders.Service
	payments    repo.PaymentRepo
	gateway     Gateway
	callbackURL string
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

// NewService creates a new payment service
func NewService(orderService *orders.Service, payments repo.PaymentRepo, gateway Gateway, callbackURL string, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		orders:      orderService,
		payments:    payments,
		gateway:     gateway,
		callbackURL: callbackURL,
		metrics:     m,
		log:         logging.Component(logger, "payments"),
	}
}

func amountsEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func reference(orderID uuid.UUID) string {
	return "HG-" + strings.ToUpper(orderID.String()[:8])
}

// Initiate validates the request against the order and asks the gateway to prompt the handset.
// The returned payment is in the processing state.
func (s *Service) Initiate(ctx context.Context, customer model.Customer, orderID uuid.UUID, phone string, amount float64) (p model.Payment, err error) {
	defer func() {
		s.metrics.PaymentsInitiated.WithLabelValues(metrics.Result(err)).Inc()
	}()

	order, err := s.orders.Get(ctx, customer, orderID)
	if err != nil {
		return model.Payment{}, err
	}
	if order.PaymentStatus == model.PaymentCompleted {
		return model.Payment{}, ErrOrderAlreadyPaid
	}
	msisdn, err := NormalizePhone(phone)
	if err != nil {
		return model.Payment{}, err
	}
	if !amountsEqual(amount, order.Total) {
		return model.Payment{}, ErrAmountMismatch
	}

	ack, err := s.gateway.RequestPush(ctx, PushRequest{
		OrderID:     order.ID,
		PhoneNumber: msisdn,
		Amount:      order.Total,
		Reference:   reference(order.ID),
		Description: "HomeGoods order payment",
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("stk push request failed")
		return model.Payment{}, fmt.Errorf("request push: %w", err)
	}

	p, err = s.payments.CreateProcessing(ctx, model.Payment{
		OrderID:           order.ID,
		PhoneNumber:       msisdn,
		Amount:            order.Total,
		CheckoutRequestID: ack.CheckoutRequestID,
		MerchantRequestID: ack.MerchantRequestID,
	})
	if err != nil {
		return model.Payment{}, fmt.Errorf("record payment: %w", err)
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("checkout_request_id", ack.CheckoutRequestID).
		Str("phone", logging.MaskPhone(msisdn)).
		Msg("stk push initiated")
	return p, nil
}

// HandleCallback applies a gateway outcome. Repeated deliveries for the same checkout
// request are accepted and ignored.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) error {
	if strings.TrimSpace(cb.CheckoutRequestID) == "" || !cb.Status.Terminal() {
		return ErrInvalidCallback
	}

	var desc, receipt *string
	if cb.ResultDesc != "" {
		desc = &cb.ResultDesc
	}
	if cb.Status == model.PaymentCompleted && cb.Receipt != "" {
		receipt = &cb.Receipt
	}

	p, updated, err := s.payments.Resolve(ctx, cb.CheckoutRequestID, cb.Status, desc, receipt)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.log.Warn().Str("checkout_request_id", cb.CheckoutRequestID).Msg("callback for unknown checkout request")
			return ErrUnknownCheckout
		}
		return fmt.Errorf("resolve payment: %w", err)
	}
	if !updated {
		s.log.Info().
			Str("checkout_request_id", cb.CheckoutRequestID).
			Str("status", string(p.Status)).
			Msg("duplicate callback ignored")
		return nil
	}

	s.metrics.PaymentCallbacks.WithLabelValues(string(cb.Status)).Inc()
	s.log.Info().
		Str("order_id", p.OrderID.String()).
		Str("checkout_request_id", cb.CheckoutRequestID).
		Str("status", string(cb.Status)).
		Msg("payment resolved")
	return nil
}

// Status reports the order's payment status. An order with no payment attempt is idle.
func (s *Service) Status(ctx context.Context, customer model.Customer, orderID uuid.UUID) (StatusView, error) {
	order, err := s.orders.Get(ctx, customer, orderID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{OrderID: order.ID, Status: order.PaymentStatus, Receipt: order.MpesaReceipt}
	if view.Status == "" {
		view.Status = model.PaymentIdle
	}

	latest, err := s.payments.LatestForOrder(ctx, order.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return StatusView{}, fmt.Errorf("latest payment: %w", err)
	default:
		view.ResultDesc = latest.ResultDesc
	}
	return view, nil
}
