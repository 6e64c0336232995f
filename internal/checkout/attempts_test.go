package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/metrics"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/orders"
	"github.com/homegoods/storefront/internal/payments"
	"github.com/homegoods/storefront/internal/repo/repotest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackGateway struct{}

func (ackGateway) RequestPush(context.Context, payments.PushRequest) (payments.PushAck, error) {
	return payments.PushAck{CheckoutRequestID: "ws_CO_" + uuid.NewString(), MerchantRequestID: "m-1"}, nil
}

// serviceGateway runs the dialog against the payments service with callbacks driven by the test
type serviceGateway struct {
	svc      *payments.Service
	customer model.Customer

	mu       sync.Mutex
	checkout []string
}

func (g *serviceGateway) InitiatePush(ctx context.Context, req PushRequest) error {
	p, err := g.svc.Initiate(ctx, g.customer, req.OrderID, req.PhoneNumber, req.Amount)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.checkout = append(g.checkout, p.CheckoutRequestID)
	g.mu.Unlock()
	return nil
}

func (g *serviceGateway) PaymentStatus(ctx context.Context, orderID uuid.UUID) (StatusReport, error) {
	view, err := g.svc.Status(ctx, g.customer, orderID)
	if err != nil {
		return StatusReport{}, err
	}
	report := StatusReport{Status: view.Status}
	if view.Receipt != nil {
		report.Receipt = *view.Receipt
	}
	if view.ResultDesc != nil {
		report.ResultDesc = *view.ResultDesc
	}
	return report, nil
}

func (g *serviceGateway) attempt(t *testing.T, n int) string {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.Greater(t, len(g.checkout), n)
	return g.checkout[n]
}

func TestLateFailureOfAbandonedAttemptKeepsPolling(t *testing.T) {
	store := repotest.NewStore()
	m := metrics.New(metrics.NewRegistry(false))
	orderSvc := orders.NewService(store.Orders())
	svc := payments.NewService(orderSvc, store.Payments(), ackGateway{}, "https://shop.example/payments/callback", m, zerolog.Nop())

	customer := model.Customer{ID: uuid.New(), Email: "wanjiru@example.com", Role: model.RoleUser, IsActive: true}
	order, err := orderSvc.Create(context.Background(), customer, []model.OrderItem{
		{ProductName: "Cotton towel set", Quantity: 2, UnitPrice: 1250},
	})
	require.NoError(t, err)

	gw := &serviceGateway{svc: svc, customer: customer}
	flow := NewFlow(gw, Options{PollInterval: 20 * time.Millisecond, Timeout: 2 * time.Second, ResultHold: 30 * time.Millisecond}, zerolog.Nop())
	d := flow.Open(order)
	t.Cleanup(d.Cancel)
	ctx := context.Background()

	require.NoError(t, d.Initiate(ctx, "0712345678", order.Total))
	d.Retry()
	require.NoError(t, d.Initiate(ctx, "0712345678", order.Total))
	assert.Equal(t, model.PaymentProcessing, d.Status())

	// the abandoned first push fails after the second one went out
	require.NoError(t, svc.HandleCallback(ctx, payments.Callback{
		CheckoutRequestID: gw.attempt(t, 0), Status: model.PaymentFailed, ResultDesc: "Request cancelled by user",
	}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, model.PaymentProcessing, d.Status(), "the second attempt is still pending")
	assert.Empty(t, d.View().Message)

	require.NoError(t, svc.HandleCallback(ctx, payments.Callback{
		CheckoutRequestID: gw.attempt(t, 1), Status: model.PaymentCompleted, Receipt: "QK7CCC0003",
	}))
	assert.Eventually(t, func() bool {
		return d.Status() == model.PaymentCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "QK7CCC0003", d.View().Receipt)
	waitClosed(t, d)
}
