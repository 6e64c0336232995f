package payments

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/model"
	"github.com/rs/zerolog"
)

// CallbackFunc delivers a gateway result to the payment service
type CallbackFunc func(ctx context.Context, cb Callback) error

// SandboxGateway stands in for a real gateway in development. Every push is accepted and
// resolved through the callback path after a delay:
//   - numbers ending in 99 fail as if the customer cancelled the prompt
//   - numbers ending in 98 never resolve
//   - everything else completes with a generated receipt
type SandboxGateway struct {
	delay time.Duration
	log   zerolog.Logger

	mu       sync.Mutex
	callback CallbackFunc
	timers   map[string]*time.Timer
	closed   bool
}

// NewSandboxGateway creates a sandbox gateway. Bind must be called before the first push resolves.
func NewSandboxGateway(delay time.Duration, logger zerolog.Logger) *SandboxGateway {
	return &SandboxGateway{
		delay:  delay,
		log:    logging.Component(logger, "sandbox_gateway"),
		timers: make(map[string]*time.Timer),
	}
}

// Bind sets the function that receives simulated callbacks
func (g *SandboxGateway) Bind(fn CallbackFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callback = fn
}

// RequestPush implements Gateway
func (g *SandboxGateway) RequestPush(_ context.Context, req PushRequest) (PushAck, error) {
	ack := PushAck{
		CheckoutRequestID: "ws_CO_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		MerchantRequestID: uuid.NewString(),
		CustomerMessage:   "Success. Request accepted for processing",
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return PushAck{}, ErrGatewayUnavailable
	}
	if strings.HasSuffix(req.PhoneNumber, "98") {
		g.log.Info().Str("checkout_request_id", ack.CheckoutRequestID).Msg("sandbox push will not resolve")
		return ack, nil
	}

	cb := Callback{CheckoutRequestID: ack.CheckoutRequestID, Status: model.PaymentCompleted,
		ResultDesc: "The service request is processed successfully.",
		Receipt:    "SBX" + strings.ToUpper(uuid.NewString()[:7])}
	if strings.HasSuffix(req.PhoneNumber, "99") {
		cb = Callback{CheckoutRequestID: ack.CheckoutRequestID, Status: model.PaymentFailed,
			ResultDesc: "Request cancelled by user"}
	}

	g.timers[ack.CheckoutRequestID] = time.AfterFunc(g.delay, func() { g.fire(cb) })
	return ack, nil
}

func (g *SandboxGateway) fire(cb Callback) {
	g.mu.Lock()
	delete(g.timers, cb.CheckoutRequestID)
	fn := g.callback
	closed := g.closed
	g.mu.Unlock()
	if closed || fn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx, cb); err != nil {
		g.log.Error().Err(err).Str("checkout_request_id", cb.CheckoutRequestID).Msg("sandbox callback failed")
	}
}

// Close stops pending simulated callbacks
func (g *SandboxGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
}
