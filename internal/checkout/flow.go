// Package checkout drives a single M-Pesa payment attempt from STK push to a terminal
// outcome, polling the order's payment status until it resolves or times out.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/metrics"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/notify"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

var (
	ErrPhoneRequired     = errors.New("phone number is required")
	ErrInvalidPhone      = errors.New("phone number is not a valid M-Pesa number")
	ErrAmountMismatch    = errors.New("amount does not match the order total")
	ErrAttemptInProgress = errors.New("a payment attempt is already in progress")
	ErrAlreadyPaid       = errors.New("order has already been paid")
	ErrDialogClosed      = errors.New("payment dialog is closed")

	errPending = errors.New("payment still pending")
)

// PushRequest asks the gateway to send an STK push for an order
type PushRequest struct {
	OrderID     uuid.UUID
	PhoneNumber string
	Amount      float64
}

// StatusReport is the order's latest payment status as seen by the gateway front
type StatusReport struct {
	Status     model.PaymentStatus
	Receipt    string
	ResultDesc string
}

// Gateway initiates pushes and reports payment status by order
type Gateway interface {
	InitiatePush(ctx context.Context, req PushRequest) error
	PaymentStatus(ctx context.Context, orderID uuid.UUID) (StatusReport, error)
}

// Options tunes the flow. Zero fields take the defaults.
type Options struct {
	PollInterval time.Duration
	// Timeout bounds polling, measured from entering processing
	Timeout time.Duration
	// ResultHold is how long a success or failure is shown before the dialog moves on
	ResultHold time.Duration

	// OnPaid runs after a completed payment closes the dialog, to refresh order data
	OnPaid   func(ctx context.Context, orderID uuid.UUID)
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.ResultHold <= 0 {
		o.ResultHold = 3 * time.Second
	}
	return o
}

// Flow opens payment dialogs against a gateway
type Flow struct {
	gateway Gateway
	opts    Options
	log     zerolog.Logger
}

// NewFlow creates a payment flow
func NewFlow(gateway Gateway, opts Options, logger zerolog.Logger) *Flow {
	return &Flow{
		gateway: gateway,
		opts:    opts.withDefaults(),
		log:     logging.Component(logger, "checkout"),
	}
}

// Open starts a dialog for paying order. The dialog is idle until Initiate is called.
func (f *Flow) Open(order model.Order) *Dialog {
	return &Dialog{
		flow:   f,
		order:  order,
		status: model.PaymentIdle,
		done:   make(chan struct{}),
		log:    f.log.With().Str("order_id", order.ID.String()).Logger(),
	}
}

// View is what the dialog presents
type View struct {
	Status  model.PaymentStatus
	Message string
	Receipt string
	Open    bool
}

// Dialog is the cancellable handle for paying one order. It is safe for concurrent use.
type Dialog struct {
	flow  *Flow
	order model.Order
	log   zerolog.Logger

	mu       sync.Mutex
	status   model.PaymentStatus
	message  string
	receipt  string
	pushing  bool
	attempts int
	// gen changes whenever an attempt starts or is abandoned; background work for an
	// older generation leaves the dialog alone
	gen    uint64
	cancel context.CancelFunc
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Order returns the order being paid
func (d *Dialog) Order() model.Order {
	return d.order
}

// Status returns the current attempt status
func (d *Dialog) Status() model.PaymentStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// View returns the dialog's presentation state
func (d *Dialog) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return View{Status: d.status, Message: d.message, Receipt: d.receipt, Open: !d.closed}
}

// Done is closed when the dialog closes, by Cancel or after a completed payment
func (d *Dialog) Done() <-chan struct{} {
	return d.done
}

func amountsEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

// Initiate validates the input, requests an STK push and starts polling. Validation
// failures are returned before any network call. A repeat attempt first checks the
// order's payment status so a payment that completed late is not charged twice.
func (d *Dialog) Initiate(ctx context.Context, phone string, amount float64) error {
	phone = strings.TrimSpace(phone)
	switch {
	case phone == "":
		return d.reject(ErrPhoneRequired)
	case !amountsEqual(amount, d.order.Total):
		return d.reject(ErrAmountMismatch)
	}

	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return ErrDialogClosed
	case d.pushing || d.status == model.PaymentProcessing:
		d.mu.Unlock()
		return ErrAttemptInProgress
	case d.status == model.PaymentCompleted:
		d.mu.Unlock()
		return ErrAlreadyPaid
	}
	d.stopLocked()
	d.pushing = true
	repeat := d.attempts > 0
	d.status, d.message, d.receipt = model.PaymentIdle, "", ""
	d.mu.Unlock()
	d.wg.Wait()

	defer func() {
		d.mu.Lock()
		d.pushing = false
		d.mu.Unlock()
	}()

	if repeat {
		report, err := d.flow.gateway.PaymentStatus(ctx, d.order.ID)
		if err != nil {
			return d.fail(fmt.Errorf("check previous attempt: %w", err))
		}
		if report.Status == model.PaymentCompleted {
			d.log.Info().Msg("previous attempt completed, not pushing again")
			return d.fail(ErrAlreadyPaid)
		}
	}

	err := d.flow.gateway.InitiatePush(ctx, PushRequest{OrderID: d.order.ID, PhoneNumber: phone, Amount: amount})
	if err != nil {
		d.log.Warn().Err(err).Str("phone", logging.MaskPhone(phone)).Msg("stk push failed")
		return d.fail(err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDialogClosed
	}
	d.attempts++
	d.status = model.PaymentProcessing
	gen, pollCtx := d.startLocked()
	d.wg.Add(1)
	go d.poll(pollCtx, gen)
	d.mu.Unlock()

	d.log.Info().Str("phone", logging.MaskPhone(phone)).Msg("stk push sent")
	d.notify(notify.LevelInfo, "Check your phone", fmt.Sprintf("Enter your M-Pesa PIN to pay KES %.2f.", amount))
	return nil
}

// Retry abandons the current attempt and returns the dialog to idle. It never cancels
// the gateway transaction.
func (d *Dialog) Retry() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.stopLocked()
	d.status, d.message, d.receipt = model.PaymentIdle, "", ""
	d.mu.Unlock()
	d.wg.Wait()
}

// Cancel closes the dialog and stops polling. A payment already pushed may still
// complete; the order's payment status will show it.
func (d *Dialog) Cancel() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.stopLocked()
	d.closeLocked()
	d.mu.Unlock()
	d.wg.Wait()
}

// startLocked begins a new generation with its own context. d.mu must be held.
func (d *Dialog) startLocked() (uint64, context.Context) {
	d.gen++
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	return d.gen, ctx
}

// stopLocked abandons the current generation. d.mu must be held.
func (d *Dialog) stopLocked() {
	d.gen++
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Dialog) closeLocked() {
	if !d.closed {
		d.closed = true
		close(d.done)
	}
}

func (d *Dialog) reject(err error) error {
	d.notify(notify.LevelError, "Payment not started", userMessage(err))
	return err
}

// fail shows the failure and reverts to idle after the hold
func (d *Dialog) fail(err error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return err
	}
	d.status = model.PaymentFailed
	d.message = userMessage(err)
	gen, ctx := d.startLocked()
	d.wg.Add(1)
	go d.revertAfterHold(ctx, gen)
	d.mu.Unlock()

	d.notify(notify.LevelError, "Payment failed", userMessage(err))
	return err
}

func (d *Dialog) revertAfterHold(ctx context.Context, gen uint64) {
	defer d.wg.Done()
	if !sleep(ctx, d.flow.opts.ResultHold) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen && d.status == model.PaymentFailed {
		d.status, d.message = model.PaymentIdle, ""
	}
}

// poll checks the payment status every interval until it is terminal or the timeout
// passes. Checks never overlap, and a check still running at the deadline is abandoned.
func (d *Dialog) poll(ctx context.Context, gen uint64) {
	defer d.wg.Done()

	opts := d.flow.opts
	deadline := time.Now().Add(opts.Timeout)
	if !sleep(ctx, opts.PollInterval) {
		d.countPoll("cancelled")
		return
	}

	boundCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var report StatusReport
	backoff := retry.WithMaxDuration(time.Until(deadline), retry.NewConstant(opts.PollInterval))
	err := retry.Do(boundCtx, backoff, func(ctx context.Context) error {
		r, err := d.flow.gateway.PaymentStatus(ctx, d.order.ID)
		if err != nil {
			d.log.Debug().Err(err).Msg("payment status check failed")
			return retry.RetryableError(err)
		}
		if !r.Status.Terminal() {
			return retry.RetryableError(errPending)
		}
		report = r
		return nil
	})

	switch {
	case ctx.Err() != nil:
		d.countPoll("cancelled")
	case err != nil:
		d.timedOut(gen)
	case report.Status == model.PaymentCompleted:
		d.completed(ctx, gen, report)
	default:
		d.failed(ctx, gen, report)
	}
}

func (d *Dialog) timedOut(gen uint64) {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return
	}
	d.status, d.message = model.PaymentIdle, ""
	d.mu.Unlock()

	d.log.Info().Dur("timeout", d.flow.opts.Timeout).Msg("payment confirmation timed out")
	d.countPoll("timeout")
	d.notify(notify.LevelWarning, "Payment pending",
		"We have not received confirmation yet. If you completed the payment it will show on your order shortly.")
}

func (d *Dialog) completed(ctx context.Context, gen uint64, report StatusReport) {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return
	}
	d.status = model.PaymentCompleted
	d.receipt = report.Receipt
	d.message = ""
	d.mu.Unlock()

	d.log.Info().Str("receipt", report.Receipt).Msg("payment completed")
	d.countPoll("completed")
	msg := "Your payment was received."
	if report.Receipt != "" {
		msg = "Your payment was received. M-Pesa receipt " + report.Receipt + "."
	}
	d.notify(notify.LevelSuccess, "Payment successful", msg)

	if !sleep(ctx, d.flow.opts.ResultHold) {
		return
	}
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return
	}
	d.closeLocked()
	d.mu.Unlock()

	if d.flow.opts.OnPaid != nil {
		d.flow.opts.OnPaid(ctx, d.order.ID)
	}
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
}

func (d *Dialog) failed(ctx context.Context, gen uint64, report StatusReport) {
	msg := strings.TrimSpace(report.ResultDesc)
	if msg == "" {
		msg = "The payment was not completed."
	}

	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return
	}
	d.status = model.PaymentFailed
	d.message = msg
	d.mu.Unlock()

	d.log.Info().Str("result", msg).Msg("payment failed")
	d.countPoll("failed")
	d.notify(notify.LevelError, "Payment failed", msg)

	if !sleep(ctx, d.flow.opts.ResultHold) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen && d.status == model.PaymentFailed {
		d.status, d.message = model.PaymentIdle, ""
	}
}

func (d *Dialog) notify(level notify.Level, title, message string) {
	notify.Send(d.flow.opts.Notifier, level, title, message)
}

func (d *Dialog) countPoll(outcome string) {
	if m := d.flow.opts.Metrics; m != nil {
		m.PaymentPolls.WithLabelValues(outcome).Inc()
	}
}

// sleep waits for dur and reports false if ctx ended first
func sleep(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrPhoneRequired):
		return "Enter the M-Pesa phone number to pay with."
	case errors.Is(err, ErrInvalidPhone):
		return "Enter a valid Safaricom number such as 0712345678."
	case errors.Is(err, ErrAmountMismatch):
		return "The amount does not match the order total."
	case errors.Is(err, ErrAlreadyPaid):
		return "This order has already been paid."
	}
	return "We could not start the payment. Please try again."
}
