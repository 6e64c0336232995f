package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/checkout"
	"github.com/homegoods/storefront/internal/model"
	"github.com/spf13/cobra"
)

var errPaymentPending = errors.New("payment not confirmed yet, check again with `storefront orders`")

func payCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay [order id]",
		Short: "Pay for an order with an M-Pesa STK push",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}

			snap, err := a.restore(cmd.Context())
			if err != nil {
				return err
			}
			phone, _ := cmd.Flags().GetString("phone")
			if phone == "" {
				phone = snap.Customer.Phone
			}

			order, err := a.client.GetOrder(cmd.Context(), orderID)
			if err != nil {
				return err
			}
			if order.PaymentStatus == model.PaymentCompleted {
				fmt.Fprintln(a.out, "This order has already been paid.")
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			flow := checkout.NewFlow(a.client, checkout.Options{Notifier: a.notifier}, a.log)
			dialog := flow.Open(order)
			defer dialog.Cancel()

			if err := dialog.Initiate(ctx, phone, order.Total); err != nil {
				return err
			}
			if err := waitForOutcome(ctx, dialog); err != nil {
				return err
			}

			paid, err := a.client.GetOrder(cmd.Context(), orderID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Order %s is now %s.\n", paid.ID, paid.PaymentStatus)
			return nil
		},
	}

	cmd.Flags().String("phone", "", "M-Pesa phone number (defaults to the profile's phone)")

	return cmd
}

// waitForOutcome blocks until the dialog closes after a completed payment or the
// attempt fails, times out or is interrupted
func waitForOutcome(ctx context.Context, d *checkout.Dialog) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.Done():
			if d.Status() == model.PaymentCompleted {
				return nil
			}
			return errPaymentPending
		case <-ctx.Done():
			return errPaymentPending
		case <-ticker.C:
		}

		switch v := d.View(); v.Status {
		case model.PaymentFailed:
			return fmt.Errorf("payment failed: %s", v.Message)
		case model.PaymentIdle:
			return errPaymentPending
		}
	}
}
