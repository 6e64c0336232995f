package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/homegoods/storefront/internal/model"
	"github.com/spf13/cobra"
)

func ordersCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List your orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			if _, err := a.restore(cmd.Context()); err != nil {
				return err
			}

			orders, err := a.client.ListOrders(cmd.Context())
			if err != nil {
				return err
			}
			if len(orders) == 0 {
				fmt.Fprintln(a.out, "No orders yet.")
				return nil
			}
			fmt.Fprintf(a.out, "%-36s  %12s  %-10s  %s\n", "ORDER", "TOTAL (KES)", "PAYMENT", "PLACED")
			for _, o := range orders {
				fmt.Fprintf(a.out, "%-36s  %12.2f  %-10s  %s\n",
					o.ID, o.Total, o.PaymentStatus, o.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func orderCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Work with a single order",
	}
	cmd.AddCommand(orderCreateCmd(current))
	return cmd
}

func orderCreateCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Place an order",
		Example: `  storefront order create --item "Linen duvet cover:1:3500" --item "Cotton pillowcase:2:750"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			raw, _ := cmd.Flags().GetStringArray("item")
			items := make([]model.OrderItem, 0, len(raw))
			for _, r := range raw {
				item, err := parseItem(r)
				if err != nil {
					return err
				}
				items = append(items, item)
			}

			if _, err := a.restore(cmd.Context()); err != nil {
				return err
			}
			order, err := a.client.CreateOrder(cmd.Context(), items)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Order %s placed, total KES %.2f\n", order.ID, order.Total)
			fmt.Fprintf(a.out, "Pay with: storefront pay %s --phone <number>\n", order.ID)
			return nil
		},
	}

	cmd.Flags().StringArrayP("item", "i", nil, `Line item as "name:quantity:unit price" (repeatable)`)
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

// parseItem reads "name:quantity:unit price"; the name may itself contain colons
func parseItem(s string) (model.OrderItem, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 {
		return model.OrderItem{}, fmt.Errorf("item %q: want name:quantity:unit price", s)
	}
	n := len(parts)
	qty, err := strconv.Atoi(strings.TrimSpace(parts[n-2]))
	if err != nil || qty <= 0 {
		return model.OrderItem{}, fmt.Errorf("item %q: invalid quantity", s)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(parts[n-1]), 64)
	if err != nil || price <= 0 {
		return model.OrderItem{}, fmt.Errorf("item %q: invalid unit price", s)
	}
	name := strings.TrimSpace(strings.Join(parts[:n-2], ":"))
	if name == "" {
		return model.OrderItem{}, fmt.Errorf("item %q: missing name", s)
	}
	return model.OrderItem{ProductName: name, Quantity: qty, UnitPrice: price}, nil
}
