// Package orders creates and reads customer orders.
package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/repo"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrInvalidItems = errors.New("order must contain at least one valid item")
)

// Service handles order operations on behalf of a customer
type Service struct {
	orders repo.OrderRepo
}

// NewService creates a new order service
func NewService(orders repo.OrderRepo) *Service {
	return &Service{orders: orders}
}

// Total sums the line items, rounded to cents
func Total(items []model.OrderItem) float64 {
	var total float64
	for _, it := range items {
		total += float64(it.Quantity) * it.UnitPrice
	}
	return math.Round(total*100) / 100
}

// Create validates the items and stores a pending order for the customer
func (s *Service) Create(ctx context.Context, customer model.Customer, items []model.OrderItem) (model.Order, error) {
	if len(items) == 0 {
		return model.Order{}, ErrInvalidItems
	}
	for i := range items {
		items[i].ProductName = strings.TrimSpace(items[i].ProductName)
		if items[i].ProductName == "" || items[i].Quantity <= 0 || items[i].UnitPrice <= 0 {
			return model.Order{}, fmt.Errorf("item %d: %w", i, ErrInvalidItems)
		}
	}
	order, err := s.orders.Create(ctx, customer.ID, items, Total(items))
	if err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// Get returns the order if the customer owns it or is staff
func (s *Service) Get(ctx context.Context, customer model.Customer, id uuid.UUID) (model.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Order{}, ErrNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.CustomerID != customer.ID && !customer.Role.IsStaff() {
		return model.Order{}, ErrNotFound
	}
	return order, nil
}

// List returns the customer's own orders
func (s *Service) List(ctx context.Context, customer model.Customer) ([]model.Order, error) {
	orders, err := s.orders.ListByCustomer(ctx, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
