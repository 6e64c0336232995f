package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/repo/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotal(t *testing.T) {
	items := []model.OrderItem{
		{ProductName: "Throw pillow", Quantity: 2, UnitPrice: 1250},
		{ProductName: "Candle", Quantity: 3, UnitPrice: 833.33},
	}
	assert.Equal(t, 4999.99, Total(items))
	assert.Equal(t, 0.0, Total(nil))
}

func TestCreate_validation(t *testing.T) {
	svc := NewService(repotest.NewStore().Orders())
	customer := model.Customer{ID: uuid.New(), Role: model.RoleUser}
	ctx := context.Background()

	_, err := svc.Create(ctx, customer, nil)
	assert.ErrorIs(t, err, ErrInvalidItems)

	_, err = svc.Create(ctx, customer, []model.OrderItem{{ProductName: " ", Quantity: 1, UnitPrice: 10}})
	assert.ErrorIs(t, err, ErrInvalidItems)

	_, err = svc.Create(ctx, customer, []model.OrderItem{{ProductName: "Rug", Quantity: 0, UnitPrice: 10}})
	assert.ErrorIs(t, err, ErrInvalidItems)

	order, err := svc.Create(ctx, customer, []model.OrderItem{{ProductName: "Rug", Quantity: 1, UnitPrice: 5000}})
	require.NoError(t, err)
	assert.Equal(t, 5000.0, order.Total)
	assert.Equal(t, model.PaymentIdle, order.PaymentStatus)
}

func TestGet_ownership(t *testing.T) {
	svc := NewService(repotest.NewStore().Orders())
	owner := model.Customer{ID: uuid.New(), Role: model.RoleUser}
	stranger := model.Customer{ID: uuid.New(), Role: model.RoleUser}
	admin := model.Customer{ID: uuid.New(), Role: model.RoleAdmin}
	ctx := context.Background()

	order, err := svc.Create(ctx, owner, []model.OrderItem{{ProductName: "Vase", Quantity: 1, UnitPrice: 900}})
	require.NoError(t, err)

	_, err = svc.Get(ctx, owner, order.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, admin, order.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, stranger, order.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := svc.List(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, list)
}
