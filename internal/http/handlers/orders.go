package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/orders"
	"github.com/homegoods/storefront/internal/repo"
	"github.com/rs/zerolog/hlog"
)

// OrderHandler serves the caller's orders
type OrderHandler struct {
	orders    *orders.Service
	customers repo.CustomerRepo
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orderService *orders.Service, customers repo.CustomerRepo) *OrderHandler {
	return &OrderHandler{orders: orderService, customers: customers}
}

type createOrderRequest struct {
	Items []model.OrderItem `json:"items"`
}

type listOrdersResponse struct {
	Orders []model.Order `json:"orders"`
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusNotFound, "order_not_found")
		return uuid.Nil, false
	}
	return id, true
}

// HandleCreate handles POST /orders
func (h *OrderHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	customer, ok := requireCustomer(w, r, h.customers)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.orders.Create(r.Context(), customer, req.Items)
	if err != nil {
		if errors.Is(err, orders.ErrInvalidItems) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("create order failed")
		respondWithError(w, http.StatusInternalServerError, "failed to create order")
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// HandleList handles GET /orders
func (h *OrderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	customer, ok := requireCustomer(w, r, h.customers)
	if !ok {
		return
	}
	list, err := h.orders.List(r.Context(), customer)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list orders failed")
		respondWithError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if list == nil {
		list = []model.Order{}
	}
	respondJSON(w, http.StatusOK, listOrdersResponse{Orders: list})
}

// HandleGet handles GET /orders/{id}
func (h *OrderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	customer, ok := requireCustomer(w, r, h.customers)
	if !ok {
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.Get(r.Context(), customer, id)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "order_not_found")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("get order failed")
		respondWithError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	respondJSON(w, http.StatusOK, order)
}
