package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/middleware"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/payments"
	"github.com/homegoods/storefront/internal/repo"
	"github.com/rs/zerolog/hlog"
)

// anonymousProfileWindow bounds how long after sign-up a profile may be created without a token
const anonymousProfileWindow = time.Hour

// CustomerHandler serves customer profiles
type CustomerHandler struct {
	customers repo.CustomerRepo
	accounts  repo.AccountRepo
	now       func() time.Time
}

// NewCustomerHandler creates a new customer handler
func NewCustomerHandler(customers repo.CustomerRepo, accounts repo.AccountRepo) *CustomerHandler {
	return &CustomerHandler{customers: customers, accounts: accounts, now: time.Now}
}

type createCustomerRequest struct {
	Email    string     `json:"email"`
	FullName string     `json:"full_name"`
	Phone    string     `json:"phone"`
	Role     model.Role `json:"role"`
}

// HandleLookup handles GET /customers/lookup?email= (protected).
// Callers read their own profile; staff may read any.
func (h *CustomerHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok || account == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	email := model.NormalizeEmail(r.URL.Query().Get("email"))
	if email == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}
	if email != account.Email {
		caller, err := currentCustomer(r.Context(), h.customers)
		if err != nil || !caller.Role.IsStaff() {
			respondWithError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	c, err := h.customers.GetByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "customer_not_found")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("email", logging.MaskEmail(email)).Msg("customer lookup failed")
		respondWithError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// HandleCreate handles POST /customers (optional auth).
// Anonymous callers may only create user profiles for accounts registered within the last hour.
// Privileged roles require a super_admin caller.
func (h *CustomerHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := model.NormalizeEmail(req.Email)
	if email == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Role == "" {
		req.Role = model.RoleUser
	}
	if !req.Role.Valid() {
		respondWithError(w, http.StatusBadRequest, "invalid_role")
		return
	}
	phone := strings.TrimSpace(req.Phone)
	if phone != "" {
		normalized, err := payments.NormalizePhone(phone)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_phone")
			return
		}
		phone = normalized
	}

	account, err := h.accounts.GetByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "account_not_found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	if caller, ok := middleware.GetAccount(r.Context()); ok && caller != nil {
		if caller.Email != email || req.Role != model.RoleUser {
			callerProfile, err := currentCustomer(r.Context(), h.customers)
			if err != nil || !callerProfile.Role.IsStaff() {
				respondWithError(w, http.StatusForbidden, "forbidden")
				return
			}
			if req.Role != model.RoleUser && callerProfile.Role != model.RoleSuperAdmin {
				respondWithError(w, http.StatusForbidden, "forbidden")
				return
			}
		}
	} else {
		if req.Role != model.RoleUser {
			respondWithError(w, http.StatusForbidden, "forbidden")
			return
		}
		if h.now().Sub(account.CreatedAt) > anonymousProfileWindow {
			respondWithError(w, http.StatusUnauthorized, "authentication_required")
			return
		}
	}

	c, err := h.customers.Create(r.Context(), model.Customer{
		Email:    email,
		FullName: strings.TrimSpace(req.FullName),
		Phone:    phone,
		Role:     req.Role,
		IsActive: true,
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			respondWithError(w, http.StatusConflict, "customer_exists")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("email", logging.MaskEmail(email)).Msg("create customer failed")
		respondWithError(w, http.StatusInternalServerError, "failed to create profile")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}
