package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/homegoods/storefront/internal/middleware"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/repo"
)

const maxBodyBytes = 1 << 20

var errNoProfile = errors.New("no customer profile for account")

// respondJSON writes v with the given status
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// currentCustomer resolves the caller's profile from the authenticated account's email
func currentCustomer(ctx context.Context, customers repo.CustomerRepo) (model.Customer, error) {
	account, ok := middleware.GetAccount(ctx)
	if !ok || account == nil {
		return model.Customer{}, errNoProfile
	}
	c, err := customers.GetByEmail(ctx, account.Email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Customer{}, errNoProfile
		}
		return model.Customer{}, err
	}
	return c, nil
}

// requireCustomer resolves the caller's active profile or writes the error response
func requireCustomer(w http.ResponseWriter, r *http.Request, customers repo.CustomerRepo) (model.Customer, bool) {
	c, err := currentCustomer(r.Context(), customers)
	switch {
	case errors.Is(err, errNoProfile):
		respondWithError(w, http.StatusForbidden, "profile_required")
		return model.Customer{}, false
	case err != nil:
		respondWithError(w, http.StatusInternalServerError, "failed to load profile")
		return model.Customer{}, false
	case !c.IsActive:
		respondWithError(w, http.StatusForbidden, "account_disabled")
		return model.Customer{}, false
	}
	return c, true
}
