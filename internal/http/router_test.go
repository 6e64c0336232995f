package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/homegoods/storefront/internal/auth"
	"github.com/homegoods/storefront/internal/metrics"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/payments"
	"github.com/homegoods/storefront/internal/repo/repotest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCallbackSecret = "callback-secret"

type recordingMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *recordingMailer) SendConfirmation(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = code
	return nil
}

func (m *recordingMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

type fixedGateway struct{ next int }

func (g *fixedGateway) RequestPush(_ context.Context, req payments.PushRequest) (payments.PushAck, error) {
	g.next++
	return payments.PushAck{CheckoutRequestID: "ws_CO_" + req.OrderID.String()[:8] + string(rune('a'+g.next))}, nil
}

type testAPI struct {
	t      *testing.T
	store  *repotest.Store
	mailer *recordingMailer
	server *Server
}

func newTestAPI(t *testing.T, autoConfirm bool) *testAPI {
	t.Helper()
	store := repotest.NewStore()
	mailer := &recordingMailer{codes: map[string]string{}}
	server := NewServer(Stores{
		Accounts:      store.Accounts(),
		Confirmations: store.Confirmations(),
		Refresh:       store.Refresh(),
		Customers:     store.Customers(),
		Orders:        store.Orders(),
		Payments:      store.Payments(),
	}, Options{
		JWT:            auth.NewJWTService("0123456789abcdef0123456789abcdef", time.Hour),
		Auth:           auth.ServiceOptions{ConfirmationSalt: "salt", RefreshTokenTTL: 24 * time.Hour, AutoConfirm: autoConfirm},
		Mailer:         mailer,
		Gateway:        &fixedGateway{},
		CallbackURL:    "https://shop.example/payments/callback",
		CallbackSecret: testCallbackSecret,
	}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	t.Cleanup(server.Close)
	return &testAPI{t: t, store: store, mailer: mailer, server: server}
}

func (a *testAPI) do(method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.server.Router.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

// signUpAndIn registers, creates a profile and signs in; returns the access token
func (a *testAPI) signUpAndIn(email string) (string, string) {
	a.t.Helper()
	rec, _ := a.do(http.MethodPost, "/auth/sign_up", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, _ = a.do(http.MethodPost, "/customers", "", map[string]string{"email": email, "full_name": "Test Customer"})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, body := a.do(http.MethodPost, "/auth/sign_in", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return body["access_token"].(string), body["refresh_token"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, true)

	rec, body := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	api.signUpAndIn("amina@example.com")
	rec, _ = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `storefront_auth_events_total{event="sign_in",result="ok"} 1`)
}

func TestAuthFlow_confirmationRequired(t *testing.T) {
	api := newTestAPI(t, false)
	email := "otieno@example.com"

	rec, body := api.do(http.MethodPost, "/auth/sign_up", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["confirmation_required"])

	rec, _ = api.do(http.MethodPost, "/auth/sign_up", "", map[string]string{"email": email, "password": "password123"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = api.do(http.MethodPost, "/auth/sign_in", "", map[string]string{"email": email, "password": "password123"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "email_not_confirmed", body["error"])

	rec, body = api.do(http.MethodPost, "/auth/confirm", "", map[string]string{"email": email, "code": "00000000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_confirmation", body["error"])

	rec, body = api.do(http.MethodPost, "/auth/confirm", "", map[string]string{"email": email, "code": api.mailer.code(email)})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "attempts closer than the minimum gap are refused")
	assert.Equal(t, "too_many_attempts", body["error"])

	api.store.ResetAttemptGaps()
	rec, _ = api.do(http.MethodPost, "/auth/confirm", "", map[string]string{"email": email, "code": api.mailer.code(email)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body = api.do(http.MethodPost, "/auth/sign_in", "", map[string]string{"email": email, "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", body["error"])

	rec, body = api.do(http.MethodPost, "/auth/sign_in", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bearer", body["token_type"])
	access := body["access_token"].(string)

	rec, body = api.do(http.MethodGet, "/auth/session", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := body["user"].(map[string]any)
	assert.Equal(t, email, user["email"])
	assert.InDelta(t, float64(time.Now().Add(time.Hour).Unix()), body["expires_at"], 5)

	rec, _ = api.do(http.MethodGet, "/auth/session", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthFlow_refreshRotationAndSignOut(t *testing.T) {
	api := newTestAPI(t, true)
	_, refresh := api.signUpAndIn("kamau@example.com")

	rec, body := api.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := body["refresh_token"].(string)
	assert.NotEqual(t, refresh, rotated)

	rec, body = api.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "refresh_token_reuse_detected", body["error"])

	rec, body = api.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": rotated})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "reuse revokes every session of the account")
	assert.Equal(t, "refresh_token_reuse_detected", body["error"])

	rec, body = api.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": "never-issued"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_refresh_token", body["error"])

	for i := 0; i < 2; i++ {
		rec, _ = api.do(http.MethodPost, "/auth/sign_out", "", map[string]string{"refresh_token": rotated})
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestCustomers(t *testing.T) {
	api := newTestAPI(t, true)
	token, _ := api.signUpAndIn("njeri@example.com")

	rec, body := api.do(http.MethodGet, "/customers/lookup?email=NJERI@example.com", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "njeri@example.com", body["email"])
	assert.Equal(t, "user", body["role"])
	assert.Equal(t, true, body["is_active"])

	rec, _ = api.do(http.MethodGet, "/customers/lookup?email=", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	otherToken, _ := api.signUpAndIn("wafula@example.com")
	rec, _ = api.do(http.MethodGet, "/customers/lookup?email=njeri@example.com", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(http.MethodGet, "/customers/lookup?email=njeri@example.com", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = api.do(http.MethodPost, "/customers", "", map[string]string{"email": "njeri@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "customer_exists", body["error"])

	rec, _ = api.do(http.MethodPost, "/customers", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomers_createRules(t *testing.T) {
	api := newTestAPI(t, true)

	rec, _ := api.do(http.MethodPost, "/auth/sign_up", "", map[string]string{"email": "late@example.com", "password": "password123"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := api.do(http.MethodPost, "/customers", "", map[string]any{"email": "late@example.com", "role": "admin"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "anonymous callers cannot create privileged profiles")

	rec, body = api.do(http.MethodPost, "/customers", "", map[string]any{"email": "late@example.com", "phone": "12345"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_phone", body["error"])

	rec, _ = api.do(http.MethodPost, "/customers", "", map[string]any{"email": "late@example.com", "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.store.BackdateAccount("late@example.com", 2*time.Hour)
	rec, body = api.do(http.MethodPost, "/customers", "", map[string]any{"email": "late@example.com"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_required", body["error"])

	// the account itself may still create its profile once signed in
	rec, body = api.do(http.MethodPost, "/auth/sign_in", "", map[string]string{"email": "late@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := body["access_token"].(string)

	rec, _ = api.do(http.MethodPost, "/customers", token, map[string]any{"email": "late@example.com", "role": "admin"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = api.do(http.MethodPost, "/customers", token, map[string]any{"email": "late@example.com", "phone": "0712345678"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "254712345678", body["phone"])
}

func TestOrdersAndPayments(t *testing.T) {
	api := newTestAPI(t, true)
	token, _ := api.signUpAndIn("achieng@example.com")

	rec, _ := api.do(http.MethodPost, "/orders", token, map[string]any{"items": []model.OrderItem{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, order := api.do(http.MethodPost, "/orders", token, map[string]any{"items": []model.OrderItem{
		{ProductName: "Woven basket", Quantity: 2, UnitPrice: 1500},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 3000.0, order["total"])
	assert.Equal(t, "idle", order["payment_status"])
	orderID := order["id"].(string)

	rec, body := api.do(http.MethodGet, "/orders", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["orders"], 1)

	rec, _ = api.do(http.MethodGet, "/orders/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	otherToken, _ := api.signUpAndIn("mwangi@example.com")
	rec, _ = api.do(http.MethodGet, "/orders/"+orderID, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = api.do(http.MethodGet, "/orders/"+orderID+"/payment-status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body["status"])

	rec, body = api.do(http.MethodPost, "/payments/stk-push", token, map[string]any{"order_id": orderID, "phone_number": "", "amount": 3000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "phone_required", body["error"])

	rec, body = api.do(http.MethodPost, "/payments/stk-push", token, map[string]any{"order_id": orderID, "phone_number": "0712345678", "amount": 2999})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "amount_mismatch", body["error"])

	rec, body = api.do(http.MethodPost, "/payments/stk-push", token, map[string]any{"order_id": orderID, "phone_number": "0712345678", "amount": 3000})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "processing", body["status"])
	checkoutID := body["checkout_request_id"].(string)

	rec, body = api.do(http.MethodGet, "/orders/"+orderID+"/payment-status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", body["status"])

	callback := map[string]string{"checkout_request_id": checkoutID, "status": "completed", "receipt": "QK71234XYZ"}
	rec, _ = api.do(http.MethodPost, "/payments/callback", "", callback)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = api.do(http.MethodPost, "/payments/callback", "", callback, "X-Callback-Token", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for i := 0; i < 2; i++ {
		rec, _ = api.do(http.MethodPost, "/payments/callback", "", callback, "X-Callback-Token", testCallbackSecret)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ = api.do(http.MethodPost, "/payments/callback", "",
		map[string]string{"checkout_request_id": "unknown", "status": "failed"}, "X-Callback-Token", testCallbackSecret)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = api.do(http.MethodGet, "/orders/"+orderID+"/payment-status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "QK71234XYZ", body["mpesa_receipt"])

	rec, body = api.do(http.MethodGet, "/orders/"+orderID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", body["status"])

	rec, body = api.do(http.MethodPost, "/payments/stk-push", token, map[string]any{"order_id": orderID, "phone_number": "0712345678", "amount": 3000})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "order_already_paid", body["error"])
}

func TestOrders_requireActiveProfile(t *testing.T) {
	api := newTestAPI(t, true)

	rec, _ := api.do(http.MethodPost, "/auth/sign_up", "", map[string]string{"email": "noprofile@example.com", "password": "password123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, body := api.do(http.MethodPost, "/auth/sign_in", "", map[string]string{"email": "noprofile@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := body["access_token"].(string)

	rec, body = api.do(http.MethodGet, "/orders", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "profile_required", body["error"])

	active, _ := api.signUpAndIn("disabled@example.com")
	api.store.SetCustomerActive("disabled@example.com", false)
	rec, body = api.do(http.MethodGet, "/orders", active, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "account_disabled", body["error"])
}

func TestSTKPush_rateLimited(t *testing.T) {
	api := newTestAPI(t, true)
	token, _ := api.signUpAndIn("busy@example.com")

	var last int
	for i := 0; i < 6; i++ {
		rec, _ := api.do(http.MethodPost, "/payments/stk-push", token, map[string]any{"phone_number": "0712345678"})
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
