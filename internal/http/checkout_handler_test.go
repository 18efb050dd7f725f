package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"github.com/akashsreedhar/order-engine/internal/payment"
	"github.com/akashsreedhar/order-engine/internal/submit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockValidator struct {
	outcome *domain.ValidationOutcome
	err     error
	fresh   []bool
}

func (m *mockValidator) Validate(_ context.Context, _ []domain.CartLineSnapshot, forceFresh bool) (*domain.ValidationOutcome, error) {
	m.fresh = append(m.fresh, forceFresh)
	if m.err != nil {
		return nil, m.err
	}
	return m.outcome, nil
}

type mockRateLimiter struct {
	decision    *domain.RateLimitDecision
	err         error
	completions []string
	exemptions  []string
}

func (m *mockRateLimiter) CanPlaceOrder(context.Context, string) (*domain.RateLimitDecision, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.decision, nil
}

func (m *mockRateLimiter) RecordCompletion(_ context.Context, _ string, orderID string) error {
	m.completions = append(m.completions, orderID)
	return nil
}

func (m *mockRateLimiter) GrantCancellationExemption(_ context.Context, _ string, orderID string) error {
	m.exemptions = append(m.exemptions, orderID)
	return nil
}

type mockCoordinator struct {
	result    *submit.Result
	err       error
	cancelErr error
	cancelled []string
}

func (m *mockCoordinator) PlaceOrder(context.Context, submit.PlaceOrderRequest) (*submit.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockCoordinator) HandlePaymentCallback(context.Context, string, payment.SuccessPayload) (*submit.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockCoordinator) Cancel(userID string) error {
	m.cancelled = append(m.cancelled, userID)
	return m.cancelErr
}

func setupServer(validator *mockValidator, limits *mockRateLimiter, coordinator *mockCoordinator) *httptest.Server {
	handler := NewCheckoutHandler(validator, limits, coordinator, 5*time.Second)
	return httptest.NewServer(NewRouter(handler, 10*time.Second))
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func validLine() cartLineDTO {
	return cartLineDTO{ProductID: 1, Quantity: 2, PriceAtAdd: 25.0, MRPAtAdd: 30.0}
}

func TestValidateEndpoint_Success(t *testing.T) {
	validator := &mockValidator{outcome: &domain.ValidationOutcome{
		IsValid:  true,
		RiskTier: domain.RiskLow,
	}}
	server := setupServer(validator, &mockRateLimiter{}, &mockCoordinator{})
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/checkout/validate", ValidateRequestDTO{
		UserID:     "u1",
		Lines:      []cartLineDTO{validLine()},
		ForceFresh: true,
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []bool{true}, validator.fresh)

	var outcome domain.ValidationOutcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.True(t, outcome.IsValid)
}

func TestValidateEndpoint_InvalidQuantity(t *testing.T) {
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, &mockCoordinator{})
	defer server.Close()

	line := validLine()
	line.Quantity = 100
	resp := postJSON(t, server.URL+"/v1/checkout/validate", ValidateRequestDTO{
		UserID: "u1",
		Lines:  []cartLineDTO{line},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "invalid_quantity", errResp.Code)
}

func TestValidateEndpoint_InvalidJSON(t *testing.T) {
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, &mockCoordinator{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/checkout/validate", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlaceOrderEndpoint_Created(t *testing.T) {
	coordinator := &mockCoordinator{result: &submit.Result{
		Outcome: submit.OutcomeSucceeded,
		OrderID: "order-1",
	}}
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, coordinator)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/checkout/place", PlaceOrderRequestDTO{
		UserID:        "u1",
		PaymentMethod: "cod",
		Lines:         []cartLineDTO{validLine()},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var result submit.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "order-1", result.OrderID)
}

func TestPlaceOrderEndpoint_AwaitingPayment(t *testing.T) {
	coordinator := &mockCoordinator{result: &submit.Result{
		Outcome:   submit.OutcomeAwaitingPayment,
		OrderID:   "order-1",
		SessionID: "sess_1",
	}}
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, coordinator)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/checkout/place", PlaceOrderRequestDTO{
		UserID:        "u1",
		PaymentMethod: "online",
		Lines:         []cartLineDTO{validLine()},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestPlaceOrderEndpoint_RateLimitedWithRetryAfter(t *testing.T) {
	coordinator := &mockCoordinator{result: &submit.Result{
		Outcome:    submit.OutcomeDenied,
		Message:    "please wait 3 minutes between orders",
		RetryAfter: 3 * time.Minute,
	}}
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, coordinator)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/checkout/place", PlaceOrderRequestDTO{
		UserID:        "u1",
		PaymentMethod: "cod",
		Lines:         []cartLineDTO{validLine()},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "180", resp.Header.Get("Retry-After"))
}

func TestPlaceOrderEndpoint_ReviewRequiredConflict(t *testing.T) {
	coordinator := &mockCoordinator{result: &submit.Result{
		Outcome: submit.OutcomeReviewRequired,
		Message: "some prices have changed since you added these items",
		Validation: &domain.ValidationOutcome{
			HasChanges: true,
			RiskTier:   domain.RiskMedium,
		},
	}}
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, coordinator)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/checkout/place", PlaceOrderRequestDTO{
		UserID:        "u1",
		PaymentMethod: "cod",
		Lines:         []cartLineDTO{validLine()},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var result submit.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotNil(t, result.Validation)
	assert.Equal(t, domain.RiskMedium, result.Validation.RiskTier)
}

func TestPlaceOrderEndpoint_DoubleTapConflict(t *testing.T) {
	coordinator := &mockCoordinator{err: submit.ErrSubmissionInFlight}
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, coordinator)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/checkout/place", PlaceOrderRequestDTO{
		UserID:        "u1",
		PaymentMethod: "cod",
		Lines:         []cartLineDTO{validLine()},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "in_flight", errResp.Code)
}

func TestPlaceOrderEndpoint_BadPaymentMethod(t *testing.T) {
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, &mockCoordinator{})
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/checkout/place", PlaceOrderRequestDTO{
		UserID:        "u1",
		PaymentMethod: "card",
		Lines:         []cartLineDTO{validLine()},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPaymentCallbackEndpoint_BadSignature(t *testing.T) {
	coordinator := &mockCoordinator{err: payment.ErrSignatureInvalid}
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, coordinator)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/payment/callback", PaymentCallbackDTO{
		UserID:    "u1",
		SessionID: "sess_1",
		OrderRef:  "order-1",
		Amount:    "105.00",
		Signature: "deadbeef",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "bad_signature", errResp.Code)
}

func TestPaymentCallbackEndpoint_Success(t *testing.T) {
	coordinator := &mockCoordinator{result: &submit.Result{
		Outcome: submit.OutcomeSucceeded,
		OrderID: "order-1",
	}}
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, coordinator)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/payment/callback", PaymentCallbackDTO{
		UserID:    "u1",
		SessionID: "sess_1",
		OrderRef:  "order-1",
		Amount:    "105.00",
		Signature: "cafe",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCancelCheckoutEndpoint_TooLate(t *testing.T) {
	coordinator := &mockCoordinator{cancelErr: submit.ErrTooLateToCancel}
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, coordinator)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/checkout/cancel", CancelOrderDTO{UserID: "u1"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelCheckoutEndpoint_Success(t *testing.T) {
	coordinator := &mockCoordinator{}
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, coordinator)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/checkout/cancel", CancelOrderDTO{UserID: "u1"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"u1"}, coordinator.cancelled)
}

func TestCancelOrderEndpoint_GrantsExemption(t *testing.T) {
	limits := &mockRateLimiter{}
	server := setupServer(&mockValidator{}, limits, &mockCoordinator{})
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/orders/order-42/cancel", CancelOrderDTO{UserID: "u1"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"order-42"}, limits.exemptions)
}

func TestRateLimitStatusEndpoint(t *testing.T) {
	limits := &mockRateLimiter{decision: &domain.RateLimitDecision{
		Allowed:    false,
		Reason:     domain.DenyReasonDailyQuota,
		RetryAfter: 90 * time.Second,
	}}
	server := setupServer(&mockValidator{}, limits, &mockCoordinator{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/ratelimit/u1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var dto rateLimitDecisionDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dto))
	assert.False(t, dto.Allowed)
	assert.Equal(t, domain.DenyReasonDailyQuota, dto.Reason)
	assert.Equal(t, int64(90), dto.RetryAfterSecs)
}

func TestHealthEndpoint(t *testing.T) {
	server := setupServer(&mockValidator{}, &mockRateLimiter{}, &mockCoordinator{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
