package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"github.com/akashsreedhar/order-engine/internal/payment"
	"github.com/akashsreedhar/order-engine/internal/submit"
	"github.com/go-chi/chi/v5"
)

type Validator interface {
	Validate(ctx context.Context, lines []domain.CartLineSnapshot, forceFresh bool) (*domain.ValidationOutcome, error)
}

type RateLimiter interface {
	CanPlaceOrder(ctx context.Context, userID string) (*domain.RateLimitDecision, error)
	RecordCompletion(ctx context.Context, userID, orderID string) error
	GrantCancellationExemption(ctx context.Context, userID, orderID string) error
}

type Coordinator interface {
	PlaceOrder(ctx context.Context, req submit.PlaceOrderRequest) (*submit.Result, error)
	HandlePaymentCallback(ctx context.Context, userID string, payload payment.SuccessPayload) (*submit.Result, error)
	Cancel(userID string) error
}

type CheckoutHandler struct {
	validator   Validator
	limits      RateLimiter
	coordinator Coordinator
	timeout     time.Duration
}

func NewCheckoutHandler(validator Validator, limits RateLimiter, coordinator Coordinator, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		validator:   validator,
		limits:      limits,
		coordinator: coordinator,
		timeout:     timeout,
	}
}

type cartLineDTO struct {
	ProductID  int64   `json:"product_id"`
	Quantity   int32   `json:"quantity"`
	PriceAtAdd float64 `json:"price_at_add"`
	MRPAtAdd   float64 `json:"mrp_at_add"`
}

type ValidateRequestDTO struct {
	UserID     string        `json:"user_id"`
	Lines      []cartLineDTO `json:"lines"`
	ForceFresh bool          `json:"force_fresh"`
}

type PlaceOrderRequestDTO struct {
	UserID        string        `json:"user_id"`
	PaymentMethod string        `json:"payment_method"`
	Lines         []cartLineDTO `json:"lines"`
}

type PaymentCallbackDTO struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	OrderRef  string `json:"order_ref"`
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

type CancelOrderDTO struct {
	UserID string `json:"user_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CheckoutHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ValidateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	lines, ok := mapLines(w, req.Lines)
	if !ok {
		return
	}

	outcome, err := h.validator.Validate(ctx, lines, req.ForceFresh)
	if err != nil {
		log.Printf("validation error for user %s: %v", req.UserID, err)
		respondError(w, http.StatusInternalServerError, "internal_error", "validation failed")
		return
	}

	respondJSON(w, http.StatusOK, outcome)
}

func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req PlaceOrderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "user_id is required")
		return
	}
	method := domain.PaymentMethod(req.PaymentMethod)
	if method != domain.PaymentCashOnDelivery && method != domain.PaymentOnline {
		respondError(w, http.StatusBadRequest, "invalid_payment_method", "payment_method must be cod or online")
		return
	}
	lines, ok := mapLines(w, req.Lines)
	if !ok {
		return
	}

	result, err := h.coordinator.PlaceOrder(ctx, submit.PlaceOrderRequest{
		UserID:        req.UserID,
		Lines:         lines,
		PaymentMethod: method,
	})
	if err != nil {
		handleSubmitError(w, err)
		return
	}

	respondResult(w, result)
}

func (h *CheckoutHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req PaymentCallbackDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.UserID == "" || req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and session_id are required")
		return
	}

	result, err := h.coordinator.HandlePaymentCallback(ctx, req.UserID, payment.SuccessPayload{
		SessionID: req.SessionID,
		OrderRef:  req.OrderRef,
		Amount:    req.Amount,
		Signature: req.Signature,
	})
	if err != nil {
		handleSubmitError(w, err)
		return
	}

	respondResult(w, result)
}

func (h *CheckoutHandler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "user_id is required")
		return
	}

	if err := h.coordinator.Cancel(req.UserID); err != nil {
		if errors.Is(err, submit.ErrTooLateToCancel) {
			respondError(w, http.StatusConflict, "too_late", "order creation already dispatched")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "cancel failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelOrder cancels a placed order: the order leaves the active set and the
// user earns a one-time exemption for their replacement order.
func (h *CheckoutHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id is required")
		return
	}

	var req CancelOrderDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "user_id is required")
		return
	}

	if err := h.limits.GrantCancellationExemption(ctx, req.UserID, orderID); err != nil {
		log.Printf("failed to grant exemption for user %s order %s: %v", req.UserID, orderID, err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not record cancellation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "user_id is required")
		return
	}

	decision, err := h.limits.CanPlaceOrder(ctx, userID)
	if err != nil {
		log.Printf("rate limit check failed for user %s: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "internal_error", "rate limit check failed")
		return
	}

	respondJSON(w, http.StatusOK, decisionDTO(decision))
}

func mapLines(w http.ResponseWriter, dtos []cartLineDTO) ([]domain.CartLineSnapshot, bool) {
	lines := make([]domain.CartLineSnapshot, 0, len(dtos))
	for _, dto := range dtos {
		if dto.ProductID <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
			return nil, false
		}
		if dto.Quantity <= 0 || dto.Quantity > 99 {
			respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
			return nil, false
		}
		lines = append(lines, domain.CartLineSnapshot{
			ProductID:  dto.ProductID,
			Quantity:   dto.Quantity,
			PriceAtAdd: dto.PriceAtAdd,
			MRPAtAdd:   dto.MRPAtAdd,
		})
	}
	return lines, true
}

func respondResult(w http.ResponseWriter, result *submit.Result) {
	switch result.Outcome {
	case submit.OutcomeSucceeded:
		respondJSON(w, http.StatusCreated, result)
	case submit.OutcomeAwaitingPayment:
		respondJSON(w, http.StatusAccepted, result)
	case submit.OutcomeDenied:
		if result.RetryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(result.RetryAfter))
		}
		respondJSON(w, http.StatusTooManyRequests, result)
	case submit.OutcomeReviewRequired, submit.OutcomeUnavailable:
		respondJSON(w, http.StatusConflict, result)
	default:
		respondJSON(w, http.StatusBadGateway, result)
	}
}

func handleSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, submit.ErrSubmissionInFlight):
		respondError(w, http.StatusConflict, "in_flight", "a submission is already in progress")
	case errors.Is(err, submit.ErrAttemptCancelled):
		respondError(w, http.StatusConflict, "cancelled", "the attempt was cancelled")
	case errors.Is(err, submit.ErrNoPendingSession):
		respondError(w, http.StatusConflict, "no_session", "no pending payment session")
	case errors.Is(err, payment.ErrSignatureInvalid):
		respondError(w, http.StatusBadRequest, "bad_signature", "payment could not be verified")
	default:
		log.Printf("place order error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not place order")
	}
}
