package http

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the checkout endpoints.
func NewRouter(handler *CheckoutHandler, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/validate", handler.Validate)
			r.Post("/place", handler.PlaceOrder)
			r.Post("/cancel", handler.CancelCheckout)
		})
		r.Post("/payment/callback", handler.PaymentCallback)
		r.Post("/orders/{order_id}/cancel", handler.CancelOrder)
		r.Get("/ratelimit/{user_id}", handler.RateLimitStatus)
	})

	return r
}

type rateLimitDecisionDTO struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason,omitempty"`
	RetryAfterSecs   int64  `json:"retry_after_seconds,omitempty"`
	ActiveOrderCount int    `json:"active_order_count,omitempty"`
	ExemptionReason  string `json:"exemption_reason,omitempty"`
	CooldownType     string `json:"cooldown_type,omitempty"`
	RemainingToday   int    `json:"remaining_today,omitempty"`
	Fallback         bool   `json:"fallback,omitempty"`
}

func decisionDTO(d *domain.RateLimitDecision) rateLimitDecisionDTO {
	return rateLimitDecisionDTO{
		Allowed:          d.Allowed,
		Reason:           d.Reason,
		RetryAfterSecs:   int64(d.RetryAfter.Seconds() + 0.5),
		ActiveOrderCount: d.ActiveOrderCount,
		ExemptionReason:  d.ExemptionReason,
		CooldownType:     d.CooldownType,
		RemainingToday:   d.RemainingToday,
		Fallback:         d.Fallback,
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64(d.Seconds() + 0.5)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
