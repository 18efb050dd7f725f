package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPAuthority is the remote rate-limit check. It does a single round trip
// per call; the engine owns retry and fallback.
type HTTPAuthority struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAuthority(baseURL string) *HTTPAuthority {
	return &HTTPAuthority{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout:   2 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type authorityDecision struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason,omitempty"`
	RetryAfterSecs   int64  `json:"retry_after_seconds,omitempty"`
	ActiveOrderCount int    `json:"active_order_count,omitempty"`
	ExemptionReason  string `json:"exemption_reason,omitempty"`
	CooldownType     string `json:"cooldown_type,omitempty"`
	RemainingToday   int    `json:"remaining_today,omitempty"`
}

func (a *HTTPAuthority) CheckRateLimit(ctx context.Context, userID string) (*domain.RateLimitDecision, error) {
	u := fmt.Sprintf("%s/v1/ratelimit/%s", a.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authority request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authority returned status %d", resp.StatusCode)
	}

	var body authorityDecision
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode authority response: %w", err)
	}

	return &domain.RateLimitDecision{
		Allowed:          body.Allowed,
		Reason:           body.Reason,
		RetryAfter:       time.Duration(body.RetryAfterSecs) * time.Second,
		ActiveOrderCount: body.ActiveOrderCount,
		ExemptionReason:  body.ExemptionReason,
		CooldownType:     body.CooldownType,
		RemainingToday:   body.RemainingToday,
	}, nil
}

func (a *HTTPAuthority) RecordPlacement(ctx context.Context, userID, orderID string) error {
	return a.post(ctx, fmt.Sprintf("%s/v1/ratelimit/%s/placements", a.baseURL, userID),
		map[string]string{"order_id": orderID})
}

func (a *HTTPAuthority) UseExemption(ctx context.Context, userID string) error {
	return a.post(ctx, fmt.Sprintf("%s/v1/ratelimit/%s/exemption/consume", a.baseURL, userID), nil)
}

func (a *HTTPAuthority) post(ctx context.Context, u string, payload any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("authority request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("authority returned status %d", resp.StatusCode)
	}
	return nil
}
