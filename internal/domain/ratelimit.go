package domain

import "time"

// CancellationExemption is a one-time right to bypass the order rate limits,
// granted when the customer cancels an order. Once Used is set it can never
// re-arm; a new exemption requires a new cancellation.
type CancellationExemption struct {
	OrderID   string    `json:"order_id" bson:"order_id"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
	Used      bool      `json:"used" bson:"used"`
}

func (e *CancellationExemption) Live(now time.Time) bool {
	return e != nil && !e.Used && now.Before(e.ExpiresAt)
}

// RateLimitState is the per-user order history the policy evaluates against.
// It is created lazily on first check and only ever appended to or reset,
// never deleted.
type RateLimitState struct {
	UserID           string                 `json:"user_id" bson:"user_id"`
	ActiveOrderIDs   []string               `json:"active_order_ids" bson:"active_order_ids"`
	RecentOrderTimes []time.Time            `json:"recent_order_times" bson:"recent_order_times"`
	DailyOrderCount  int                    `json:"daily_order_count" bson:"daily_order_count"`
	LastResetDate    string                 `json:"last_reset_date" bson:"last_reset_date"` // YYYY-MM-DD in the engine's location
	Exemption        *CancellationExemption `json:"exemption,omitempty" bson:"exemption,omitempty"`
	CooldownUntil    *time.Time             `json:"cooldown_until,omitempty" bson:"cooldown_until,omitempty"`
	UpdatedAt        time.Time              `json:"updated_at" bson:"updated_at"`
}

// Denial reasons and cooldown types surfaced to the customer.
const (
	DenyReasonCooldown     = "post_exemption_cooldown"
	DenyReasonActiveOrders = "active_order_cap"
	DenyReasonInterval     = "order_interval"
	DenyReasonDailyQuota   = "daily_quota"

	CooldownPostExemption = "post_exemption"

	ExemptionReasonCancellation = "cancellation_exemption"
)

// RateLimitDecision is the pure output of policy + state + clock. It is never
// persisted.
type RateLimitDecision struct {
	Allowed          bool          `json:"allowed"`
	Reason           string        `json:"reason,omitempty"`
	RetryAfter       time.Duration `json:"retry_after,omitempty"`
	ActiveOrderCount int           `json:"active_order_count,omitempty"`
	ExemptionReason  string        `json:"exemption_reason,omitempty"`
	CooldownType     string        `json:"cooldown_type,omitempty"`
	RemainingToday   int           `json:"remaining_today,omitempty"`
	// Fallback marks a decision produced from device-local state because the
	// remote authority was unreachable. Such a decision is advisory.
	Fallback bool `json:"fallback,omitempty"`
}
