package ratelimit

import (
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
)

// Policy holds the order-placement limits. The same rule order runs against
// the remote authority's view and the device-local fallback state.
type Policy struct {
	MaxActiveOrders       int
	MinOrderInterval      time.Duration
	DailyQuota            int
	ExemptionLifetime     time.Duration
	PostExemptionCooldown time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxActiveOrders:       2,
		MinOrderInterval:      5 * time.Minute,
		DailyQuota:            20,
		ExemptionLifetime:     30 * time.Minute,
		PostExemptionCooldown: 5 * time.Minute,
	}
}

// Evaluate applies the rules in order, first hit wins:
// post-exemption cooldown, live exemption bypass, active-order cap,
// inter-order interval, daily quota. activeCount is the reconciled open-order
// count; pass len(state.ActiveOrderIDs) when the order store is unreachable.
func (p Policy) Evaluate(state *domain.RateLimitState, activeCount int, now time.Time, loc *time.Location) *domain.RateLimitDecision {
	if state.CooldownUntil != nil && now.Before(*state.CooldownUntil) {
		return &domain.RateLimitDecision{
			Allowed:      false,
			Reason:       domain.DenyReasonCooldown,
			CooldownType: domain.CooldownPostExemption,
			RetryAfter:   state.CooldownUntil.Sub(now),
		}
	}

	if state.Exemption.Live(now) {
		// Bypasses every rule below. Consumption is explicit and happens
		// only once the order actually proceeds.
		return &domain.RateLimitDecision{
			Allowed:         true,
			ExemptionReason: domain.ExemptionReasonCancellation,
		}
	}

	if activeCount >= p.MaxActiveOrders {
		return &domain.RateLimitDecision{
			Allowed:          false,
			Reason:           domain.DenyReasonActiveOrders,
			ActiveOrderCount: activeCount,
		}
	}

	// The interval clears oldest-first, so the remaining wait on the oldest
	// offending timestamp is the shortest correct answer.
	var oldest time.Time
	for _, ts := range state.RecentOrderTimes {
		if now.Sub(ts) < p.MinOrderInterval {
			if oldest.IsZero() || ts.Before(oldest) {
				oldest = ts
			}
		}
	}
	if !oldest.IsZero() {
		return &domain.RateLimitDecision{
			Allowed:    false,
			Reason:     domain.DenyReasonInterval,
			RetryAfter: p.MinOrderInterval - now.Sub(oldest),
		}
	}

	if state.DailyOrderCount >= p.DailyQuota {
		return &domain.RateLimitDecision{
			Allowed:    false,
			Reason:     domain.DenyReasonDailyQuota,
			RetryAfter: untilNextMidnight(now, loc),
		}
	}

	return &domain.RateLimitDecision{
		Allowed:          true,
		ActiveOrderCount: activeCount,
		RemainingToday:   p.DailyQuota - state.DailyOrderCount,
	}
}

// dayKey identifies a calendar day in the engine's location, used to detect
// the daily-quota boundary.
func dayKey(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}

func untilNextMidnight(now time.Time, loc *time.Location) time.Duration {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return midnight.Sub(local)
}
