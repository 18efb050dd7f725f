package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
)

const (
	decisionCacheTTL  = 30 * time.Second
	authorityAttempts = 3
	authorityBackoff  = 200 * time.Millisecond
)

// Engine decides whether a user may place an order right now. When the remote
// authority is reachable it is the sole source of truth; otherwise the same
// rule order runs against device-local state and the decision is flagged as a
// fallback. The fallback deliberately fails open inside the hard local caps
// (availability over strict enforcement).
type Engine struct {
	policy    Policy
	store     StateStore
	orders    OpenOrderLister
	authority Authority // nil when no remote authority is configured
	loc       *time.Location
	decisions *decisionCache
	now       func() time.Time
}

func NewEngine(policy Policy, store StateStore, orders OpenOrderLister, authority Authority, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		policy:    policy,
		store:     store,
		orders:    orders,
		authority: authority,
		loc:       loc,
		decisions: newDecisionCache(decisionCacheTTL),
		now:       time.Now,
	}
}

func (e *Engine) CanPlaceOrder(ctx context.Context, userID string) (*domain.RateLimitDecision, error) {
	if e.authority != nil {
		if cached, ok := e.decisions.get(userID); ok {
			return cached, nil
		}

		decision, err := e.checkAuthority(ctx, userID)
		if err == nil {
			e.decisions.set(userID, decision)
			return decision, nil
		}
		log.Printf("rate limit authority unreachable for user %s, using local state: %v", userID, err)
	}

	decision, err := e.evaluateLocal(ctx, userID)
	if err != nil {
		return nil, err
	}
	decision.Fallback = e.authority != nil
	return decision, nil
}

func (e *Engine) checkAuthority(ctx context.Context, userID string) (*domain.RateLimitDecision, error) {
	var lastErr error
	for attempt := 0; attempt < authorityAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(authorityBackoff << (attempt - 1)):
			}
		}
		decision, err := e.authority.CheckRateLimit(ctx, userID)
		if err == nil {
			return decision, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrAuthorityExhausted, lastErr)
}

func (e *Engine) evaluateLocal(ctx context.Context, userID string) (*domain.RateLimitDecision, error) {
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}

	activeCount := e.reconcileActive(ctx, state)
	return e.policy.Evaluate(state, activeCount, e.now(), e.loc), nil
}

// reconcileActive re-derives the open-order count from the order store. The
// local id list is only used when the store is unreachable.
func (e *Engine) reconcileActive(ctx context.Context, state *domain.RateLimitState) int {
	open, err := e.orders.ListOpenOrders(ctx, state.UserID)
	if err != nil {
		log.Printf("could not list open orders for user %s: %v", state.UserID, err)
		return len(state.ActiveOrderIDs)
	}

	state.ActiveOrderIDs = open
	if errPut := e.store.Put(ctx, state); errPut != nil {
		log.Printf("failed to persist reconciled state for user %s: %v", state.UserID, errPut)
	}
	return len(open)
}

// RecordPlacement registers a newly created order against the user's limits.
func (e *Engine) RecordPlacement(ctx context.Context, userID, orderID string) error {
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return err
	}

	now := e.now()
	state.ActiveOrderIDs = append(state.ActiveOrderIDs, orderID)
	state.RecentOrderTimes = append(pruneTimes(state.RecentOrderTimes, now, e.policy.MinOrderInterval), now)
	state.DailyOrderCount++
	state.UpdatedAt = now
	if err := e.store.Put(ctx, state); err != nil {
		return fmt.Errorf("failed to persist placement: %w", err)
	}
	e.decisions.invalidate(userID)

	if e.authority != nil {
		if errRemote := e.authority.RecordPlacement(ctx, userID, orderID); errRemote != nil {
			log.Printf("failed to record placement with authority for user %s: %v", userID, errRemote)
		}
	}
	return nil
}

// RecordCompletion drops a delivered or otherwise terminal order from the
// active set.
func (e *Engine) RecordCompletion(ctx context.Context, userID, orderID string) error {
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return err
	}

	state.ActiveOrderIDs = removeID(state.ActiveOrderIDs, orderID)
	state.UpdatedAt = e.now()
	if err := e.store.Put(ctx, state); err != nil {
		return fmt.Errorf("failed to persist completion: %w", err)
	}
	e.decisions.invalidate(userID)
	return nil
}

// GrantCancellationExemption arms a fresh one-time exemption after the user
// cancels an order. A previous used exemption is replaced, never re-armed.
func (e *Engine) GrantCancellationExemption(ctx context.Context, userID, orderID string) error {
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return err
	}

	now := e.now()
	state.ActiveOrderIDs = removeID(state.ActiveOrderIDs, orderID)
	state.Exemption = &domain.CancellationExemption{
		OrderID:   orderID,
		ExpiresAt: now.Add(e.policy.ExemptionLifetime),
	}
	state.UpdatedAt = now
	if err := e.store.Put(ctx, state); err != nil {
		return fmt.Errorf("failed to persist exemption: %w", err)
	}
	e.decisions.invalidate(userID)
	return nil
}

// ConsumeExemption marks the live exemption used and immediately arms the
// post-exemption cooldown so exemptions cannot be chained.
func (e *Engine) ConsumeExemption(ctx context.Context, userID string) error {
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return err
	}

	now := e.now()
	if !state.Exemption.Live(now) {
		return ErrNoLiveExemption
	}

	state.Exemption.Used = true
	cooldownUntil := now.Add(e.policy.PostExemptionCooldown)
	state.CooldownUntil = &cooldownUntil
	state.UpdatedAt = now
	if err := e.store.Put(ctx, state); err != nil {
		return fmt.Errorf("failed to persist exemption consumption: %w", err)
	}
	e.decisions.invalidate(userID)

	if e.authority != nil {
		if errRemote := e.authority.UseExemption(ctx, userID); errRemote != nil {
			log.Printf("failed to consume exemption with authority for user %s: %v", userID, errRemote)
		}
	}
	return nil
}

// loadState fetches the user's state, creating it lazily on first use and
// rolling the daily counter exactly once per calendar-day boundary.
func (e *Engine) loadState(ctx context.Context, userID string) (*domain.RateLimitState, error) {
	now := e.now()
	today := dayKey(now, e.loc)

	state, err := e.store.Get(ctx, userID)
	if errors.Is(err, ErrStateNotFound) {
		state = &domain.RateLimitState{
			UserID:        userID,
			LastResetDate: today,
			UpdatedAt:     now,
		}
		if errPut := e.store.Put(ctx, state); errPut != nil {
			return nil, fmt.Errorf("failed to create rate limit state: %w", errPut)
		}
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limit state: %w", err)
	}

	if state.LastResetDate != today {
		state.DailyOrderCount = 0
		state.LastResetDate = today
		state.UpdatedAt = now
		if errPut := e.store.Put(ctx, state); errPut != nil {
			log.Printf("failed to persist daily reset for user %s: %v", userID, errPut)
		}
	}
	return state, nil
}

func pruneTimes(times []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := times[:0]
	for _, ts := range times {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	return kept
}

func removeID(ids []string, id string) []string {
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return kept
}
