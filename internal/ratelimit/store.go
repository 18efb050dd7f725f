package ratelimit

import (
	"context"
	"errors"

	"github.com/akashsreedhar/order-engine/internal/domain"
)

var (
	ErrStateNotFound      = errors.New("rate limit state not found")
	ErrNoLiveExemption    = errors.New("no live exemption to consume")
	ErrAuthorityExhausted = errors.New("rate limit authority unreachable after retries")
)

// StateStore persists per-user RateLimitState. The store is device/engine
// scoped and advisory; the remote authority, when reachable, wins.
type StateStore interface {
	Get(ctx context.Context, userID string) (*domain.RateLimitState, error)
	Put(ctx context.Context, state *domain.RateLimitState) error
}

// Authority is the optional remote rate-limit check. When reachable it is the
// sole source of truth.
type Authority interface {
	CheckRateLimit(ctx context.Context, userID string) (*domain.RateLimitDecision, error)
	RecordPlacement(ctx context.Context, userID, orderID string) error
	UseExemption(ctx context.Context, userID string) error
}

// OpenOrderLister re-derives the live active-order count from the order store
// instead of trusting the locally cached id list.
type OpenOrderLister interface {
	ListOpenOrders(ctx context.Context, userID string) ([]string, error)
}
