package ratelimit

import (
	"testing"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionCache_HitWithinTTL(t *testing.T) {
	cache := newDecisionCache(time.Minute)
	cache.set("u1", &domain.RateLimitDecision{Allowed: true})

	got, ok := cache.get("u1")
	require.True(t, ok)
	assert.True(t, got.Allowed)
}

func TestDecisionCache_MissAfterExpiry(t *testing.T) {
	cache := newDecisionCache(10 * time.Millisecond)
	cache.set("u1", &domain.RateLimitDecision{Allowed: true})

	time.Sleep(20 * time.Millisecond)

	_, ok := cache.get("u1")
	assert.False(t, ok)
}

func TestDecisionCache_Invalidate(t *testing.T) {
	cache := newDecisionCache(time.Minute)
	cache.set("u1", &domain.RateLimitDecision{Allowed: true})
	cache.invalidate("u1")

	_, ok := cache.get("u1")
	assert.False(t, ok)
}

func TestDecisionCache_UnknownUser(t *testing.T) {
	cache := newDecisionCache(time.Minute)

	_, ok := cache.get("nobody")
	assert.False(t, ok)
}
