package ratelimit

import (
	"sync"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
)

// decisionCache absorbs repeated UI-triggered checks against the remote
// authority for a few tens of seconds.
type decisionCache struct {
	mu    sync.Mutex
	items map[string]decisionEntry
	ttl   time.Duration
}

type decisionEntry struct {
	decision  *domain.RateLimitDecision
	expiresAt time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{
		items: make(map[string]decisionEntry),
		ttl:   ttl,
	}
}

func (c *decisionCache) get(userID string) (*domain.RateLimitDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[userID]; ok {
		if time.Now().Before(item.expiresAt) {
			return item.decision, true
		}
		delete(c.items, userID)
	}
	return nil, false
}

func (c *decisionCache) set(userID string, decision *domain.RateLimitDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[userID] = decisionEntry{
		decision:  decision,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *decisionCache) invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, userID)
}
