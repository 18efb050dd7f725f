package cache

import (
	"context"
	"errors"

	"github.com/akashsreedhar/order-engine/internal/domain"
)

// PriceCache memoizes authoritative product lookups for a short window so
// rapid UI interaction does not hammer the catalog. Entries expire on their
// own; callers never treat a hit as more than a hint.
type PriceCache interface {
	Get(ctx context.Context, productID int64) (*domain.AuthoritativeProduct, error)
	Set(ctx context.Context, product domain.AuthoritativeProduct) error
	Delete(ctx context.Context, productID int64) error
}

var ErrCacheMiss = errors.New("cache miss")
