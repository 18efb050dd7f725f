package orders

import (
	"context"
	"errors"

	"github.com/akashsreedhar/order-engine/internal/domain"
)

var ErrOrderNotFound = errors.New("order not found")

// Store is the authoritative order record store. CreateOrder must be
// idempotent on the key: a duplicate create returns the id of the order the
// key originally produced, because network retries can duplicate the request
// below the UI layer.
type Store interface {
	CreateOrder(ctx context.Context, draft *domain.OrderDraft, idempotencyKey string) (string, error)
	ListOpenOrders(ctx context.Context, userID string) ([]string, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
}
