package catalog

import (
	"context"
	"errors"

	"github.com/akashsreedhar/order-engine/internal/domain"
)

// MaxBatchSize is the catalog's query fan-out limit. Callers must chunk
// larger id sets before calling GetProducts.
const MaxBatchSize = 10

var (
	ErrBatchTooLarge = errors.New("catalog: batch exceeds fan-out limit")
	ErrUnavailable   = errors.New("catalog: gateway unavailable")
)

// Gateway fetches current price/availability for a set of product ids from
// the remote source of truth.
type Gateway interface {
	GetProducts(ctx context.Context, ids []int64) ([]domain.AuthoritativeProduct, error)
}

// ChunkIDs splits ids into batches no larger than MaxBatchSize.
func ChunkIDs(ids []int64) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]int64, 0, (len(ids)+MaxBatchSize-1)/MaxBatchSize)
	for start := 0; start < len(ids); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
