package validator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/akashsreedhar/order-engine/internal/cache"
	"github.com/akashsreedhar/order-engine/internal/catalog"
	"github.com/akashsreedhar/order-engine/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	// priceTolerance absorbs floating-point noise; deltas at or below it are
	// treated as unchanged.
	priceTolerance = 0.01

	// Per-line magnitude thresholds, in percent of the snapshot price.
	mediumChangePercent = 5.0
	highChangePercent   = 20.0

	// Aggregate price-impact thresholds, in currency units.
	mediumImpactThreshold = 25.0
	highImpactThreshold   = 100.0
)

// Validator compares a cart snapshot against the authoritative catalog and
// classifies the drift. forceFresh must be set at the final checkout gate;
// cached reads are acceptable only for incidental background checks.
type Validator struct {
	gateway catalog.Gateway
	cache   cache.PriceCache
	sfg     singleflight.Group // Prevents duplicate in-flight batch lookups
	now     func() time.Time
}

func New(gateway catalog.Gateway, priceCache cache.PriceCache) *Validator {
	return &Validator{
		gateway: gateway,
		cache:   priceCache,
		now:     time.Now,
	}
}

func (v *Validator) Validate(ctx context.Context, lines []domain.CartLineSnapshot, forceFresh bool) (*domain.ValidationOutcome, error) {
	if len(lines) == 0 {
		return &domain.ValidationOutcome{
			IsValid:     true,
			RiskTier:    domain.RiskLow,
			EvaluatedAt: v.now(),
		}, nil
	}

	ids := uniqueIDs(lines)

	var (
		products map[int64]domain.AuthoritativeProduct
		err      error
	)
	if forceFresh {
		products, err = v.fetchAuthoritative(ctx, ids)
		if err != nil {
			log.Printf("server-first validation failed, trying cache fallback: %v", err)
			products, err = v.resolveViaCache(ctx, ids)
		}
	} else {
		products, err = v.resolveViaCache(ctx, ids)
	}

	if err != nil {
		// Total outage. Never silently approve unseen prices.
		return failClosed(lines, err, v.now()), nil
	}

	return v.compare(lines, products), nil
}

// fetchAuthoritative is the server-first path: batched lookups straight to
// the catalog, cache repopulated wholesale on success.
func (v *Validator) fetchAuthoritative(ctx context.Context, ids []int64) (map[int64]domain.AuthoritativeProduct, error) {
	products := make(map[int64]domain.AuthoritativeProduct, len(ids))
	for _, batch := range catalog.ChunkIDs(ids) {
		fetched, err := v.fetchBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, p := range fetched {
			products[p.ProductID] = p
		}
	}
	return products, nil
}

// resolveViaCache consults the validation cache per line and issues batched
// lookups only for misses and expired entries.
func (v *Validator) resolveViaCache(ctx context.Context, ids []int64) (map[int64]domain.AuthoritativeProduct, error) {
	products := make(map[int64]domain.AuthoritativeProduct, len(ids))
	var misses []int64

	for _, id := range ids {
		cached, err := v.cache.Get(ctx, id)
		if err == nil {
			products[id] = *cached
			continue
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("cache get error for product %d: %v", id, err)
		}
		misses = append(misses, id)
	}

	for _, batch := range catalog.ChunkIDs(misses) {
		fetched, err := v.fetchBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("cache fallback lookup failed: %w", err)
		}
		for _, p := range fetched {
			products[p.ProductID] = p
		}
	}
	return products, nil
}

// fetchBatch collapses concurrent identical batch lookups and repopulates the
// cache with whatever comes back.
func (v *Validator) fetchBatch(ctx context.Context, ids []int64) ([]domain.AuthoritativeProduct, error) {
	result, err, _ := v.sfg.Do(batchKey(ids), func() (interface{}, error) {
		fetched, errFetch := v.gateway.GetProducts(ctx, ids)
		if errFetch != nil {
			return nil, errFetch
		}

		for _, p := range fetched {
			if errSet := v.cache.Set(ctx, p); errSet != nil {
				log.Printf("cache set error for product %d: %v", p.ProductID, errSet)
			}
		}
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.AuthoritativeProduct), nil
}

func (v *Validator) compare(lines []domain.CartLineSnapshot, products map[int64]domain.AuthoritativeProduct) *domain.ValidationOutcome {
	outcome := &domain.ValidationOutcome{
		RiskTier:       domain.RiskLow,
		CorrectedLines: make([]domain.CorrectedLine, 0, len(lines)),
		EvaluatedAt:    v.now(),
	}

	var aggregateImpact float64

	for _, line := range lines {
		product, exists := products[line.ProductID]
		if !exists || !product.Available {
			outcome.UnavailableLines = append(outcome.UnavailableLines, line)
			outcome.RiskTier = outcome.RiskTier.Escalate(domain.RiskHigh)
			continue
		}

		corrected := domain.CorrectedLine{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			Price:       product.SellingPrice,
			MRP:         product.MRP,
			DisplayName: product.DisplayName,
			Category:    product.Category,
		}
		outcome.CorrectedLines = append(outcome.CorrectedLines, corrected)

		if product.StockCount != nil && *product.StockCount < line.Quantity {
			outcome.StockWarnings = append(outcome.StockWarnings, domain.StockWarning{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				InStock:   *product.StockCount,
			})
		}

		delta := product.SellingPrice - line.PriceAtAdd
		if math.Abs(delta) <= priceTolerance {
			continue
		}

		outcome.HasChanges = true
		percent := 0.0
		if line.PriceAtAdd > 0 {
			percent = math.Abs(delta) / line.PriceAtAdd * 100
		}
		outcome.PriceDeltas = append(outcome.PriceDeltas, domain.PriceDelta{
			ProductID:     line.ProductID,
			OldPrice:      line.PriceAtAdd,
			NewPrice:      product.SellingPrice,
			Delta:         delta,
			PercentChange: percent,
		})

		aggregateImpact += math.Abs(delta) * float64(line.Quantity)

		switch {
		case percent > highChangePercent || (line.PriceAtAdd <= 0 && delta > 0):
			outcome.RiskTier = outcome.RiskTier.Escalate(domain.RiskHigh)
		case percent > mediumChangePercent:
			outcome.RiskTier = outcome.RiskTier.Escalate(domain.RiskMedium)
		}
	}

	switch {
	case aggregateImpact > highImpactThreshold:
		outcome.RiskTier = outcome.RiskTier.Escalate(domain.RiskHigh)
	case aggregateImpact > mediumImpactThreshold:
		outcome.RiskTier = outcome.RiskTier.Escalate(domain.RiskMedium)
	}

	outcome.IsValid = !outcome.HasChanges &&
		len(outcome.UnavailableLines) == 0 &&
		len(outcome.StockWarnings) == 0
	return outcome
}

// failClosed carries the original, uncorrected lines so nothing proceeds on
// prices nobody has seen.
func failClosed(lines []domain.CartLineSnapshot, cause error, at time.Time) *domain.ValidationOutcome {
	corrected := make([]domain.CorrectedLine, 0, len(lines))
	for _, line := range lines {
		corrected = append(corrected, domain.CorrectedLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.PriceAtAdd,
			MRP:       line.MRPAtAdd,
		})
	}
	return &domain.ValidationOutcome{
		IsValid:        false,
		RiskTier:       domain.RiskHigh,
		CorrectedLines: corrected,
		FailureReason:  fmt.Sprintf("could not reach catalog: %v", cause),
		EvaluatedAt:    at,
	}
}

func uniqueIDs(lines []domain.CartLineSnapshot) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func batchKey(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
