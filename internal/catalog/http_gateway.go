package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 3 * time.Second
	maxAttempts    = 3
	retryBackoff   = 100 * time.Millisecond
)

// HTTPGateway talks to the catalog service over HTTP. Calls go through a
// circuit breaker so a flapping catalog does not stall every checkout.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]domain.AuthoritativeProduct]
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	settings := gobreaker.Settings{
		Name:    "catalog-gateway",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	return &HTTPGateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker[[]domain.AuthoritativeProduct](settings),
	}
}

type productsResponse struct {
	Products []domain.AuthoritativeProduct `json:"products"`
}

// GetProducts fetches up to MaxBatchSize products in one round trip. The
// response omits ids the catalog does not know; callers treat a missing id as
// unavailable.
func (g *HTTPGateway) GetProducts(ctx context.Context, ids []int64) ([]domain.AuthoritativeProduct, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	products, err := g.breaker.Execute(func() ([]domain.AuthoritativeProduct, error) {
		return g.fetchWithRetry(ctx, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return products, nil
}

func (g *HTTPGateway) fetchWithRetry(ctx context.Context, ids []int64) ([]domain.AuthoritativeProduct, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff << (attempt - 1)):
			}
		}

		products, err := g.fetch(ctx, ids)
		if err == nil {
			return products, nil
		}
		lastErr = err
		log.Printf("catalog fetch attempt %d failed: %v", attempt+1, err)
	}
	return nil, lastErr
}

func (g *HTTPGateway) fetch(ctx context.Context, ids []int64) ([]domain.AuthoritativeProduct, error) {
	joined := make([]string, len(ids))
	for i, id := range ids {
		joined[i] = strconv.FormatInt(id, 10)
	}

	u := fmt.Sprintf("%s/v1/products?ids=%s", g.baseURL, url.QueryEscape(strings.Join(joined, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var body productsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return body.Products, nil
}
