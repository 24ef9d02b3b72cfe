package providers

import (
	"context"
	"errors"

	"pricehub/internal/domain"
)

// Provider explicitly reported no data for the key. This is a business
// outcome, not a provider fault; callers must not count it toward breaker
// thresholds
var ErrNoData = errors.New("provider has no data for key")

// Fallback HTTP source of token prices
type TokenProvider interface {
	Name() string
	Lookup(ctx context.Context, key string) (*domain.PriceTick, error)
}

// Token provider that can price many keys in one request
type BatchTokenProvider interface {
	TokenProvider
	LookupBatch(ctx context.Context, keys []string) (map[string]*domain.PriceTick, error)
}

// Source of the quote-currency USD rate
type RateProvider interface {
	Name() string
	QuoteRate(ctx context.Context) (float64, error)
}
