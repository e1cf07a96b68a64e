package marketplace

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Client with a token bucket so one store cannot
// exceed the marketplace's request quota during a cycle.
type RateLimited struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with the given steady rate and burst.
func NewRateLimited(inner Client, requestsPerSec float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), burst),
	}
}

func (r *RateLimited) FetchCompetitiveOffers(ctx context.Context, asin, marketplaceID string) ([]Offer, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{ASIN: asin, Err: err}
	}
	return r.inner.FetchCompetitiveOffers(ctx, asin, marketplaceID)
}

func (r *RateLimited) PushPrice(ctx context.Context, sku, sellerID, marketplaceID string, newPrice float64) (PushResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return PushResult{}, &PushError{SKU: sku, Err: err}
	}
	return r.inner.PushPrice(ctx, sku, sellerID, marketplaceID, newPrice)
}
