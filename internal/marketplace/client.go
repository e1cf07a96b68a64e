// Package marketplace defines the sync client contract between the
// repricing cycle and the seller's marketplace, plus the client
// implementations the host binary can choose from.
package marketplace

import (
	"context"

	"github.com/repricelab/repricer/internal/model"
)

// Offer is one competing seller's observed offer for a listing.
type Offer struct {
	SellerID string  `json:"seller_id"`
	Price    float64 `json:"price"`
	Shipping float64 `json:"shipping"`
	IsBuyBox bool    `json:"is_buybox"`
}

// Total returns the landed price used for all competitive comparisons.
func (o Offer) Total() float64 {
	return o.Price + o.Shipping
}

// PushResult reports the marketplace's response to a price update.
type PushResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// Client talks to the marketplace on behalf of one store. Both calls
// are blocking network operations; the implementation owns its own
// timeout and retry policy.
type Client interface {
	FetchCompetitiveOffers(ctx context.Context, asin, marketplaceID string) ([]Offer, error)
	PushPrice(ctx context.Context, sku, sellerID, marketplaceID string, newPrice float64) (PushResult, error)
}

// Factory builds a Client bound to one store's credentials. The
// store's refresh token is decrypted inside ClientFor and nowhere
// else; the returned Client holds only an opaque session.
type Factory interface {
	ClientFor(ctx context.Context, store *model.Store) (Client, error)
}
