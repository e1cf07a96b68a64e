// Package buybox determines which offer currently holds the Buy Box.
package buybox

import "github.com/repricelab/repricer/internal/marketplace"

// Resolve picks the Buy Box offer from a competitive snapshot. The
// marketplace's is_buybox flag is authoritative when present; the
// first flagged offer wins. Without a flag the offer with the lowest
// landed price (price + shipping) is assumed to hold it, first
// minimal on ties. Returns nil for an empty snapshot.
func Resolve(offers []marketplace.Offer) *marketplace.Offer {
	if len(offers) == 0 {
		return nil
	}
	for i := range offers {
		if offers[i].IsBuyBox {
			return &offers[i]
		}
	}
	best := 0
	for i := 1; i < len(offers); i++ {
		if offers[i].Total() < offers[best].Total() {
			best = i
		}
	}
	return &offers[best]
}

// Owns reports whether the resolved offer belongs to the given seller.
func Owns(resolved *marketplace.Offer, sellerID string) bool {
	return resolved != nil && resolved.SellerID == sellerID
}
