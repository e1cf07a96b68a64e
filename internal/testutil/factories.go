// Package testutil provides seeded factories for building test
// fixtures across packages.
package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/repricelab/repricer/internal/marketplace"
	"github.com/repricelab/repricer/internal/model"
)

// Factory generates deterministic test data from a seed.
type Factory struct {
	rand *rand.Rand
	next uint
}

// NewFactory creates a factory. Seed zero uses the current time.
func NewFactory(seed int64) *Factory {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{rand: rand.New(rand.NewSource(seed)), next: 1}
}

func (f *Factory) nextID() uint {
	id := f.next
	f.next++
	return id
}

// User builds a user with a unique email.
func (f *Factory) User() model.User {
	id := f.nextID()
	return model.User{
		ID:    id,
		Email: fmt.Sprintf("seller%d@example.test", id),
	}
}

// Store builds an active store owned by the user.
func (f *Factory) Store(userID uint) model.Store {
	id := f.nextID()
	return model.Store{
		ID:               id,
		UserID:           userID,
		SellingPartnerID: fmt.Sprintf("SP%06d", f.rand.Intn(1000000)),
		RefreshToken:     fmt.Sprintf("token-%d", f.rand.Int63()),
		Region:           "na",
		MarketplaceIDs:   "ATVPDKIKX0DER",
		StoreName:        fmt.Sprintf("Test Store %d", id),
		IsActive:         true,
		CreatedAt:        time.Now(),
	}
}

// Product builds a repricing-enabled product in the store.
func (f *Factory) Product(store model.Store, price float64) model.Product {
	id := f.nextID()
	return model.Product{
		ID:                id,
		UserID:            store.UserID,
		StoreID:           store.ID,
		SKU:               fmt.Sprintf("SKU-%04d", id),
		ASIN:              fmt.Sprintf("B%09d", f.rand.Intn(1000000000)),
		Title:             fmt.Sprintf("Test Product %d", id),
		Price:             price,
		Currency:          "USD",
		StockQty:          f.rand.Intn(100) + 1,
		RepricingEnabled:  true,
		RepricingStrategy: "win_buybox",
	}
}

// Offer builds a competing offer at the given landed price split
// between price and shipping.
func (f *Factory) Offer(sellerID string, price, shipping float64, isBuyBox bool) marketplace.Offer {
	return marketplace.Offer{
		SellerID: sellerID,
		Price:    price,
		Shipping: shipping,
		IsBuyBox: isBuyBox,
	}
}
