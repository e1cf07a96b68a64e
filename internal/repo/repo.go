// Package repo is the transactional persistence layer for the
// repricing cycle. Every invariant-bearing write (offer replacement,
// ownership flips, reprice commits) is a single coarse operation so
// implementations can make it one transaction.
package repo

import (
	"context"
	"time"

	"github.com/repricelab/repricer/internal/model"
)

// PendingNotification is an unsent notification joined to its owner.
type PendingNotification struct {
	ID          uint
	UserID      uint
	Type        string
	PayloadJSON string
	UserEmail   string
}

// RepriceCommit carries the product mutations of one applied reprice.
type RepriceCommit struct {
	NewPrice              float64
	CompetitorCount       int
	LowestCompetitorPrice float64
	RepricedAt            time.Time
}

// Repository is the storage contract consumed by the cycle engine and
// the notification dispatcher. Implementations must provide at least
// read-committed isolation.
type Repository interface {
	// ActiveStores returns all stores with is_active=true.
	ActiveStores(ctx context.Context) ([]model.Store, error)

	// ProductsForStore returns the store's products. The returned
	// slice is the cycle's snapshot: repricing_enabled is read here
	// once and not re-read mid-cycle.
	ProductsForStore(ctx context.Context, storeID uint) ([]model.Product, error)

	// PricingRuleForUser returns the user's pricing rule, or nil
	// when none is configured.
	PricingRuleForUser(ctx context.Context, userID uint) (*model.PricingRule, error)

	// ReplaceOffers atomically deletes the product's prior offer
	// rows and inserts the fresh set. A concurrent reader never
	// observes the gap between delete and insert.
	ReplaceOffers(ctx context.Context, productID uint, offers []model.CompetitorOffer) error

	// RecordOwnershipChange flips the product's Buy Box flag and, in
	// the same transaction, appends a PriceHistory row at the
	// current price and queues an ownership notification. On success
	// the passed product is updated in place.
	RecordOwnershipChange(ctx context.Context, product *model.Product, owning bool, owner *string, payloadJSON string, at time.Time) error

	// CommitReprice applies a confirmed price change: product price,
	// competitor stats and last_repriced_at, plus a PriceHistory row
	// and a price-change notification, all in one transaction. On
	// success the passed product is updated in place.
	CommitReprice(ctx context.Context, product *model.Product, commit RepriceCommit, payloadJSON string) error

	// DeactivateStore flips is_active off. Stores are never deleted.
	DeactivateStore(ctx context.Context, storeID uint) error

	// TouchStoreSync records the end of a successful store pass.
	TouchStoreSync(ctx context.Context, storeID uint, at time.Time) error

	// PendingNotifications returns all sent=false notifications
	// joined to their owning user's email, oldest first.
	PendingNotifications(ctx context.Context) ([]PendingNotification, error)

	// PushSubscriptionsForUser returns the user's registered push
	// endpoints.
	PushSubscriptionsForUser(ctx context.Context, userID uint) ([]model.PushSubscription, error)

	// MarkNotificationSent flags a notification as delivered (or
	// delivery-attempted; the dispatcher does not retry).
	MarkNotificationSent(ctx context.Context, id uint) error
}
