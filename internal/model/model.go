package model

import "time"

// User owns stores and receives notifications. Only the fields the
// repricing core reads are modeled here; registration and billing live
// in the surrounding application.
type User struct {
	ID    uint   `gorm:"primaryKey"`
	Email string `gorm:"size:255;uniqueIndex"`
}

// Store is a seller's connected marketplace account. Stores are
// deactivated on disconnect or credential failure, never deleted.
type Store struct {
	ID     uint `gorm:"primaryKey"`
	UserID uint `gorm:"index"`

	SellingPartnerID string `gorm:"size:64"`
	// RefreshToken is stored sealed; see internal/credentials.
	RefreshToken   string `gorm:"type:text"`
	Region         string `gorm:"size:32"`
	MarketplaceIDs string `gorm:"size:255"` // comma-separated

	StoreName string `gorm:"size:255"`

	IsActive  bool `gorm:"default:true"`
	LastSync  *time.Time
	CreatedAt time.Time
}

// PrimaryMarketplaceID returns the first configured marketplace,
// defaulting to the US marketplace when none is set.
func (s *Store) PrimaryMarketplaceID() string {
	ids := s.MarketplaceIDs
	for i := 0; i < len(ids); i++ {
		if ids[i] == ',' {
			ids = ids[:i]
			break
		}
	}
	if ids == "" {
		return "ATVPDKIKX0DER"
	}
	return ids
}

// Product is one marketplace listing within a store.
type Product struct {
	ID      uint `gorm:"primaryKey"`
	UserID  uint `gorm:"index"`
	StoreID uint `gorm:"index;index:idx_products_store_sku,unique"`

	// SKU is unique per store, not globally.
	SKU           string `gorm:"size:64;index:idx_products_store_sku,unique"`
	ASIN          string `gorm:"size:16"`
	Title         string `gorm:"size:512"`
	ConditionType string `gorm:"size:32;default:New"`

	Price    float64
	Currency string   `gorm:"size:8;default:USD"`
	MinPrice *float64 // nil means no configured floor
	MaxPrice *float64 // nil means no configured ceiling

	StockQty     int `gorm:"default:0"`
	BuyBoxOwner  *string
	BuyBoxOwning bool `gorm:"default:false"`

	RepricingEnabled    bool   `gorm:"default:false"`
	RepricingStrategy   string `gorm:"size:32;default:win_buybox"`
	TargetMarginPercent *float64

	CompetitorCount       int `gorm:"default:0"`
	LowestCompetitorPrice *float64
	LastRepricedAt        *time.Time
}

// PriceHistory is the append-only audit log of repricing activity.
type PriceHistory struct {
	ID           uint      `gorm:"primaryKey"`
	ProductID    uint      `gorm:"index"`
	TS           time.Time `gorm:"index"`
	Price        float64
	BuyBoxOwning bool
}

// CompetitorOffer is a short-lived snapshot of one competing offer.
// The orchestrator fully replaces a product's rows every cycle.
type CompetitorOffer struct {
	ID        uint      `gorm:"primaryKey"`
	ProductID uint      `gorm:"index"`
	TS        time.Time
	SellerID  string `gorm:"size:64"`
	Price     float64
	Shipping  float64 `gorm:"default:0"`
	IsBuyBox  bool    `gorm:"default:false"`
}

// PricingRule is a user-level rule supplying a floor and a max-price
// formula for products without explicit bounds.
type PricingRule struct {
	ID              uint `gorm:"primaryKey"`
	UserID          uint `gorm:"index"`
	MinPrice        float64
	MaxPriceFormula string `gorm:"size:128;default:current_price * 1.9"`
	Strategy        string `gorm:"size:32;default:win_buybox"`
}

// PushSubscription is a registered web-push endpoint for a user.
type PushSubscription struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   uint   `gorm:"index"`
	Endpoint string `gorm:"type:text"`
	P256DH   string `gorm:"type:text"`
	Auth     string `gorm:"type:text"`
}

// Notification event types emitted by the repricing cycle.
const (
	NotifyBuyBoxGained = "BUYBOX_GAINED"
	NotifyBuyBoxLost   = "BUYBOX_LOST"
	NotifyPriceChanged = "PRICE_CHANGED"
)

// Notification is a queued user-facing event. Delivery is at-least-once:
// the dispatcher marks it sent after the attempt, so a crash in between
// may duplicate a notification but never lose one.
type Notification struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"index"`
	Type        string `gorm:"size:64"`
	PayloadJSON string `gorm:"type:text"`
	TS          time.Time
	Sent        bool `gorm:"default:false;index"`
}
