package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/repricelab/repricer/internal/model"
)

// Gorm implements Repository on a GORM-managed Postgres database.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an open database handle.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// AutoMigrate creates or updates the schema for all core entities.
func (g *Gorm) AutoMigrate() error {
	return g.db.AutoMigrate(
		&model.User{},
		&model.Store{},
		&model.Product{},
		&model.CompetitorOffer{},
		&model.PriceHistory{},
		&model.PricingRule{},
		&model.PushSubscription{},
		&model.Notification{},
	)
}

func (g *Gorm) ActiveStores(ctx context.Context) ([]model.Store, error) {
	var stores []model.Store
	if err := g.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("querying active stores: %w", err)
	}
	return stores, nil
}

func (g *Gorm) ProductsForStore(ctx context.Context, storeID uint) ([]model.Product, error) {
	var products []model.Product
	if err := g.db.WithContext(ctx).Where("store_id = ?", storeID).Order("id").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("querying products for store %d: %w", storeID, err)
	}
	return products, nil
}

func (g *Gorm) PricingRuleForUser(ctx context.Context, userID uint) (*model.PricingRule, error) {
	var rule model.PricingRule
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying pricing rule for user %d: %w", userID, err)
	}
	return &rule, nil
}

func (g *Gorm) ReplaceOffers(ctx context.Context, productID uint, offers []model.CompetitorOffer) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productID).Delete(&model.CompetitorOffer{}).Error; err != nil {
			return err
		}
		if len(offers) == 0 {
			return nil
		}
		return tx.Create(&offers).Error
	})
	if err != nil {
		return fmt.Errorf("replacing offers for product %d: %w", productID, err)
	}
	return nil
}

func (g *Gorm) RecordOwnershipChange(ctx context.Context, product *model.Product, owning bool, owner *string, payloadJSON string, at time.Time) error {
	noteType := model.NotifyBuyBoxLost
	if owning {
		noteType = model.NotifyBuyBoxGained
	}
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"buy_box_owning": owning,
			"buy_box_owner":  owner,
		}
		if err := tx.Model(&model.Product{}).Where("id = ?", product.ID).Updates(updates).Error; err != nil {
			return err
		}
		history := model.PriceHistory{
			ProductID:    product.ID,
			TS:           at,
			Price:        product.Price,
			BuyBoxOwning: owning,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		note := model.Notification{
			UserID:      product.UserID,
			Type:        noteType,
			PayloadJSON: payloadJSON,
			TS:          at,
		}
		return tx.Create(&note).Error
	})
	if err != nil {
		return fmt.Errorf("recording ownership change for product %d: %w", product.ID, err)
	}
	product.BuyBoxOwning = owning
	product.BuyBoxOwner = owner
	return nil
}

func (g *Gorm) CommitReprice(ctx context.Context, product *model.Product, commit RepriceCommit, payloadJSON string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"price":                   commit.NewPrice,
			"competitor_count":        commit.CompetitorCount,
			"lowest_competitor_price": commit.LowestCompetitorPrice,
			"last_repriced_at":        commit.RepricedAt,
		}
		if err := tx.Model(&model.Product{}).Where("id = ?", product.ID).Updates(updates).Error; err != nil {
			return err
		}
		history := model.PriceHistory{
			ProductID:    product.ID,
			TS:           commit.RepricedAt,
			Price:        commit.NewPrice,
			BuyBoxOwning: product.BuyBoxOwning,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		note := model.Notification{
			UserID:      product.UserID,
			Type:        model.NotifyPriceChanged,
			PayloadJSON: payloadJSON,
			TS:          commit.RepricedAt,
		}
		return tx.Create(&note).Error
	})
	if err != nil {
		return fmt.Errorf("committing reprice for product %d: %w", product.ID, err)
	}
	product.Price = commit.NewPrice
	product.CompetitorCount = commit.CompetitorCount
	product.LowestCompetitorPrice = &commit.LowestCompetitorPrice
	repricedAt := commit.RepricedAt
	product.LastRepricedAt = &repricedAt
	return nil
}

func (g *Gorm) DeactivateStore(ctx context.Context, storeID uint) error {
	if err := g.db.WithContext(ctx).Model(&model.Store{}).Where("id = ?", storeID).Update("is_active", false).Error; err != nil {
		return fmt.Errorf("deactivating store %d: %w", storeID, err)
	}
	return nil
}

func (g *Gorm) TouchStoreSync(ctx context.Context, storeID uint, at time.Time) error {
	if err := g.db.WithContext(ctx).Model(&model.Store{}).Where("id = ?", storeID).Update("last_sync", at).Error; err != nil {
		return fmt.Errorf("updating last_sync for store %d: %w", storeID, err)
	}
	return nil
}

func (g *Gorm) PendingNotifications(ctx context.Context) ([]PendingNotification, error) {
	var pending []PendingNotification
	sql := `
		SELECT n.id, n.user_id, n.type, n.payload_json, u.email AS user_email
		FROM notifications n
		INNER JOIN users u ON u.id = n.user_id
		WHERE n.sent = ?
		ORDER BY n.id
	`
	if err := g.db.WithContext(ctx).Raw(sql, false).Scan(&pending).Error; err != nil {
		return nil, fmt.Errorf("querying pending notifications: %w", err)
	}
	return pending, nil
}

func (g *Gorm) PushSubscriptionsForUser(ctx context.Context, userID uint) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := g.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("querying push subscriptions for user %d: %w", userID, err)
	}
	return subs, nil
}

func (g *Gorm) MarkNotificationSent(ctx context.Context, id uint) error {
	if err := g.db.WithContext(ctx).Model(&model.Notification{}).Where("id = ?", id).Update("sent", true).Error; err != nil {
		return fmt.Errorf("marking notification %d sent: %w", id, err)
	}
	return nil
}

var _ Repository = (*Gorm)(nil)
