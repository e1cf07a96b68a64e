// Package cycle runs the periodic repricing pass: fetch each active
// store's competitive landscape, resolve Buy Box ownership, compute a
// target price per product, and write back confirmed changes with
// full audit history.
package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/repricelab/repricer/internal/buybox"
	"github.com/repricelab/repricer/internal/formula"
	"github.com/repricelab/repricer/internal/marketplace"
	"github.com/repricelab/repricer/internal/model"
	"github.com/repricelab/repricer/internal/notify"
	"github.com/repricelab/repricer/internal/repo"
	"github.com/repricelab/repricer/internal/strategy"
)

// Summary aggregates the outcome of one cycle.
type Summary struct {
	RunID          string
	Stores         int
	StoresFailed   int
	Products       int
	Repriced       int
	Skipped        int
	Errors         int
	OwnershipFlips int
	Started        time.Time
	Duration       time.Duration
}

// Engine orchestrates one repricing cycle at a time. Failure in one
// product or store never propagates to its siblings; only a failure
// to list stores at all aborts the cycle.
type Engine struct {
	repo       repo.Repository
	clients    marketplace.Factory
	dispatcher *notify.Dispatcher
	log        *zap.Logger
	now        func() time.Time
}

// NewEngine creates a cycle engine.
func NewEngine(r repo.Repository, clients marketplace.Factory, dispatcher *notify.Dispatcher, log *zap.Logger) *Engine {
	return &Engine{
		repo:       r,
		clients:    clients,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// Run executes one full cycle over all active stores, then flushes
// the notification queue. Everything committed per-store stays
// committed even when a later store fails.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:   uuid.NewString(),
		Started: e.now(),
	}
	log := e.log.With(zap.String("run_id", summary.RunID))

	stores, err := e.repo.ActiveStores(ctx)
	if err != nil {
		log.Error("cannot list active stores, aborting cycle", zap.Error(err))
		return nil, fmt.Errorf("listing active stores: %w", err)
	}
	summary.Stores = len(stores)
	log.Info("cycle started", zap.Int("stores", len(stores)))

	for i := range stores {
		if err := e.processStore(ctx, log, &stores[i], summary); err != nil {
			summary.StoresFailed++
			log.Error("store pass failed",
				zap.Uint("store_id", stores[i].ID),
				zap.String("store", stores[i].StoreName),
				zap.Error(err))
		}
	}

	if e.dispatcher != nil {
		e.dispatcher.Flush(ctx)
	}

	summary.Duration = e.now().Sub(summary.Started)
	log.Info("cycle finished",
		zap.Int("products", summary.Products),
		zap.Int("repriced", summary.Repriced),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Int("ownership_flips", summary.OwnershipFlips),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// processStore runs one store's product loop. An auth-class failure
// deactivates the store and abandons its remaining products; any
// other per-product failure is logged and skipped.
func (e *Engine) processStore(ctx context.Context, log *zap.Logger, store *model.Store, summary *Summary) error {
	log = log.With(zap.Uint("store_id", store.ID))

	client, err := e.clients.ClientFor(ctx, store)
	if err != nil {
		if marketplace.IsAuth(err) {
			e.deactivate(ctx, log, store, err)
			return nil
		}
		return fmt.Errorf("building marketplace client: %w", err)
	}

	// Snapshot of the store's products, including repricing_enabled:
	// a user toggle mid-cycle takes effect next cycle.
	products, err := e.repo.ProductsForStore(ctx, store.ID)
	if err != nil {
		return fmt.Errorf("loading products: %w", err)
	}

	rule, err := e.repo.PricingRuleForUser(ctx, store.UserID)
	if err != nil {
		log.Warn("loading pricing rule", zap.Error(err))
		rule = nil
	}

	for i := range products {
		summary.Products++
		err := e.processProduct(ctx, log, client, store, &products[i], rule, summary)
		if err == nil {
			continue
		}
		if marketplace.IsAuth(err) {
			e.deactivate(ctx, log, store, err)
			return nil
		}
		summary.Errors++
		log.Warn("product skipped",
			zap.String("sku", products[i].SKU),
			zap.String("asin", products[i].ASIN),
			zap.Error(err))
	}

	if err := e.repo.TouchStoreSync(ctx, store.ID, e.now()); err != nil {
		log.Warn("updating last_sync", zap.Error(err))
	}
	return nil
}

func (e *Engine) processProduct(ctx context.Context, log *zap.Logger, client marketplace.Client, store *model.Store, product *model.Product, rule *model.PricingRule, summary *Summary) error {
	marketplaceID := store.PrimaryMarketplaceID()

	offers, err := client.FetchCompetitiveOffers(ctx, product.ASIN, marketplaceID)
	if err != nil {
		// Auth errors bubble to the store loop; anything else skips
		// the product with no partial offer write.
		return err
	}

	if err := e.repo.ReplaceOffers(ctx, product.ID, toOfferRows(product.ID, offers, e.now())); err != nil {
		return err
	}

	resolved := buybox.Resolve(offers)
	owning := buybox.Owns(resolved, store.SellingPartnerID)
	if owning != product.BuyBoxOwning {
		if err := e.recordOwnershipFlip(ctx, product, resolved, owning); err != nil {
			return err
		}
		summary.OwnershipFlips++
		log.Info("buy box ownership changed",
			zap.String("asin", product.ASIN),
			zap.Bool("owning", owning))
	}

	if !product.RepricingEnabled {
		return nil
	}

	decision := strategy.Calculate(e.withEffectiveBounds(log, product, rule), offers)
	if !decision.ShouldReprice {
		summary.Skipped++
		return nil
	}

	result, err := client.PushPrice(ctx, product.SKU, store.SellingPartnerID, marketplaceID, decision.NewPrice)
	if err != nil {
		return err
	}
	if !result.Success {
		// Rejected by the marketplace: keep the local price at the
		// last confirmed value.
		summary.Errors++
		log.Warn("price update rejected",
			zap.String("sku", product.SKU),
			zap.Float64("price", decision.NewPrice),
			zap.String("detail", result.Detail))
		return nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"asin":      product.ASIN,
		"sku":       product.SKU,
		"old_price": product.Price,
		"new_price": decision.NewPrice,
		"reason":    decision.Reason,
	})
	commit := repo.RepriceCommit{
		NewPrice:              decision.NewPrice,
		CompetitorCount:       decision.CompetitorCount,
		LowestCompetitorPrice: decision.LowestCompetitorPrice,
		RepricedAt:            e.now(),
	}
	oldPrice := product.Price
	if err := e.repo.CommitReprice(ctx, product, commit, string(payload)); err != nil {
		return err
	}

	summary.Repriced++
	log.Info("repriced",
		zap.String("sku", product.SKU),
		zap.Float64("old_price", oldPrice),
		zap.Float64("new_price", decision.NewPrice),
		zap.String("strategy", product.RepricingStrategy),
		zap.Int("buybox_chance", decision.EstimatedBuyBoxChance))
	return nil
}

// withEffectiveBounds fills in a max bound from the user's pricing
// rule formula when the product has none of its own. The returned
// copy is the strategy engine's input; nothing here is persisted.
func (e *Engine) withEffectiveBounds(log *zap.Logger, product *model.Product, rule *model.PricingRule) *model.Product {
	if rule == nil {
		return product
	}
	p := *product
	if p.MinPrice == nil && rule.MinPrice > 0 {
		minPrice := rule.MinPrice
		p.MinPrice = &minPrice
	}
	if p.MaxPrice == nil && rule.MaxPriceFormula != "" {
		maxPrice, err := formula.Evaluate(rule.MaxPriceFormula, p.Price)
		if err != nil {
			log.Warn("pricing rule formula invalid, using default ceiling",
				zap.String("formula", rule.MaxPriceFormula),
				zap.Error(err))
			maxPrice = formula.DefaultMaxPrice(p.Price)
		}
		p.MaxPrice = &maxPrice
	}
	return &p
}

func (e *Engine) recordOwnershipFlip(ctx context.Context, product *model.Product, resolved *marketplace.Offer, owning bool) error {
	var owner *string
	if resolved != nil {
		sellerID := resolved.SellerID
		owner = &sellerID
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"asin":  product.ASIN,
		"owner": owner,
	})
	return e.repo.RecordOwnershipChange(ctx, product, owning, owner, string(payload), e.now())
}

func (e *Engine) deactivate(ctx context.Context, log *zap.Logger, store *model.Store, cause error) {
	log.Warn("authentication failure, deactivating store",
		zap.String("store", store.StoreName),
		zap.Error(cause))
	if err := e.repo.DeactivateStore(ctx, store.ID); err != nil {
		log.Error("deactivating store", zap.Error(err))
	}
}

func toOfferRows(productID uint, offers []marketplace.Offer, at time.Time) []model.CompetitorOffer {
	rows := make([]model.CompetitorOffer, 0, len(offers))
	for _, o := range offers {
		rows = append(rows, model.CompetitorOffer{
			ProductID: productID,
			TS:        at,
			SellerID:  o.SellerID,
			Price:     o.Price,
			Shipping:  o.Shipping,
			IsBuyBox:  o.IsBuyBox,
		})
	}
	return rows
}
