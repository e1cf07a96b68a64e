package cycle

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/repricelab/repricer/internal/marketplace"
	"github.com/repricelab/repricer/internal/model"
	"github.com/repricelab/repricer/internal/notify"
	"github.com/repricelab/repricer/internal/repo"
	"github.com/repricelab/repricer/internal/testutil"
)

type fixture struct {
	repo     *repo.Memory
	client   *marketplace.MockClient
	clients  *marketplace.MockFactory
	notifier *notify.MockNotifier
	engine   *Engine
	build    *testutil.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := repo.NewMemory()
	client := marketplace.NewMockClient()
	mf := marketplace.NewMockFactory(client)
	notifier := &notify.MockNotifier{}
	log := zap.NewNop()
	dispatcher := notify.NewDispatcher(mem, notifier, log)
	return &fixture{
		repo:     mem,
		client:   client,
		clients:  mf,
		notifier: notifier,
		engine:   NewEngine(mem, mf, dispatcher, log),
		build:    testutil.NewFactory(1),
	}
}

// seedStore creates a user, an active store, and one enabled product.
func (f *fixture) seedStore(t *testing.T, price float64) (model.Store, model.Product) {
	t.Helper()
	user := f.build.User()
	f.repo.AddUser(user)
	store := f.build.Store(user.ID)
	f.repo.AddStore(store)
	product := f.build.Product(store, price)
	f.repo.AddProduct(product)
	return store, product
}

func TestRunRepricesAndAudits(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedStore(t, 20.00)
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 18.00},
	}

	summary, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Repriced != 1 {
		t.Errorf("Repriced = %d, want 1", summary.Repriced)
	}

	got := f.repo.ProductByID(product.ID)
	if math.Abs(got.Price-17.99) > 1e-9 {
		t.Errorf("product price = %v, want 17.99", got.Price)
	}
	if got.CompetitorCount != 1 {
		t.Errorf("competitor count = %d, want 1", got.CompetitorCount)
	}
	if got.LowestCompetitorPrice == nil || math.Abs(*got.LowestCompetitorPrice-18.00) > 1e-9 {
		t.Errorf("lowest competitor price = %v, want 18.00", got.LowestCompetitorPrice)
	}
	if got.LastRepricedAt == nil {
		t.Error("last_repriced_at not set")
	}

	// The push reached the marketplace before the local commit.
	if len(f.client.PushCalls) != 1 {
		t.Fatalf("push calls = %d, want 1", len(f.client.PushCalls))
	}
	if math.Abs(f.client.PushCalls[0].Price-17.99) > 1e-9 {
		t.Errorf("pushed price = %v, want 17.99", f.client.PushCalls[0].Price)
	}

	history := f.repo.HistoryFor(product.ID)
	if len(history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(history))
	}
	if math.Abs(history[0].Price-17.99) > 1e-9 {
		t.Errorf("history price = %v, want 17.99", history[0].Price)
	}

	notes := f.repo.Notifications()
	if len(notes) != 1 || notes[0].Type != model.NotifyPriceChanged {
		t.Fatalf("notifications = %+v, want one PRICE_CHANGED", notes)
	}
	// The dispatcher flushed it at cycle end.
	if !notes[0].Sent {
		t.Error("notification not flushed after cycle")
	}
	if len(f.notifier.Emails) != 1 {
		t.Errorf("emails sent = %d, want 1", len(f.notifier.Emails))
	}
}

func TestRunReplacesOfferSnapshot(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedStore(t, 20.00)
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "a", Price: 18.00},
		{SellerID: "b", Price: 19.00, Shipping: 1.00},
	}

	if _, err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(f.repo.OffersFor(product.ID)); n != 2 {
		t.Fatalf("offer rows = %d, want 2", n)
	}

	// Next cycle sees one seller: rows must be the fresh set exactly,
	// no stale rows, no duplicates.
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "c", Price: 17.50},
	}
	if _, err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	offers := f.repo.OffersFor(product.ID)
	if len(offers) != 1 || offers[0].SellerID != "c" {
		t.Errorf("offer rows = %+v, want only seller c", offers)
	}
}

func TestRunEmptyOfferFetchClearsSnapshot(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedStore(t, 20.00)
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "a", Price: 18.00},
	}
	if _, err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	delete(f.client.OffersByASIN, product.ASIN)
	summary, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.repo.OffersFor(product.ID)) != 0 {
		t.Error("stale offers survived an empty fetch")
	}
	if summary.Repriced != 0 {
		t.Errorf("Repriced = %d with no competitors", summary.Repriced)
	}
}

func TestRunOwnershipFlipWritesHistoryAndNotification(t *testing.T) {
	f := newFixture(t)
	store, product := f.seedStore(t, 20.00)

	// Our own offer holds the Buy Box; the product record does not
	// know that yet.
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: store.SellingPartnerID, Price: 20.00, IsBuyBox: true},
	}

	summary, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.OwnershipFlips != 1 {
		t.Errorf("OwnershipFlips = %d, want 1", summary.OwnershipFlips)
	}

	got := f.repo.ProductByID(product.ID)
	if !got.BuyBoxOwning {
		t.Error("buy box owning flag not set")
	}
	if got.BuyBoxOwner == nil || *got.BuyBoxOwner != store.SellingPartnerID {
		t.Errorf("buy box owner = %v, want own seller id", got.BuyBoxOwner)
	}

	history := f.repo.HistoryFor(product.ID)
	if len(history) == 0 {
		t.Fatal("no history row for ownership flip")
	}
	if !history[0].BuyBoxOwning {
		t.Error("history row owning flag = false, want true")
	}

	var sawGained bool
	for _, n := range f.repo.Notifications() {
		if n.Type == model.NotifyBuyBoxGained {
			sawGained = true
		}
	}
	if !sawGained {
		t.Error("no BUYBOX_GAINED notification queued")
	}
}

func TestRunOwnershipLost(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedStore(t, 20.00)
	product.BuyBoxOwning = true
	f.repo.AddProduct(product)

	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 18.00, IsBuyBox: true},
	}

	if _, err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := f.repo.ProductByID(product.ID)
	if got.BuyBoxOwning {
		t.Error("buy box owning flag still true")
	}
	var sawLost bool
	for _, n := range f.repo.Notifications() {
		if n.Type == model.NotifyBuyBoxLost {
			sawLost = true
		}
	}
	if !sawLost {
		t.Error("no BUYBOX_LOST notification queued")
	}
}

func TestRunSkipsDisabledProductsAfterBookkeeping(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedStore(t, 20.00)
	product.RepricingEnabled = false
	f.repo.AddProduct(product)

	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 18.00},
	}

	if _, err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Offer bookkeeping still happened, but no pricing.
	if len(f.repo.OffersFor(product.ID)) != 1 {
		t.Error("offers not recorded for disabled product")
	}
	if len(f.client.PushCalls) != 0 {
		t.Error("price pushed for disabled product")
	}
	if got := f.repo.ProductByID(product.ID); got.Price != 20.00 {
		t.Errorf("price changed to %v for disabled product", got.Price)
	}
}

func TestRunPushFailureKeepsLocalPrice(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedStore(t, 20.00)
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 18.00},
	}
	f.client.PushErr = &marketplace.PushError{SKU: product.SKU, Err: errors.New("throttled")}

	summary, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Repriced != 0 {
		t.Errorf("Repriced = %d, want 0", summary.Repriced)
	}
	if summary.Errors != 1 {
		t.Errorf("Errors = %d, want 1", summary.Errors)
	}
	if got := f.repo.ProductByID(product.ID); got.Price != 20.00 {
		t.Errorf("local price = %v despite failed push, want 20.00", got.Price)
	}
	if len(f.repo.HistoryFor(product.ID)) != 0 {
		t.Error("history written despite failed push")
	}
}

func TestRunPushRejectedKeepsLocalPrice(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedStore(t, 20.00)
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 18.00},
	}
	f.client.PushReject = true

	if _, err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.repo.ProductByID(product.ID); got.Price != 20.00 {
		t.Errorf("local price = %v despite rejected push, want 20.00", got.Price)
	}
}

func TestRunFetchErrorSkipsProductOnly(t *testing.T) {
	f := newFixture(t)
	store, p1 := f.seedStore(t, 20.00)
	p2 := f.build.Product(store, 30.00)
	f.repo.AddProduct(p2)

	// Every fetch against store 1 fails; a second healthy store
	// proves the failure stays contained.
	client1 := marketplace.NewMockClient()
	client1.FetchErr = &marketplace.FetchError{ASIN: p1.ASIN, Err: errors.New("timeout")}
	f.clients.Clients[store.ID] = client1

	user2 := f.build.User()
	f.repo.AddUser(user2)
	store2 := f.build.Store(user2.ID)
	f.repo.AddStore(store2)
	p3 := f.build.Product(store2, 40.00)
	f.repo.AddProduct(p3)
	client2 := marketplace.NewMockClient()
	client2.OffersByASIN[p3.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 35.00},
	}
	f.clients.Clients[store2.ID] = client2

	summary, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Store 1's products all failed to fetch; store 2 repriced.
	if summary.Errors != 2 {
		t.Errorf("Errors = %d, want 2 (both products of store 1)", summary.Errors)
	}
	if got := f.repo.ProductByID(p3.ID); math.Abs(got.Price-34.99) > 1e-9 {
		t.Errorf("store 2 product price = %v, want 34.99", got.Price)
	}
	// No partial offer writes for failed fetches.
	if len(f.repo.OffersFor(p1.ID)) != 0 {
		t.Error("offers written despite fetch failure")
	}
}

func TestRunAuthFailureDeactivatesStoreMidCycle(t *testing.T) {
	f := newFixture(t)

	user := f.build.User()
	f.repo.AddUser(user)
	store := f.build.Store(user.ID)
	f.repo.AddStore(store)

	// Five products; the client's push starts failing with an auth
	// error from product 3 on.
	products := make([]model.Product, 0, 5)
	client := marketplace.NewMockClient()
	for i := 0; i < 5; i++ {
		p := f.build.Product(store, 20.00)
		f.repo.AddProduct(p)
		products = append(products, p)
		client.OffersByASIN[p.ASIN] = []marketplace.Offer{
			{SellerID: "rival", Price: 18.00},
		}
	}
	authAfter := 2
	scripted := &scriptedAuthClient{inner: client, failAfterPush: authAfter}
	f.clients.Clients[store.ID] = scripted

	// A healthy second store proves isolation.
	user2 := f.build.User()
	f.repo.AddUser(user2)
	store2 := f.build.Store(user2.ID)
	f.repo.AddStore(store2)
	p6 := f.build.Product(store2, 50.00)
	f.repo.AddProduct(p6)
	client2 := marketplace.NewMockClient()
	client2.OffersByASIN[p6.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 45.00},
	}
	f.clients.Clients[store2.ID] = client2

	summary, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Products 1-2 committed and keep their changes.
	for i := 0; i < authAfter; i++ {
		if got := f.repo.ProductByID(products[i].ID); math.Abs(got.Price-17.99) > 1e-9 {
			t.Errorf("product %d price = %v, want committed 17.99", i+1, got.Price)
		}
	}
	// Products 4-5 were never attempted.
	for i := authAfter + 1; i < 5; i++ {
		if got := f.repo.ProductByID(products[i].ID); got.Price != 20.00 {
			t.Errorf("product %d price = %v, want untouched 20.00", i+1, got.Price)
		}
		if len(f.repo.OffersFor(products[i].ID)) != 0 {
			t.Errorf("product %d has offer rows but was never processed", i+1)
		}
	}
	// The store is deactivated; the sibling store repriced.
	if f.repo.StoreByID(store.ID).IsActive {
		t.Error("store still active after auth failure")
	}
	if got := f.repo.ProductByID(p6.ID); math.Abs(got.Price-44.99) > 1e-9 {
		t.Errorf("sibling store product price = %v, want 44.99", got.Price)
	}
	if summary.Repriced != 3 {
		t.Errorf("Repriced = %d, want 3 (two before auth failure, one sibling)", summary.Repriced)
	}
}

func TestRunAuthFailureAtClientConstruction(t *testing.T) {
	f := newFixture(t)
	store, product := f.seedStore(t, 20.00)
	f.clients.ErrFor[store.ID] = &marketplace.AuthError{Op: "open credential", Detail: "revoked"}

	summary, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.repo.StoreByID(store.ID).IsActive {
		t.Error("store still active after credential failure")
	}
	if got := f.repo.ProductByID(product.ID); got.Price != 20.00 {
		t.Errorf("product touched despite credential failure: price %v", got.Price)
	}
	if summary.StoresFailed != 0 {
		t.Errorf("StoresFailed = %d; auth deactivation is handled, not a store failure", summary.StoresFailed)
	}
}

func TestRunInactiveStoresSkipped(t *testing.T) {
	f := newFixture(t)
	store, product := f.seedStore(t, 20.00)
	store.IsActive = false
	f.repo.AddStore(store)
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 18.00},
	}

	summary, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Stores != 0 {
		t.Errorf("Stores = %d, want 0", summary.Stores)
	}
	if len(f.client.FetchCalls) != 0 {
		t.Error("inactive store's products were fetched")
	}
}

func TestRunStoreListFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.repo.StoresErr = errors.New("connection refused")

	if _, err := f.engine.Run(context.Background()); err == nil {
		t.Error("Run returned nil error when the store list query failed")
	}
}

func TestRunPersistenceErrorIsolatedPerProduct(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedStore(t, 20.00)
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 18.00},
	}
	f.repo.ReplaceOffersErr = errors.New("deadlock detected")

	summary, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Errors != 1 {
		t.Errorf("Errors = %d, want 1", summary.Errors)
	}
	if got := f.repo.ProductByID(product.ID); got.Price != 20.00 {
		t.Errorf("price = %v after persistence failure, want 20.00", got.Price)
	}
}

func TestRunDeadbandIdempotentAcrossCycles(t *testing.T) {
	f := newFixture(t)
	_, product := f.seedStore(t, 20.00)
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 18.00},
	}

	first, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Repriced != 1 {
		t.Fatalf("first cycle Repriced = %d, want 1", first.Repriced)
	}

	second, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if second.Repriced != 0 {
		t.Errorf("second cycle Repriced = %d, want 0 (unchanged upstream data)", second.Repriced)
	}
	if len(f.repo.HistoryFor(product.ID)) != 1 {
		t.Errorf("history rows = %d after idempotent cycle, want 1", len(f.repo.HistoryFor(product.ID)))
	}
}

func TestRunPricingRuleFormulaBoundsApply(t *testing.T) {
	f := newFixture(t)
	store, product := f.seedStore(t, 10.00)
	// Formula caps the price at current_price * 1.2 = 12.00; the
	// win_buybox target of 29.99 gets clamped down to it.
	f.repo.AddPricingRule(model.PricingRule{
		ID:              99,
		UserID:          store.UserID,
		MinPrice:        2.00,
		MaxPriceFormula: "current_price * 1.2",
	})
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 30.00, IsBuyBox: true},
	}

	if _, err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.repo.ProductByID(product.ID); math.Abs(got.Price-12.00) > 1e-9 {
		t.Errorf("price = %v, want formula-capped 12.00", got.Price)
	}
}

func TestRunInvalidRuleFormulaFallsBack(t *testing.T) {
	f := newFixture(t)
	store, product := f.seedStore(t, 10.00)
	f.repo.AddPricingRule(model.PricingRule{
		ID:              99,
		UserID:          store.UserID,
		MaxPriceFormula: "current_price * 1.9; import os",
	})
	f.client.OffersByASIN[product.ASIN] = []marketplace.Offer{
		{SellerID: "rival", Price: 30.00, IsBuyBox: true},
	}

	if _, err := f.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Fallback ceiling is current_price * 1.9 = 19.00.
	if got := f.repo.ProductByID(product.ID); math.Abs(got.Price-19.00) > 1e-9 {
		t.Errorf("price = %v, want fallback-capped 19.00", got.Price)
	}
}

// scriptedAuthClient lets pushes through until failAfterPush have
// succeeded, then returns auth errors.
type scriptedAuthClient struct {
	inner         *marketplace.MockClient
	failAfterPush int
	pushes        int
}

func (s *scriptedAuthClient) FetchCompetitiveOffers(ctx context.Context, asin, marketplaceID string) ([]marketplace.Offer, error) {
	return s.inner.FetchCompetitiveOffers(ctx, asin, marketplaceID)
}

func (s *scriptedAuthClient) PushPrice(ctx context.Context, sku, sellerID, marketplaceID string, newPrice float64) (marketplace.PushResult, error) {
	if s.pushes >= s.failAfterPush {
		return marketplace.PushResult{}, &marketplace.AuthError{Op: "push price", Detail: "token expired"}
	}
	s.pushes++
	return s.inner.PushPrice(ctx, sku, sellerID, marketplaceID, newPrice)
}
