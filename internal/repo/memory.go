package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/repricelab/repricer/internal/model"
)

// Memory implements Repository in process memory. It backs the engine
// and dispatcher tests and the host binary's demo mode; the mutex
// stands in for the database's row-level isolation.
type Memory struct {
	mu sync.Mutex

	users         map[uint]model.User
	stores        map[uint]model.Store
	products      map[uint]model.Product
	offers        map[uint][]model.CompetitorOffer // by product ID
	history       map[uint][]model.PriceHistory    // by product ID
	rules         map[uint]model.PricingRule       // by user ID
	subscriptions map[uint][]model.PushSubscription
	notifications map[uint]model.Notification
	nextNoteID    uint

	// Injectable failures for persistence-error paths.
	ReplaceOffersErr error
	CommitErr        error
	StoresErr        error
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		users:         map[uint]model.User{},
		stores:        map[uint]model.Store{},
		products:      map[uint]model.Product{},
		offers:        map[uint][]model.CompetitorOffer{},
		history:       map[uint][]model.PriceHistory{},
		rules:         map[uint]model.PricingRule{},
		subscriptions: map[uint][]model.PushSubscription{},
		notifications: map[uint]model.Notification{},
		nextNoteID:    1,
	}
}

// Seed helpers.

func (m *Memory) AddUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) AddStore(s model.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[s.ID] = s
}

func (m *Memory) AddProduct(p model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *Memory) AddPricingRule(r model.PricingRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.UserID] = r
}

func (m *Memory) AddPushSubscription(s model.PushSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[s.UserID] = append(m.subscriptions[s.UserID], s)
}

// AddNotification queues a notification directly, for dispatcher tests.
func (m *Memory) AddNotification(n model.Notification) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addNotificationLocked(n)
}

func (m *Memory) addNotificationLocked(n model.Notification) uint {
	n.ID = m.nextNoteID
	m.nextNoteID++
	m.notifications[n.ID] = n
	return n.ID
}

// Inspection helpers for tests.

func (m *Memory) StoreByID(id uint) model.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[id]
}

func (m *Memory) ProductByID(id uint) model.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id]
}

func (m *Memory) OffersFor(productID uint) []model.CompetitorOffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CompetitorOffer, len(m.offers[productID]))
	copy(out, m.offers[productID])
	return out
}

func (m *Memory) HistoryFor(productID uint) []model.PriceHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PriceHistory, len(m.history[productID]))
	copy(out, m.history[productID])
	return out
}

func (m *Memory) Notifications() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Repository implementation.

func (m *Memory) ActiveStores(_ context.Context) ([]model.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoresErr != nil {
		return nil, m.StoresErr
	}
	var out []model.Store
	for _, s := range m.stores {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ProductsForStore(_ context.Context, storeID uint) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Product
	for _, p := range m.products {
		if p.StoreID == storeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PricingRuleForUser(_ context.Context, userID uint) (*model.PricingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[userID]; ok {
		rule := r
		return &rule, nil
	}
	return nil, nil
}

func (m *Memory) ReplaceOffers(_ context.Context, productID uint, offers []model.CompetitorOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReplaceOffersErr != nil {
		return m.ReplaceOffersErr
	}
	replaced := make([]model.CompetitorOffer, len(offers))
	copy(replaced, offers)
	m.offers[productID] = replaced
	return nil
}

func (m *Memory) RecordOwnershipChange(_ context.Context, product *model.Product, owning bool, owner *string, payloadJSON string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[product.ID]
	if !ok {
		return fmt.Errorf("product %d not found", product.ID)
	}
	p.BuyBoxOwning = owning
	p.BuyBoxOwner = owner
	m.products[p.ID] = p

	m.history[p.ID] = append(m.history[p.ID], model.PriceHistory{
		ProductID:    p.ID,
		TS:           at,
		Price:        product.Price,
		BuyBoxOwning: owning,
	})

	noteType := model.NotifyBuyBoxLost
	if owning {
		noteType = model.NotifyBuyBoxGained
	}
	m.addNotificationLocked(model.Notification{
		UserID:      product.UserID,
		Type:        noteType,
		PayloadJSON: payloadJSON,
		TS:          at,
	})

	product.BuyBoxOwning = owning
	product.BuyBoxOwner = owner
	return nil
}

func (m *Memory) CommitReprice(_ context.Context, product *model.Product, commit RepriceCommit, payloadJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommitErr != nil {
		return m.CommitErr
	}
	p, ok := m.products[product.ID]
	if !ok {
		return fmt.Errorf("product %d not found", product.ID)
	}
	lowest := commit.LowestCompetitorPrice
	at := commit.RepricedAt
	p.Price = commit.NewPrice
	p.CompetitorCount = commit.CompetitorCount
	p.LowestCompetitorPrice = &lowest
	p.LastRepricedAt = &at
	m.products[p.ID] = p

	m.history[p.ID] = append(m.history[p.ID], model.PriceHistory{
		ProductID:    p.ID,
		TS:           at,
		Price:        commit.NewPrice,
		BuyBoxOwning: p.BuyBoxOwning,
	})

	m.addNotificationLocked(model.Notification{
		UserID:      product.UserID,
		Type:        model.NotifyPriceChanged,
		PayloadJSON: payloadJSON,
		TS:          at,
	})

	product.Price = commit.NewPrice
	product.CompetitorCount = commit.CompetitorCount
	product.LowestCompetitorPrice = &lowest
	product.LastRepricedAt = &at
	return nil
}

func (m *Memory) DeactivateStore(_ context.Context, storeID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[storeID]
	if !ok {
		return fmt.Errorf("store %d not found", storeID)
	}
	s.IsActive = false
	m.stores[storeID] = s
	return nil
}

func (m *Memory) TouchStoreSync(_ context.Context, storeID uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[storeID]
	if !ok {
		return fmt.Errorf("store %d not found", storeID)
	}
	s.LastSync = &at
	m.stores[storeID] = s
	return nil
}

func (m *Memory) PendingNotifications(_ context.Context) ([]PendingNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingNotification
	for _, n := range m.notifications {
		if n.Sent {
			continue
		}
		out = append(out, PendingNotification{
			ID:          n.ID,
			UserID:      n.UserID,
			Type:        n.Type,
			PayloadJSON: n.PayloadJSON,
			UserEmail:   m.users[n.UserID].Email,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PushSubscriptionsForUser(_ context.Context, userID uint) ([]model.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PushSubscription, len(m.subscriptions[userID]))
	copy(out, m.subscriptions[userID])
	return out, nil
}

func (m *Memory) MarkNotificationSent(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return fmt.Errorf("notification %d not found", id)
	}
	n.Sent = true
	m.notifications[id] = n
	return nil
}

var _ Repository = (*Memory)(nil)
