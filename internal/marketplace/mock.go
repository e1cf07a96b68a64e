package marketplace

import (
	"context"
	"sync"

	"github.com/repricelab/repricer/internal/model"
)

// MockClient implements Client for tests and demo mode. Offers are
// scripted per ASIN; fetch and push behavior can be forced to fail.
type MockClient struct {
	mu sync.Mutex

	OffersByASIN map[string][]Offer
	FetchErr     error
	PushErr      error
	PushReject   bool

	FetchCalls []string
	PushCalls  []MockPush
}

// MockPush records one PushPrice invocation.
type MockPush struct {
	SKU      string
	SellerID string
	Price    float64
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{OffersByASIN: map[string][]Offer{}}
}

func (m *MockClient) FetchCompetitiveOffers(_ context.Context, asin, _ string) ([]Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCalls = append(m.FetchCalls, asin)
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return m.OffersByASIN[asin], nil
}

func (m *MockClient) PushPrice(_ context.Context, sku, sellerID, _ string, newPrice float64) (PushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PushCalls = append(m.PushCalls, MockPush{SKU: sku, SellerID: sellerID, Price: newPrice})
	if m.PushErr != nil {
		return PushResult{}, m.PushErr
	}
	if m.PushReject {
		return PushResult{Success: false, Detail: "price rejected by marketplace"}, nil
	}
	return PushResult{Success: true}, nil
}

// MockFactory hands out a fixed client per store, or an error.
type MockFactory struct {
	mu sync.Mutex

	Clients map[uint]Client // keyed by store ID
	Default *MockClient
	Err     error
	ErrFor  map[uint]error
}

// NewMockFactory creates a factory that returns client for every store.
func NewMockFactory(client *MockClient) *MockFactory {
	return &MockFactory{Default: client, Clients: map[uint]Client{}, ErrFor: map[uint]error{}}
}

func (f *MockFactory) ClientFor(_ context.Context, store *model.Store) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if err, ok := f.ErrFor[store.ID]; ok {
		return nil, err
	}
	if c, ok := f.Clients[store.ID]; ok {
		return c, nil
	}
	return f.Default, nil
}
