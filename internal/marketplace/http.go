package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/repricelab/repricer/internal/credentials"
	"github.com/repricelab/repricer/internal/model"
)

// HTTPClient talks to a marketplace gateway over JSON. The gateway
// fronts the real selling-partner protocol; this client only carries
// the two operations the repricing cycle needs.
type HTTPClient struct {
	baseURL    string
	token      string
	region     string
	httpClient *http.Client
}

// NewHTTPClient builds a client bound to one store's decrypted token.
func NewHTTPClient(baseURL, token, region string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		region:  region,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchCompetitiveOffers retrieves the current competitive snapshot
// for a listing. An empty snapshot is a valid result.
func (c *HTTPClient) FetchCompetitiveOffers(ctx context.Context, asin, marketplaceID string) ([]Offer, error) {
	q := url.Values{}
	q.Set("asin", asin)
	q.Set("marketplace_id", marketplaceID)
	endpoint := fmt.Sprintf("%s/v1/pricing/offers?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{ASIN: asin, Err: err}
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{ASIN: asin, Err: err}
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp.StatusCode, "fetch offers"); err != nil {
		if IsAuth(err) {
			return nil, err
		}
		return nil, &FetchError{ASIN: asin, Err: err}
	}

	var payload struct {
		Offers []Offer `json:"offers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{ASIN: asin, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return payload.Offers, nil
}

// PushPrice submits a price update for a SKU. A non-success result
// with a nil error means the marketplace rejected the change.
func (c *HTTPClient) PushPrice(ctx context.Context, sku, sellerID, marketplaceID string, newPrice float64) (PushResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"sku":            sku,
		"seller_id":      sellerID,
		"marketplace_id": marketplaceID,
		"price":          newPrice,
	})
	if err != nil {
		return PushResult{}, &PushError{SKU: sku, Err: err}
	}

	endpoint := fmt.Sprintf("%s/v1/pricing/price", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return PushResult{}, &PushError{SKU: sku, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PushResult{}, &PushError{SKU: sku, Err: err}
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp.StatusCode, "push price"); err != nil {
		if IsAuth(err) {
			return PushResult{}, err
		}
		return PushResult{}, &PushError{SKU: sku, Err: err}
	}

	var result PushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return PushResult{}, &PushError{SKU: sku, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return result, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Marketplace-Region", c.region)
}

func (c *HTTPClient) classifyStatus(status int, op string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Op: op, Detail: fmt.Sprintf("gateway returned status %d", status)}
	default:
		return fmt.Errorf("gateway returned status %d", status)
	}
}

// HTTPFactory builds rate-limited HTTP clients per store, opening the
// store's sealed refresh token only inside ClientFor.
type HTTPFactory struct {
	baseURL        string
	keyring        *credentials.Keyring
	requestsPerSec float64
	burst          int
}

// NewHTTPFactory creates a factory for the given gateway.
func NewHTTPFactory(baseURL string, keyring *credentials.Keyring, requestsPerSec float64, burst int) *HTTPFactory {
	return &HTTPFactory{
		baseURL:        baseURL,
		keyring:        keyring,
		requestsPerSec: requestsPerSec,
		burst:          burst,
	}
}

// ClientFor decrypts the store's credential and returns a client
// bound to it. A credential that cannot be opened is an auth-class
// failure so the orchestrator deactivates the store.
func (f *HTTPFactory) ClientFor(_ context.Context, store *model.Store) (Client, error) {
	token, err := f.keyring.Open(store.RefreshToken)
	if err != nil {
		return nil, &AuthError{Op: "open credential", Detail: err.Error()}
	}
	if token == "" {
		return nil, &AuthError{Op: "open credential", Detail: "store has no refresh token"}
	}
	return NewRateLimited(NewHTTPClient(f.baseURL, token, store.Region), f.requestsPerSec, f.burst), nil
}
