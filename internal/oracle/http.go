// internal/oracle/http.go
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPSource fetches the quote-asset spot price from a Coinbase-style
// endpoint returning {"data":{"amount":"<price>"}}.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource builds an HTTP price source for the given spot endpoint.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type spotResponse struct {
	Data struct {
		Amount string `json:"amount"`
	} `json:"data"`
}

func (s *HTTPSource) QuoteAssetUSDPrice(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build oracle request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch spot price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("spot price endpoint returned %d", resp.StatusCode)
	}

	var body spotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode spot price response: %w", err)
	}

	price, err := decimal.NewFromString(body.Data.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse spot price %q: %w", body.Data.Amount, err)
	}
	return price, nil
}

var _ Source = (*HTTPSource)(nil)
