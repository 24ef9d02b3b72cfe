package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pricehub/internal/config"
)

const coinGeckoName = "coingecko"

// CoinGecko supplies the quote-currency USD rate via the public simple/price
// endpoint
type CoinGecko struct {
	client  *http.Client
	baseURL string
}

func NewCoinGecko(cfg *config.ProviderConfig) *CoinGecko {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &CoinGecko{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (c *CoinGecko) Name() string { return coinGeckoName }

type cgResponse map[string]struct {
	USD float64 `json:"usd"`
}

func (c *CoinGecko) QuoteRate(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s/simple/price?ids=solana&vs_currencies=usd", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("coingecko: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko: unexpected status %d", resp.StatusCode)
	}

	var body cgResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("coingecko: decode: %w", err)
	}

	entry, ok := body["solana"]
	if !ok || entry.USD <= 0 {
		return 0, ErrNoData
	}

	return entry.USD, nil
}
