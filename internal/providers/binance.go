package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pricehub/internal/config"
)

const binanceName = "binance"

// Binance spot ticker, second source for the quote-currency rate
type Binance struct {
	client  *http.Client
	baseURL string
}

func NewBinance(cfg *config.ProviderConfig) *Binance {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Binance{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (b *Binance) Name() string { return binanceName }

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (b *Binance) QuoteRate(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=SOLUSDT", b.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("binance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return 0, ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("binance: unexpected status %d", resp.StatusCode)
	}

	var body binanceTicker
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("binance: decode: %w", err)
	}

	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil || price <= 0 {
		return 0, ErrNoData
	}

	return price, nil
}
