package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pricehub/internal/config"
	"pricehub/internal/domain"
)

const dexScreenerName = "dexscreener"

// DexScreener prices a single token from its most liquid pair. Transient
// failures are retried once with a short fixed delay before surfacing
type DexScreener struct {
	client  *http.Client
	baseURL string
}

func NewDexScreener(cfg *config.ProviderConfig) *DexScreener {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &DexScreener{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (d *DexScreener) Name() string { return dexScreenerName }

type dsPair struct {
	PriceUSD    string `json:"priceUsd"`
	PriceNative string `json:"priceNative"`
	Volume      struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	MarketCap float64 `json:"marketCap"`
}

type dsResponse struct {
	Pairs []dsPair `json:"pairs"`
}

func (d *DexScreener) Lookup(ctx context.Context, key string) (*domain.PriceTick, error) {
	tick, err := d.lookupOnce(ctx, key)
	if err != nil && !errors.Is(err, ErrNoData) && ctx.Err() == nil {
		// one immediate retry for this provider only; a blip on the most
		// liquid pair endpoint is common and cheap to ride out
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		tick, err = d.lookupOnce(ctx, key)
	}
	return tick, err
}

func (d *DexScreener) lookupOnce(ctx context.Context, key string) (*domain.PriceTick, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoData
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("dexscreener: unexpected status %d", resp.StatusCode)
	}

	var body dsResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("dexscreener: decode: %w", err)
	}

	best := bestPair(body.Pairs)
	if best == nil {
		return nil, ErrNoData
	}

	priceUSD, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil || priceUSD <= 0 {
		return nil, ErrNoData
	}
	priceNative, _ := strconv.ParseFloat(best.PriceNative, 64)

	return &domain.PriceTick{
		Key:          key,
		PriceUSD:     priceUSD,
		PriceInQuote: priceNative,
		Timestamp:    time.Now(),
		Source:       dexScreenerName,
		Volume24h:    best.Volume.H24,
		Change24h:    best.PriceChange.H24,
		MarketCapUSD: best.MarketCap,
	}, nil
}

func bestPair(pairs []dsPair) *dsPair {
	var best *dsPair
	for i := range pairs {
		if pairs[i].PriceUSD == "" {
			continue
		}
		if best == nil || pairs[i].Liquidity.USD > best.Liquidity.USD {
			best = &pairs[i]
		}
	}
	return best
}
