package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pricehub/internal/config"
	"pricehub/internal/domain"
)

const jupiterName = "jupiter"

// Jupiter price API. The ids parameter takes a comma-separated list, which
// makes this the bulk path for multi-key live fetches
type Jupiter struct {
	client  *http.Client
	baseURL string
}

func NewJupiter(cfg *config.ProviderConfig) *Jupiter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.jup.ag"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Jupiter{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (j *Jupiter) Name() string { return jupiterName }

type jupEntry struct {
	ID    string `json:"id"`
	Price string `json:"price"`
}

type jupResponse struct {
	Data map[string]*jupEntry `json:"data"`
}

func (j *Jupiter) Lookup(ctx context.Context, key string) (*domain.PriceTick, error) {
	ticks, err := j.LookupBatch(ctx, []string{key})
	if err != nil {
		return nil, err
	}

	tick, ok := ticks[key]
	if !ok {
		return nil, ErrNoData
	}
	return tick, nil
}

// LookupBatch prices many keys in one request. Keys the provider does not
// know are simply absent from the result, not errors
func (j *Jupiter) LookupBatch(ctx context.Context, keys []string) (map[string]*domain.PriceTick, error) {
	if len(keys) == 0 {
		return map[string]*domain.PriceTick{}, nil
	}

	url := fmt.Sprintf("%s/price/v2?ids=%s", j.baseURL, strings.Join(keys, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoData
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("jupiter: unexpected status %d", resp.StatusCode)
	}

	var body jupResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("jupiter: decode: %w", err)
	}

	now := time.Now()
	out := make(map[string]*domain.PriceTick, len(keys))
	for _, key := range keys {
		entry := body.Data[key]
		if entry == nil || entry.Price == "" {
			continue
		}

		price, perr := strconv.ParseFloat(entry.Price, 64)
		if perr != nil || price <= 0 {
			continue
		}

		out[key] = &domain.PriceTick{
			Key:       key,
			PriceUSD:  price,
			Timestamp: now,
			Source:    jupiterName,
		}
	}

	return out, nil
}
