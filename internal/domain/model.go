package domain

import "time"

// Mint of the quote currency (wrapped SOL). Prices derived from swap events
// are denominated in this asset and converted to USD with the reference rate
const QuoteMint = "So11111111111111111111111111111111111111112"

// Stablecoins whose price is pinned by issuers; swap activity on them never
// schedules a fallback refresh
var DefaultStableMints = []string{
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", // USDT
}

// Tick sources, diagnostic only
const (
	SourceStream = "stream"
	SourceLive   = "live"
)

// Best-known price for one asset at a point in time. A newer tick fully
// replaces the older one; fields are never merged across ticks
type PriceTick struct {
	Key          string    `json:"key"`
	PriceUSD     float64   `json:"price_usd"`
	PriceInQuote float64   `json:"price_in_quote,omitempty"`
	QuoteRateUSD float64   `json:"quote_rate_usd,omitempty"`
	Timestamp    time.Time `json:"ts"`
	Source       string    `json:"source"`

	// Passthrough provider metadata, no invariants
	Volume24h    float64 `json:"volume_24h,omitempty"`
	Change24h    float64 `json:"change_24h,omitempty"`
	MarketCapUSD float64 `json:"market_cap_usd,omitempty"`
}

// Age of the tick relative to now. Recency is arrival time, not event time
func (t *PriceTick) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Raw trade/swap event from the push feed. Timestamp is seconds or millis,
// detected by magnitude and normalized at the stream boundary
type SwapEvent struct {
	AssetKey    string  `json:"asset_key"`
	QuoteAmount float64 `json:"quote_amount"`
	AssetAmount float64 `json:"asset_amount"`
	Timestamp   int64   `json:"timestamp"`
	Side        Side    `json:"side"`
	Actor       string  `json:"actor"`
}

type NegativeReason string

const (
	ReasonNoContent    NegativeReason = "no-content"
	ReasonNotFound     NegativeReason = "not-found"
	ReasonAllExhausted NegativeReason = "all-sources-exhausted"
)

// Record of "this key was looked up and no provider had data"
type NegativeEntry struct {
	At     time.Time      `json:"at"`
	Reason NegativeReason `json:"reason"`
}
