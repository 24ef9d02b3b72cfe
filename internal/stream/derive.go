package stream

import (
	"errors"
	"fmt"
	"time"

	"pricehub/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	ErrBadAmounts   = errors.New("event amounts must be positive")
	ErrNoQuoteRate  = errors.New("quote rate unknown")
	ErrBadTimestamp = errors.New("event timestamp outside sane range")
)

// Anything below 2000-01-01 or more than 5 minutes ahead is rejected, not
// silently fixed
var earliestEvent = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// NormalizeTimestamp converts a feed timestamp to UTC. The feed is
// ambiguous between seconds and milliseconds; millisecond values are
// detected by magnitude
func NormalizeTimestamp(ts int64) (time.Time, error) {
	if ts <= 0 {
		return time.Time{}, ErrBadTimestamp
	}

	var t time.Time
	if ts > 1_000_000_000_000 { // beyond year 33658 as seconds, so millis
		t = time.UnixMilli(ts).UTC()
	} else {
		t = time.Unix(ts, 0).UTC()
	}

	if t.Before(earliestEvent) || t.After(time.Now().Add(5*time.Minute)) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrBadTimestamp, t)
	}

	return t, nil
}

// DeriveTick turns a swap event into a stream-sourced tick:
// priceInQuote = quoteAmount/assetAmount, priceUsd = priceInQuote * rate.
// Division runs in decimal to keep tiny ratios exact before the final
// float conversion
func DeriveTick(ev *domain.SwapEvent, quoteRateUSD float64) (*domain.PriceTick, error) {
	if ev.AssetKey == "" || ev.QuoteAmount <= 0 || ev.AssetAmount <= 0 {
		return nil, ErrBadAmounts
	}
	if quoteRateUSD <= 0 {
		return nil, ErrNoQuoteRate
	}

	if _, err := NormalizeTimestamp(ev.Timestamp); err != nil {
		return nil, err
	}

	priceInQuote := decimal.NewFromFloat(ev.QuoteAmount).
		Div(decimal.NewFromFloat(ev.AssetAmount))
	priceUSD := priceInQuote.Mul(decimal.NewFromFloat(quoteRateUSD))

	usd := priceUSD.InexactFloat64()
	if usd <= 0 {
		return nil, ErrBadAmounts
	}

	return &domain.PriceTick{
		Key:          ev.AssetKey,
		PriceUSD:     usd,
		PriceInQuote: priceInQuote.InexactFloat64(),
		QuoteRateUSD: quoteRateUSD,
		// staleness is judged by arrival, not event time, so out-of-order
		// delivery never stalls the store
		Timestamp: time.Now(),
		Source:    domain.SourceStream,
	}, nil
}
