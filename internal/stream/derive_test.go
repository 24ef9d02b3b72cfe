package stream

import (
	"testing"
	"time"

	"pricehub/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== Test Helpers ==========

func validEvent() *domain.SwapEvent {
	return &domain.SwapEvent{
		AssetKey:    "mint-abc",
		QuoteAmount: 2,
		AssetAmount: 1000,
		Timestamp:   time.Now().Unix(),
		Side:        domain.SideBuy,
	}
}

// ========== DeriveTick Tests ==========

func TestDeriveTick_Success(t *testing.T) {
	ev := validEvent()

	tick, err := DeriveTick(ev, 100)

	require.NoError(t, err)
	require.NotNil(t, tick)
	assert.Equal(t, "mint-abc", tick.Key)
	assert.InDelta(t, 0.002, tick.PriceInQuote, 1e-12)
	assert.InDelta(t, 0.2, tick.PriceUSD, 1e-12)
	assert.Equal(t, 100.0, tick.QuoteRateUSD)
	assert.Equal(t, domain.SourceStream, tick.Source)
	assert.WithinDuration(t, time.Now(), tick.Timestamp, time.Second,
		"recency is arrival time, not event time")
}

func TestDeriveTick_TinyRatioStaysExact(t *testing.T) {
	ev := validEvent()
	ev.QuoteAmount = 0.000001
	ev.AssetAmount = 1_000_000_000

	tick, err := DeriveTick(ev, 150)

	require.NoError(t, err)
	assert.Greater(t, tick.PriceUSD, 0.0)
	assert.InDelta(t, 1.5e-13, tick.PriceUSD, 1e-20)
}

func TestDeriveTick_BadAmounts(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*domain.SwapEvent)
	}{
		{"zero_quote", func(ev *domain.SwapEvent) { ev.QuoteAmount = 0 }},
		{"negative_quote", func(ev *domain.SwapEvent) { ev.QuoteAmount = -1 }},
		{"zero_asset", func(ev *domain.SwapEvent) { ev.AssetAmount = 0 }},
		{"negative_asset", func(ev *domain.SwapEvent) { ev.AssetAmount = -5 }},
		{"empty_key", func(ev *domain.SwapEvent) { ev.AssetKey = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev := validEvent()
			tc.mutate(ev)

			tick, err := DeriveTick(ev, 100)
			assert.ErrorIs(t, err, ErrBadAmounts)
			assert.Nil(t, tick)
		})
	}
}

func TestDeriveTick_NoQuoteRate(t *testing.T) {
	tick, err := DeriveTick(validEvent(), 0)

	assert.ErrorIs(t, err, ErrNoQuoteRate)
	assert.Nil(t, tick)
}

func TestDeriveTick_BadTimestamp(t *testing.T) {
	ev := validEvent()
	ev.Timestamp = 0

	tick, err := DeriveTick(ev, 100)
	assert.ErrorIs(t, err, ErrBadTimestamp)
	assert.Nil(t, tick)
}

// ========== NormalizeTimestamp Tests ==========

func TestNormalizeTimestamp_Seconds(t *testing.T) {
	now := time.Now()

	got, err := NormalizeTimestamp(now.Unix())

	require.NoError(t, err)
	assert.WithinDuration(t, now, got, time.Second)
}

func TestNormalizeTimestamp_Milliseconds(t *testing.T) {
	now := time.Now()

	got, err := NormalizeTimestamp(now.UnixMilli())

	require.NoError(t, err)
	assert.WithinDuration(t, now, got, time.Second)
}

func TestNormalizeTimestamp_Rejects(t *testing.T) {
	testCases := []struct {
		name string
		ts   int64
	}{
		{"zero", 0},
		{"negative", -1},
		{"before_2000", time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC).Unix()},
		{"far_future_seconds", time.Now().Add(time.Hour).Unix()},
		{"far_future_millis", time.Now().Add(time.Hour).UnixMilli()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeTimestamp(tc.ts)
			assert.ErrorIs(t, err, ErrBadTimestamp)
		})
	}
}

func TestNormalizeTimestamp_SlightFutureAllowed(t *testing.T) {
	// events may arrive with small clock skew
	got, err := NormalizeTimestamp(time.Now().Add(2 * time.Minute).Unix())

	require.NoError(t, err)
	assert.False(t, got.IsZero())
}
