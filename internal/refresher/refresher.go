package refresher

import (
	"context"
	"errors"
	"sync"
	"time"

	"pricehub/internal/config"
	"pricehub/internal/domain"
	"pricehub/internal/providers"

	"gitlab.com/nevasik7/alerting/logger"
)

// Receives the synthetic quote-currency tick on every accepted rate update
type Sink interface {
	AcceptTick(tick *domain.PriceTick)
}

// Keeps the quote-currency USD rate fresh from an ordered provider list.
// The first in-bounds answer wins; out-of-bounds values are discarded and
// the previous good rate survives any number of failed rounds
type Updater struct {
	log       logger.Logger
	provs     []providers.RateProvider
	sink      Sink
	quoteMint string

	interval    time.Duration
	minRate     float64
	maxRate     float64
	defaultRate float64

	mu        sync.RWMutex
	rate      float64
	updatedAt time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(log logger.Logger, cfg *config.QuoteConfig, provs []providers.RateProvider, sink Sink) (*Updater, error) {
	if cfg == nil {
		return nil, errors.New("quote config is required to the rate updater")
	}
	if len(provs) == 0 {
		return nil, errors.New("at least one rate provider is required")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	minRate, maxRate := cfg.MinRate, cfg.MaxRate
	if minRate <= 0 {
		minRate = 50
	}
	if maxRate <= minRate {
		maxRate = 500
	}

	defaultRate := cfg.DefaultRate
	if defaultRate <= 0 {
		defaultRate = 150
	}

	quoteMint := cfg.Mint
	if quoteMint == "" {
		quoteMint = domain.QuoteMint
	}

	return &Updater{
		log:         log,
		provs:       provs,
		sink:        sink,
		quoteMint:   quoteMint,
		interval:    interval,
		minRate:     minRate,
		maxRate:     maxRate,
		defaultRate: defaultRate,
		stopCh:      make(chan struct{}),
	}, nil
}

// Start refreshes once immediately, then on the fixed interval
func (u *Updater) Start() {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()

		u.refreshOnce()

		t := time.NewTicker(u.interval)
		defer t.Stop()

		for {
			select {
			case <-u.stopCh:
				return
			case <-t.C:
				u.refreshOnce()
			}
		}
	}()
}

func (u *Updater) Stop() {
	u.stopOnce.Do(func() {
		close(u.stopCh)
	})
	u.wg.Wait()
}

func (u *Updater) refreshOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), u.interval)
	defer cancel()

	for _, p := range u.provs {
		rate, err := p.QuoteRate(ctx)
		if err != nil {
			u.log.Debugf("Rate provider %s failed, error=%v", p.Name(), err)
			continue
		}

		if rate < u.minRate || rate > u.maxRate {
			u.log.Errorf("Rate provider %s returned %.4f outside bounds [%.0f, %.0f], discarding",
				p.Name(), rate, u.minRate, u.maxRate)
			continue
		}

		u.accept(rate, p.Name())
		return
	}

	u.mu.Lock()
	if u.rate == 0 {
		// first round ever with no answer at all; anything beats zero
		u.rate = u.defaultRate
		u.updatedAt = time.Now()
		u.log.Warnf("All rate providers failed on first run, falling back to default %.2f", u.defaultRate)
	}
	u.mu.Unlock()
}

func (u *Updater) accept(rate float64, source string) {
	now := time.Now()

	u.mu.Lock()
	u.rate = rate
	u.updatedAt = now
	u.mu.Unlock()

	// downstream readers treat the quote currency like any other asset
	u.sink.AcceptTick(&domain.PriceTick{
		Key:          u.quoteMint,
		PriceUSD:     rate,
		PriceInQuote: 1,
		QuoteRateUSD: rate,
		Timestamp:    now,
		Source:       source,
	})
}

// Rate is a pure in-memory read, zero before the first refresh settles
func (u *Updater) Rate() float64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.rate
}

func (u *Updater) UpdatedAt() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.updatedAt
}

// Age of the current rate; callers use it to warn about staleness
func (u *Updater) Age() time.Duration {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.updatedAt.IsZero() {
		return 0
	}
	return time.Since(u.updatedAt)
}
