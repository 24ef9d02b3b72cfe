package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pricehub/internal/breaker"
	"pricehub/internal/cache"
	"pricehub/internal/coalesce"
	"pricehub/internal/config"
	"pricehub/internal/domain"
	"pricehub/internal/metrics"
	"pricehub/internal/providers"
	"pricehub/internal/pubsub"
	"pricehub/internal/sharedcache"

	"gitlab.com/nevasik7/alerting/logger"
)

// Minimum number of never-cached keys for which GetPrices switches from
// individual lookups to the bulk provider path
const bulkThreshold = 3

// Budget for one live fetch chain, detached from any single caller so a
// coalesced flight always settles
const liveFetchTimeout = 15 * time.Second

type RateSource interface {
	Rate() float64
	Age() time.Duration
}

type StreamHealth interface {
	Connected() bool
}

type Archiver interface {
	Enqueue(tick *domain.PriceTick) error
	Health(ctx context.Context) error
}

// PriceService is the single orchestration point: staleness classification,
// coalesced+breaker-guarded fallback fetches, negative caching, and the
// write-through path every accepted tick takes (local store -> shared cache
// -> in-process fan-out -> archive)
type PriceService struct {
	log     logger.Logger
	store   *cache.Store
	shared  *sharedcache.Cache
	fanout  *pubsub.Fanout
	flights *coalesce.Group

	tokenProvs []providers.TokenProvider
	batchProv  providers.BatchTokenProvider
	breakers   map[string]*breaker.Breaker
	archiver   Archiver

	quoteMint string
	fresh     time.Duration
	maxAge    time.Duration

	rates   RateSource
	stream  StreamHealth
	backlog func() int
}

func New(
	log logger.Logger,
	cacheCfg *config.CacheConfig,
	breakerCfg *config.BreakerConfig,
	quoteMint string,
	store *cache.Store,
	shared *sharedcache.Cache,
	fanout *pubsub.Fanout,
	tokenProvs []providers.TokenProvider,
	batchProv providers.BatchTokenProvider,
	archiver Archiver,
) (*PriceService, error) {
	if store == nil || shared == nil || fanout == nil {
		return nil, errors.New("store, shared cache and fanout are required")
	}
	if len(tokenProvs) == 0 {
		return nil, errors.New("at least one token provider is required")
	}

	fresh := cacheCfg.FreshThreshold
	if fresh <= 0 {
		fresh = 10 * time.Second
	}
	maxAge := cacheCfg.MaxAge
	if maxAge <= fresh {
		maxAge = time.Minute
	}
	if quoteMint == "" {
		quoteMint = domain.QuoteMint
	}

	breakers := make(map[string]*breaker.Breaker, len(tokenProvs)+1)
	for _, p := range tokenProvs {
		b, err := breaker.New(log, p.Name(), breakerCfg)
		if err != nil {
			return nil, err
		}
		breakers[p.Name()] = b
	}
	if batchProv != nil {
		if _, ok := breakers[batchProv.Name()]; !ok {
			b, err := breaker.New(log, batchProv.Name(), breakerCfg)
			if err != nil {
				return nil, err
			}
			breakers[batchProv.Name()] = b
		}
	}

	return &PriceService{
		log:        log,
		store:      store,
		shared:     shared,
		fanout:     fanout,
		flights:    coalesce.New(),
		tokenProvs: tokenProvs,
		batchProv:  batchProv,
		breakers:   breakers,
		archiver:   archiver,
		quoteMint:  quoteMint,
		fresh:      fresh,
		maxAge:     maxAge,
	}, nil
}

// Bind attaches the collaborators that are constructed after the service
// (they need it as their tick sink). Called once during wiring, before any
// traffic
func (s *PriceService) Bind(rates RateSource, stream StreamHealth, backlog func() int) {
	s.rates = rates
	s.stream = stream
	s.backlog = backlog
}

// AcceptTick is the single write-through path for every accepted tick,
// whatever produced it. A positive price is out-of-band evidence the asset
// exists, so any negative entry is dropped
func (s *PriceService) AcceptTick(tick *domain.PriceTick) {
	s.store.Put(tick.Key, tick)
	s.store.ClearNegative(tick.Key)
	metrics.LastWriteAge.Set(0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.shared.PutTick(ctx, tick); err != nil {
		s.log.Errorf("Failed to write tick %s to shared cache, error=%v", tick.Key, err)
	}

	s.fanout.Notify(tick)

	if s.archiver != nil {
		if err := s.archiver.Enqueue(tick); err != nil {
			s.log.Debugf("Failed to enqueue tick %s for archive, error=%v", tick.Key, err)
		}
	}
}

// GetPrice returns the best-known USD price, falling through cache tiers to
// a live fetch. "No known price" is the zero sentinel, never an error
func (s *PriceService) GetPrice(ctx context.Context, key string) float64 {
	if key == s.quoteMint {
		if s.rates == nil {
			return 0
		}
		return s.rates.Rate()
	}

	now := time.Now()
	if tick, ok := s.store.Get(key); ok {
		age := tick.Age(now)
		switch {
		case age <= s.fresh:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return tick.PriceUSD
		case age <= s.maxAge:
			// stale-while-revalidate: serve immediately, refresh behind
			// the caller's back
			metrics.CacheLookups.WithLabelValues("stale").Inc()
			s.revalidate(key)
			return tick.PriceUSD
		}
	}

	if _, ok := s.store.GetNegative(key); ok {
		metrics.CacheLookups.WithLabelValues("negative").Inc()
		return 0
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	if tick, ok, err := s.shared.GetTick(ctx, key); err == nil && ok && tick.Age(now) <= s.maxAge {
		s.store.Put(key, tick)
		return tick.PriceUSD
	} else if err != nil {
		s.log.Debugf("Shared cache lookup for %s failed, error=%v", key, err)
	}

	tick, err := s.fetchLive(key)
	if err != nil || tick == nil {
		return 0
	}
	return tick.PriceUSD
}

// GetPrices applies the same classification per key, batching the shared
// cache consultation into one MGET and live fetches into one bulk call
// once enough keys need it. Negative-cached keys are skipped outright
func (s *PriceService) GetPrices(ctx context.Context, keys []string) map[string]float64 {
	out := make(map[string]float64, len(keys))
	now := time.Now()

	var needShared []string
	for _, key := range keys {
		if key == s.quoteMint {
			if s.rates != nil {
				out[key] = s.rates.Rate()
			} else {
				out[key] = 0
			}
			continue
		}

		if tick, ok := s.store.Get(key); ok {
			age := tick.Age(now)
			if age <= s.maxAge {
				if age > s.fresh {
					metrics.CacheLookups.WithLabelValues("stale").Inc()
					s.revalidate(key)
				} else {
					metrics.CacheLookups.WithLabelValues("hit").Inc()
				}
				out[key] = tick.PriceUSD
				continue
			}
		}

		if _, ok := s.store.GetNegative(key); ok {
			metrics.CacheLookups.WithLabelValues("negative").Inc()
			out[key] = 0
			continue
		}

		metrics.CacheLookups.WithLabelValues("miss").Inc()
		needShared = append(needShared, key)
	}

	var needLive []string
	if len(needShared) > 0 {
		sharedTicks, err := s.shared.GetTicks(ctx, needShared)
		if err != nil {
			s.log.Debugf("Shared cache multi-get failed, error=%v", err)
			sharedTicks = nil
		}

		for _, key := range needShared {
			if tick, ok := sharedTicks[key]; ok && tick.Age(now) <= s.maxAge {
				s.store.Put(key, tick)
				out[key] = tick.PriceUSD
				continue
			}
			needLive = append(needLive, key)
		}
	}

	switch {
	case len(needLive) >= bulkThreshold && s.batchProv != nil:
		for key, price := range s.fetchBulk(needLive) {
			out[key] = price
		}
		for _, key := range needLive {
			if _, ok := out[key]; !ok {
				out[key] = 0
			}
		}
	default:
		for _, key := range needLive {
			tick, err := s.fetchLive(key)
			if err != nil || tick == nil {
				out[key] = 0
				continue
			}
			out[key] = tick.PriceUSD
		}
	}

	return out
}

// RefreshKey runs one fallback refresh for the scheduler. A key that is
// still fresh is left alone
func (s *PriceService) RefreshKey(ctx context.Context, key string) error {
	if tick, ok := s.store.Get(key); ok && tick.Age(time.Now()) <= s.fresh {
		return nil
	}
	if _, ok := s.store.GetNegative(key); ok {
		return nil
	}

	_, err := s.fetchLive(key)
	return err
}

func (s *PriceService) revalidate(key string) {
	go func() {
		if _, err := s.fetchLive(key); err != nil {
			s.log.Debugf("Background revalidation for %s failed, error=%v", key, err)
		}
	}()
}

// fetchLive walks the fallback providers under coalescing and breaker
// protection. All failure shapes fall through to the next provider; full
// exhaustion records a negative entry. A (nil, nil) result means "no data"
func (s *PriceService) fetchLive(key string) (*domain.PriceTick, error) {
	return s.flights.Fetch(key, func() (*domain.PriceTick, error) {
		ctx, cancel := context.WithTimeout(context.Background(), liveFetchTimeout)
		defer cancel()

		sawNoData := false
		for _, p := range s.tokenProvs {
			var tick *domain.PriceTick
			err := s.breakers[p.Name()].Execute(ctx, func(ctx context.Context) error {
				t, lerr := p.Lookup(ctx, key)
				if lerr != nil {
					if errors.Is(lerr, providers.ErrNoData) {
						return breaker.Expected(lerr)
					}
					return lerr
				}
				tick = t
				return nil
			})

			switch {
			case err == nil && tick != nil:
				metrics.ProviderRequests.WithLabelValues(p.Name(), "ok").Inc()
				s.AcceptTick(tick)
				return tick, nil
			case errors.Is(err, breaker.ErrOpen):
				metrics.ProviderRequests.WithLabelValues(p.Name(), "breaker_open").Inc()
			case errors.Is(err, providers.ErrNoData):
				metrics.ProviderRequests.WithLabelValues(p.Name(), "no_data").Inc()
				sawNoData = true
			default:
				metrics.ProviderRequests.WithLabelValues(p.Name(), "error").Inc()
				s.log.Debugf("Provider %s failed for %s, error=%v", p.Name(), key, err)
			}
		}

		reason := domain.ReasonAllExhausted
		if sawNoData {
			reason = domain.ReasonNotFound
		}
		s.store.PutNegative(key, domain.NegativeEntry{At: time.Now(), Reason: reason})
		return nil, nil
	})
}

// fetchBulk prices many keys in one provider call; keys the provider does
// not know are negative-cached
func (s *PriceService) fetchBulk(keys []string) map[string]float64 {
	out := make(map[string]float64, len(keys))

	ctx, cancel := context.WithTimeout(context.Background(), liveFetchTimeout)
	defer cancel()

	var ticks map[string]*domain.PriceTick
	err := s.breakers[s.batchProv.Name()].Execute(ctx, func(ctx context.Context) error {
		t, berr := s.batchProv.LookupBatch(ctx, keys)
		if berr != nil {
			if errors.Is(berr, providers.ErrNoData) {
				return breaker.Expected(berr)
			}
			return berr
		}
		ticks = t
		return nil
	})
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(s.batchProv.Name(), "error").Inc()
		s.log.Debugf("Bulk fetch for %d keys failed, error=%v", len(keys), err)
		return out
	}
	metrics.ProviderRequests.WithLabelValues(s.batchProv.Name(), "ok").Inc()

	now := time.Now()
	for _, key := range keys {
		tick, ok := ticks[key]
		if !ok {
			s.store.PutNegative(key, domain.NegativeEntry{At: now, Reason: domain.ReasonNoContent})
			continue
		}
		s.AcceptTick(tick)
		out[key] = tick.PriceUSD
	}

	return out
}

// QuoteRate is the current quote-currency USD rate; zero until the first
// refresh settles
func (s *PriceService) QuoteRate() float64 {
	if s.rates == nil {
		return 0
	}
	return s.rates.Rate()
}

func (s *PriceService) QuoteRateAge() time.Duration {
	if s.rates == nil {
		return 0
	}
	return s.rates.Age()
}

// Subscribe registers an in-process callback fired on every accepted tick
func (s *PriceService) Subscribe(fn func(*domain.PriceTick)) (unsubscribe func()) {
	return s.fanout.Subscribe(fn)
}

func (s *PriceService) ClearNegativeCache(key string) {
	s.store.ClearNegative(key)
}

type Stats struct {
	CacheSize         int               `json:"cache_size"`
	NegativeCacheSize int               `json:"negative_cache_size"`
	Counters          cache.Counters    `json:"counters"`
	Breakers          map[string]string `json:"breakers"`
	StreamConnected   bool              `json:"stream_connected"`
	QuoteRate         float64           `json:"quote_rate"`
	QuoteRateAgeSec   float64           `json:"quote_rate_age_sec"`
	LastUpdateAgeSec  float64           `json:"last_update_age_sec"`
	RefreshBacklog    int               `json:"refresh_backlog"`
	Subscribers       int               `json:"subscribers"`
}

func (s *PriceService) Stats() Stats {
	st := Stats{
		CacheSize:         s.store.Len(),
		NegativeCacheSize: s.store.NegativeLen(),
		Counters:          s.store.Counters(),
		Breakers:          make(map[string]string, len(s.breakers)),
		QuoteRate:         s.QuoteRate(),
		QuoteRateAgeSec:   s.QuoteRateAge().Seconds(),
		Subscribers:       s.fanout.Len(),
	}

	for name, b := range s.breakers {
		st.Breakers[name] = string(b.State())
	}
	if s.stream != nil {
		st.StreamConnected = s.stream.Connected()
	}
	if s.backlog != nil {
		st.RefreshBacklog = s.backlog()
	}
	if at := s.store.LastWriteAt(); !at.IsZero() {
		age := time.Since(at)
		st.LastUpdateAgeSec = age.Seconds()
		metrics.LastWriteAge.Set(age.Seconds())
	}

	return st
}

func (s *PriceService) CheckDependency(ctx context.Context) error {
	errDependency := make([]string, 0, 2)

	if err := s.shared.Health(ctx); err != nil {
		errDependency = append(errDependency, fmt.Sprintf("Redis connection error: %v", err))
	}

	if s.archiver != nil {
		if err := s.archiver.Health(ctx); err != nil {
			errDependency = append(errDependency, fmt.Sprintf("ClickHouse connection error: %v", err))
		}
	}

	if len(errDependency) > 0 {
		return fmt.Errorf("dependency check failed: %v", strings.Join(errDependency, "; "))
	}

	return nil
}
