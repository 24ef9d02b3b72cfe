package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pricehub/internal/config"
	"pricehub/internal/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Two-tier keyed store: positive ticks and negative "not found" entries,
// both LRU-bounded with independent capacities. Negative entries are cheap,
// so their cap is larger. Reads treat an expired negative entry as absent
type Store struct {
	positive *lru.Cache[string, *domain.PriceTick]
	negative *lru.Cache[string, domain.NegativeEntry]

	negativeTTL time.Duration

	// unix nano of the last successful Put, health watermark
	lastWrite atomic.Int64

	mu        sync.Mutex
	hits      uint64
	misses    uint64
	negHits   uint64
	negMisses uint64
}

func New(cfg *config.CacheConfig) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("cache config is required")
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10_000
	}

	negMax := cfg.NegativeMaxEntries
	if negMax <= 0 {
		negMax = 50_000
	}

	negTTL := cfg.NegativeTTL
	if negTTL <= 0 {
		negTTL = 2 * time.Minute
	}

	pos, err := lru.New[string, *domain.PriceTick](maxEntries)
	if err != nil {
		return nil, err
	}

	neg, err := lru.New[string, domain.NegativeEntry](negMax)
	if err != nil {
		return nil, err
	}

	return &Store{
		positive:    pos,
		negative:    neg,
		negativeTTL: negTTL,
	}, nil
}

// Get refreshes the entry's recency order on hit
func (s *Store) Get(key string) (*domain.PriceTick, bool) {
	tick, ok := s.positive.Get(key)

	s.mu.Lock()
	if ok {
		s.hits++
	} else {
		s.misses++
	}
	s.mu.Unlock()

	return tick, ok
}

// Put unconditionally overwrites; eviction of the least-recently-used entry
// is handled by the underlying cache once capacity is exceeded
func (s *Store) Put(key string, tick *domain.PriceTick) {
	s.positive.Add(key, tick)
	s.lastWrite.Store(time.Now().UnixNano())
}

func (s *Store) GetNegative(key string) (domain.NegativeEntry, bool) {
	entry, ok := s.negative.Get(key)
	if ok && time.Since(entry.At) > s.negativeTTL {
		s.negative.Remove(key)
		ok = false
	}

	s.mu.Lock()
	if ok {
		s.negHits++
	} else {
		s.negMisses++
	}
	s.mu.Unlock()

	if !ok {
		return domain.NegativeEntry{}, false
	}
	return entry, true
}

func (s *Store) PutNegative(key string, entry domain.NegativeEntry) {
	s.negative.Add(key, entry)
}

// ClearNegative drops a negative entry on out-of-band evidence that the
// asset now exists (e.g. it shows up in someone's holdings)
func (s *Store) ClearNegative(key string) {
	s.negative.Remove(key)
}

func (s *Store) Len() int         { return s.positive.Len() }
func (s *Store) NegativeLen() int { return s.negative.Len() }

// LastWriteAt reports the time of the last successful Put, zero before the
// first write
func (s *Store) LastWriteAt() time.Time {
	ns := s.lastWrite.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

type Counters struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	NegHits   uint64 `json:"negative_hits"`
	NegMisses uint64 `json:"negative_misses"`
}

func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Counters{
		Hits:      s.hits,
		Misses:    s.misses,
		NegHits:   s.negHits,
		NegMisses: s.negMisses,
	}
}
