package cache

import (
	"fmt"
	"testing"
	"time"

	"pricehub/internal/config"
	"pricehub/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== Test Helpers ==========

func createTestCacheConfig(maxEntries, negMax int, negTTL time.Duration) *config.CacheConfig {
	return &config.CacheConfig{
		MaxEntries:         maxEntries,
		NegativeMaxEntries: negMax,
		NegativeTTL:        negTTL,
	}
}

func testTick(key string, price float64, ts time.Time) *domain.PriceTick {
	return &domain.PriceTick{
		Key:       key,
		PriceUSD:  price,
		Timestamp: ts,
		Source:    domain.SourceLive,
	}
}

// ========== Constructor Tests ==========

func TestNew_Success(t *testing.T) {
	store, err := New(createTestCacheConfig(100, 200, time.Minute))

	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, store.NegativeLen())
}

func TestNew_NilConfig(t *testing.T) {
	store, err := New(nil)

	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "config is required")
}

func TestNew_Defaults(t *testing.T) {
	store, err := New(&config.CacheConfig{})

	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, store.negativeTTL)
}

// ========== Positive Cache Tests ==========

func TestStore_PutGet(t *testing.T) {
	store, err := New(createTestCacheConfig(10, 10, time.Minute))
	require.NoError(t, err)

	tick := testTick("mint-a", 1.23, time.Now())
	store.Put("mint-a", tick)

	got, ok := store.Get("mint-a")
	require.True(t, ok)
	assert.Equal(t, tick, got)
	assert.Equal(t, 1, store.Len())
}

func TestStore_Get_Miss(t *testing.T) {
	store, err := New(createTestCacheConfig(10, 10, time.Minute))
	require.NoError(t, err)

	got, ok := store.Get("unknown")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestStore_Put_Overwrite(t *testing.T) {
	store, err := New(createTestCacheConfig(10, 10, time.Minute))
	require.NoError(t, err)

	store.Put("mint-a", testTick("mint-a", 1.0, time.Now()))
	store.Put("mint-a", testTick("mint-a", 2.0, time.Now()))

	got, ok := store.Get("mint-a")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.PriceUSD)
	assert.Equal(t, 1, store.Len())
}

func TestStore_LRUEviction(t *testing.T) {
	store, err := New(createTestCacheConfig(3, 10, time.Minute))
	require.NoError(t, err)

	now := time.Now()
	store.Put("a", testTick("a", 1, now))
	store.Put("b", testTick("b", 2, now))
	store.Put("c", testTick("c", 3, now))

	// touch "a" so "b" becomes least recent
	_, ok := store.Get("a")
	require.True(t, ok)

	store.Put("d", testTick("d", 4, now))

	assert.Equal(t, 3, store.Len())
	_, ok = store.Get("b")
	assert.False(t, ok, "least-recently-used entry should be evicted")
	_, ok = store.Get("a")
	assert.True(t, ok, "recently-read entry should survive")
	_, ok = store.Get("d")
	assert.True(t, ok)
}

func TestStore_LastWriteAt(t *testing.T) {
	store, err := New(createTestCacheConfig(10, 10, time.Minute))
	require.NoError(t, err)

	assert.True(t, store.LastWriteAt().IsZero(), "no writes yet")

	before := time.Now()
	store.Put("a", testTick("a", 1, before))

	at := store.LastWriteAt()
	assert.False(t, at.IsZero())
	assert.WithinDuration(t, before, at, time.Second)
}

// ========== Negative Cache Tests ==========

func TestStore_Negative_PutGet(t *testing.T) {
	store, err := New(createTestCacheConfig(10, 10, time.Minute))
	require.NoError(t, err)

	entry := domain.NegativeEntry{At: time.Now(), Reason: domain.ReasonNotFound}
	store.PutNegative("ghost", entry)

	got, ok := store.GetNegative("ghost")
	require.True(t, ok)
	assert.Equal(t, domain.ReasonNotFound, got.Reason)
	assert.Equal(t, 1, store.NegativeLen())
}

func TestStore_Negative_TTLExpiry(t *testing.T) {
	store, err := New(createTestCacheConfig(10, 10, 50*time.Millisecond))
	require.NoError(t, err)

	store.PutNegative("ghost", domain.NegativeEntry{At: time.Now(), Reason: domain.ReasonNoContent})

	_, ok := store.GetNegative("ghost")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = store.GetNegative("ghost")
	assert.False(t, ok, "expired negative entry must read as absent")
	assert.Equal(t, 0, store.NegativeLen(), "expired entry is removed on read")
}

func TestStore_ClearNegative(t *testing.T) {
	store, err := New(createTestCacheConfig(10, 10, time.Minute))
	require.NoError(t, err)

	store.PutNegative("ghost", domain.NegativeEntry{At: time.Now(), Reason: domain.ReasonNotFound})
	store.ClearNegative("ghost")

	_, ok := store.GetNegative("ghost")
	assert.False(t, ok)
}

func TestStore_Negative_IndependentOfPositive(t *testing.T) {
	store, err := New(createTestCacheConfig(2, 10, time.Minute))
	require.NoError(t, err)

	now := time.Now()
	store.PutNegative("ghost", domain.NegativeEntry{At: now, Reason: domain.ReasonNotFound})

	// overflow the positive cache; negative survives
	store.Put("a", testTick("a", 1, now))
	store.Put("b", testTick("b", 2, now))
	store.Put("c", testTick("c", 3, now))

	_, ok := store.GetNegative("ghost")
	assert.True(t, ok)
}

// ========== Counter Tests ==========

func TestStore_Counters(t *testing.T) {
	store, err := New(createTestCacheConfig(10, 10, time.Minute))
	require.NoError(t, err)

	store.Put("a", testTick("a", 1, time.Now()))
	store.Get("a")       // hit
	store.Get("missing") // miss
	store.Get("missing") // miss

	store.PutNegative("ghost", domain.NegativeEntry{At: time.Now(), Reason: domain.ReasonNotFound})
	store.GetNegative("ghost")   // neg hit
	store.GetNegative("missing") // neg miss

	c := store.Counters()
	assert.Equal(t, uint64(1), c.Hits)
	assert.Equal(t, uint64(2), c.Misses)
	assert.Equal(t, uint64(1), c.NegHits)
	assert.Equal(t, uint64(1), c.NegMisses)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store, err := New(createTestCacheConfig(100, 100, time.Minute))
	require.NoError(t, err)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i%20)
				store.Put(key, testTick(key, float64(i), time.Now()))
				store.Get(key)
				store.GetNegative(key)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	assert.LessOrEqual(t, store.Len(), 100)
}
