package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	rdb "pricehub/internal/stores/redis"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== Test Helpers ==========

func setupTestRedisForRL(t *testing.T) (*miniredis.Miniredis, *rdb.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := &rdb.Client{
		Client: goredis.NewClient(&goredis.Options{
			Addr: mr.Addr(),
		}),
	}

	return mr, client
}

func createTestRateLimitConfig(ipBurst int) RateLimitConfig {
	return RateLimitConfig{
		ByIP: RateBucket{
			RefillPerSec: 1,
			Burst:        ipBurst,
			TTL:          2 * time.Minute,
		},
		ByJWT: RateBucket{
			RefillPerSec: 1,
			Burst:        100,
			TTL:          2 * time.Minute,
		},
	}
}

func doRequest(mw *RateLimitMiddleware, ip string) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)
	return rec
}

// ========== Constructor Tests ==========

func TestNewRateLimit_DefaultTTL(t *testing.T) {
	_, client := setupTestRedisForRL(t)
	defer client.Close()

	mw := NewRateLimit(client.Client, RateLimitConfig{})

	assert.Equal(t, 2*time.Minute, mw.cfg.ByIP.TTL)
	assert.Equal(t, 2*time.Minute, mw.cfg.ByJWT.TTL)
}

// ========== Handler Tests ==========

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	_, client := setupTestRedisForRL(t)
	defer client.Close()

	mw := NewRateLimit(client.Client, createTestRateLimitConfig(5))

	for i := 0; i < 5; i++ {
		rec := doRequest(mw, "10.0.0.1")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_BlocksBeyondBurst(t *testing.T) {
	_, client := setupTestRedisForRL(t)
	defer client.Close()

	mw := NewRateLimit(client.Client, createTestRateLimitConfig(3))

	for i := 0; i < 3; i++ {
		rec := doRequest(mw, "10.0.0.2")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(mw, "10.0.0.2")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimit_IsolatesClientsByIP(t *testing.T) {
	_, client := setupTestRedisForRL(t)
	defer client.Close()

	mw := NewRateLimit(client.Client, createTestRateLimitConfig(1))

	rec := doRequest(mw, "10.0.0.3")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(mw, "10.0.0.3")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// a different client still has its own bucket
	rec = doRequest(mw, "10.0.0.4")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_XForwardedForWins(t *testing.T) {
	_, client := setupTestRedisForRL(t)
	defer client.Close()

	mw := NewRateLimit(client.Client, createTestRateLimitConfig(1))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	send := func(xff string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "127.0.0.1:9999"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		mw.Handler(next).ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send("1.2.3.4, 10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send("1.2.3.4").Code,
		"the first forwarded address is the client identity")
	assert.Equal(t, http.StatusOK, send("5.6.7.8").Code)
}

func TestRateLimit_RedisDownFailsOpen(t *testing.T) {
	mr, client := setupTestRedisForRL(t)
	defer client.Close()

	mw := NewRateLimit(client.Client, createTestRateLimitConfig(1))
	mr.Close()

	// on redis failure traffic is not blocked
	for i := 0; i < 5; i++ {
		rec := doRequest(mw, "10.0.0.5")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_Replenishes(t *testing.T) {
	_, client := setupTestRedisForRL(t)
	defer client.Close()

	cfg := createTestRateLimitConfig(1)
	cfg.ByIP.RefillPerSec = 10
	mw := NewRateLimit(client.Client, cfg)

	require.Equal(t, http.StatusOK, doRequest(mw, "10.0.0.6").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(mw, "10.0.0.6").Code)

	// bucket state is keyed on wall-clock millis passed into the script,
	// so real time has to pass
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, http.StatusOK, doRequest(mw, "10.0.0.6").Code)
}
