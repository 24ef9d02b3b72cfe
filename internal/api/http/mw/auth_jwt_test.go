package mw

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pricehub/internal/security"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== Test Helpers ==========

// generate test RSA keys
func generateTestKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

// create test JWT token
func createTestToken(t *testing.T, privateKey *rsa.PrivateKey, sub, aud, iss string, expiry time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		Audience:  jwt.ClaimStrings{aud},
		Issuer:    iss,
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, err := token.SignedString(privateKey)
	require.NoError(t, err)
	return tokenString
}

func createTestVerifier(pubKey *rsa.PublicKey) *security.RS256Verifier {
	return &security.RS256Verifier{
		PubKey: pubKey,
		Aud:    "test-aud",
		Iss:    "test-iss",
		Leeway: time.Minute,
	}
}

func okHandler() (http.Handler, *int) {
	calls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}), &calls
}

// ========== Handler Tests ==========

func TestJWT_NilVerifierPassesThrough(t *testing.T) {
	next, calls := okHandler()
	mw := NewJWT(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *calls)
}

func TestJWT_ValidToken(t *testing.T) {
	privateKey, pubKey := generateTestKeys(t)
	mw := NewJWT(createTestVerifier(pubKey))
	next, calls := okHandler()

	token := createTestToken(t, privateKey, "user-1", "test-aud", "test-iss", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *calls)
}

func TestJWT_Rejects(t *testing.T) {
	privateKey, pubKey := generateTestKeys(t)
	otherKey, _ := generateTestKeys(t)
	mw := NewJWT(createTestVerifier(pubKey))

	testCases := []struct {
		name   string
		header string
	}{
		{"missing_header", ""},
		{"not_bearer", "Basic abc"},
		{"garbage_token", "Bearer not.a.jwt"},
		{"wrong_key", "Bearer " + createTestToken(t, otherKey, "u", "test-aud", "test-iss", time.Hour)},
		{"expired", "Bearer " + createTestToken(t, privateKey, "u", "test-aud", "test-iss", -2*time.Hour)},
		{"wrong_audience", "Bearer " + createTestToken(t, privateKey, "u", "other-aud", "test-iss", time.Hour)},
		{"wrong_issuer", "Bearer " + createTestToken(t, privateKey, "u", "test-aud", "other-iss", time.Hour)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, calls := okHandler()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mw.Handler(next).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, 0, *calls, "handler must not run on auth failure")
		})
	}
}
