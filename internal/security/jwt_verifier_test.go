package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"testing"
	"time"

	"pricehub/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test keys generated once for all tests
var (
	testPrivateKey     *rsa.PrivateKey
	testPublicKeyPath  string
	testPrivateKeyPath string
	otherPrivateKey    *rsa.PrivateKey
)

func TestMain(m *testing.M) {
	var err error
	testPrivateKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("Failed to generate test private key: %v", err))
	}

	otherPrivateKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("Failed to generate other private key: %v", err))
	}

	testPublicKeyPath = createTempPublicKey(&testPrivateKey.PublicKey)
	testPrivateKeyPath = createTempPrivateKey(testPrivateKey)

	code := m.Run()

	os.Remove(testPublicKeyPath)
	os.Remove(testPrivateKeyPath)

	os.Exit(code)
}

func createTempPublicKey(pubKey *rsa.PublicKey) string {
	pubKeyBytes, err := x509.MarshalPKIXPublicKey(pubKey)
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal public key: %v", err))
	}

	f, err := os.CreateTemp("", "pub-*.pem")
	if err != nil {
		panic(fmt.Sprintf("Failed to create temp file: %v", err))
	}
	defer f.Close()

	if err = pem.Encode(f, &pem.Block{Type: "PUBLIC KEY", Bytes: pubKeyBytes}); err != nil {
		panic(fmt.Sprintf("Failed to encode public key: %v", err))
	}
	return f.Name()
}

func createTempPrivateKey(priv *rsa.PrivateKey) string {
	f, err := os.CreateTemp("", "priv-*.pem")
	if err != nil {
		panic(fmt.Sprintf("Failed to create temp file: %v", err))
	}
	defer f.Close()

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	if err = pem.Encode(f, block); err != nil {
		panic(fmt.Sprintf("Failed to encode private key: %v", err))
	}
	return f.Name()
}

func createVerifier(t *testing.T, aud, iss string) *RS256Verifier {
	t.Helper()

	v, err := NewRS256Verifier(&config.JWTConfig{
		PublicKeyPath: testPublicKeyPath,
		Audience:      aud,
		Issuer:        iss,
	})
	require.NoError(t, err)
	return v
}

func signToken(t *testing.T, priv *rsa.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()

	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	return s
}

func standardClaims(expiry time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{"test-aud"},
		Issuer:    "test-iss",
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
}

// ========== Constructor Tests ==========

func TestNewRS256Verifier_MissingFile(t *testing.T) {
	v, err := NewRS256Verifier(&config.JWTConfig{PublicKeyPath: "/nonexistent.pem"})

	assert.Error(t, err)
	assert.Nil(t, v)
	assert.Contains(t, err.Error(), "failed to read public key")
}

func TestNewRS256Verifier_Success(t *testing.T) {
	v := createVerifier(t, "test-aud", "test-iss")

	assert.NotNil(t, v.PubKey)
	assert.Equal(t, time.Minute, v.Leeway)
}

// ========== VerifyBearer Tests ==========

func TestVerifyBearer_ValidToken(t *testing.T) {
	v := createVerifier(t, "test-aud", "test-iss")
	token := signToken(t, testPrivateKey, standardClaims(time.Hour))

	claims, err := v.VerifyBearer("Bearer " + token)

	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestVerifyBearer_CaseInsensitiveScheme(t *testing.T) {
	v := createVerifier(t, "test-aud", "test-iss")
	token := signToken(t, testPrivateKey, standardClaims(time.Hour))

	_, err := v.VerifyBearer("bearer " + token)
	assert.NoError(t, err)
}

func TestVerifyBearer_EmptyChecksSkippedWhenUnconfigured(t *testing.T) {
	v := createVerifier(t, "", "")
	claims := standardClaims(time.Hour)
	claims.Audience = jwt.ClaimStrings{"whatever"}
	claims.Issuer = "whoever"

	_, err := v.VerifyBearer("Bearer " + signToken(t, testPrivateKey, claims))
	assert.NoError(t, err)
}

func TestVerifyBearer_Rejects(t *testing.T) {
	v := createVerifier(t, "test-aud", "test-iss")

	wrongAud := standardClaims(time.Hour)
	wrongAud.Audience = jwt.ClaimStrings{"other"}

	wrongIss := standardClaims(time.Hour)
	wrongIss.Issuer = "other"

	noExpiry := standardClaims(time.Hour)
	noExpiry.ExpiresAt = nil

	testCases := []struct {
		name   string
		header string
	}{
		{"empty_header", ""},
		{"no_bearer_prefix", "Token abc"},
		{"garbage", "Bearer not-a-token"},
		{"wrong_key", "Bearer " + signToken(t, otherPrivateKey, standardClaims(time.Hour))},
		{"expired", "Bearer " + signToken(t, testPrivateKey, standardClaims(-2*time.Hour))},
		{"wrong_audience", "Bearer " + signToken(t, testPrivateKey, wrongAud)},
		{"wrong_issuer", "Bearer " + signToken(t, testPrivateKey, wrongIss)},
		{"missing_expiry", "Bearer " + signToken(t, testPrivateKey, noExpiry)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := v.VerifyBearer(tc.header)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}

func TestVerifyBearer_LeewayToleratesSmallSkew(t *testing.T) {
	v := createVerifier(t, "test-aud", "test-iss")

	// expired 30s ago, inside the one-minute leeway
	_, err := v.VerifyBearer("Bearer " + signToken(t, testPrivateKey, standardClaims(-30*time.Second)))
	assert.NoError(t, err)
}
