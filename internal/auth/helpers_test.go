package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.example.com"
	testAudience = "api://minutes-gateway"
)

// testKey is an RSA signing key with its key ID.
type testKey struct {
	kid  string
	priv *rsa.PrivateKey
}

func newTestKey(t *testing.T, kid string) testKey {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return testKey{kid: kid, priv: priv}
}

func (k testKey) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = k.kid

	s, err := tok.SignedString(k.priv)
	require.NoError(t, err)

	return s
}

// jwksServer serves a mutable key set and counts fetches.
type jwksServer struct {
	*httptest.Server

	mu      sync.Mutex
	keys    []testKey
	fetches atomic.Int32
}

func newJWKSServer(t *testing.T, keys ...testKey) *jwksServer {
	t.Helper()

	js := &jwksServer{keys: keys}
	js.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		js.fetches.Add(1)

		js.mu.Lock()
		current := append([]testKey(nil), js.keys...)
		js.mu.Unlock()

		set := jwk.NewSet()

		for _, k := range current {
			key, err := jwk.Import(&k.priv.PublicKey)
			require.NoError(t, err)
			require.NoError(t, key.Set(jwk.KeyIDKey, k.kid))
			require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
			require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))
			require.NoError(t, set.AddKey(key))
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))
	t.Cleanup(js.Close)

	return js
}

func (js *jwksServer) setKeys(keys ...testKey) {
	js.mu.Lock()
	js.keys = keys
	js.mu.Unlock()
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newVerifierForTest(t *testing.T, js *jwksServer, clk *fakeClock, required ...string) *Verifier {
	t.Helper()

	v, err := NewVerifier(VerifierConfig{
		Issuer:         testIssuer,
		Audience:       testAudience,
		JWKSURL:        js.URL,
		RequiredScopes: required,
		ClockSkew:      time.Minute,
		JWKSTTL:        10 * time.Minute,
	}, nil, WithVerifierClock(clk.Now))
	require.NoError(t, err)

	return v
}

func baseClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   "subject-1",
		"email": "Alice@Example.com",
		"scope": "minutes.read minutes.write",
		"azp":   "client-app",
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}
