package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testClientID = "moochie-android.apps.googleusercontent.com"

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// googleCerts serves one RSA key the way Google's certs endpoint does.
type googleCerts struct {
	key     *rsa.PrivateKey
	server  *httptest.Server
	fetches atomic.Int32
	clock   *manualClock
}

func newGoogleCerts(t *testing.T, cacheControl string) *googleCerts {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	certs := &googleCerts{
		key:   key,
		clock: &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	certs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		certs.fetches.Add(1)
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{"kty": "EC", "kid": "ec-key", "use": "sig"},
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": "key-1",
					"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(certs.server.Close)
	return certs
}

func (g *googleCerts) verifier(t *testing.T) *GoogleVerifier {
	t.Helper()
	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		ClientID:   testClientID,
		CertsURL:   g.server.URL,
		HTTPClient: g.server.Client(),
		Clock:      g.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build verifier: %v", err)
	}
	return verifier
}

func (g *googleCerts) claims() jwt.MapClaims {
	now := g.clock.Now()
	return jwt.MapClaims{
		"aud":                                    testClientID,
		"iss":                                    "https://accounts.google.com",
		"sub":                                    "110248495921238986420",
		"iat":                                    now.Unix(),
		"exp":                                    now.Add(time.Hour).Unix(),
		"email":                                  " ann@example.com ",
		"email_verified":                         true,
		"name":                                   "Ann",
		"picture":                                "https://lh3.googleusercontent.com/ann",
	}
}

func (g *googleCerts) sign(t *testing.T, claims jwt.MapClaims, keyID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(g.key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestGoogleVerifierReturnsProfile(t *testing.T) {
	certs := newGoogleCerts(t, "public, max-age=3600, must-revalidate")
	verifier := certs.verifier(t)

	claims, err := verifier.Verify(context.Background(), certs.sign(t, certs.claims(), "key-1"))
	if err != nil {
		t.Fatalf("expected token to verify: %v", err)
	}
	if claims.Subject != "110248495921238986420" || claims.Email != "ann@example.com" || !claims.EmailVerified {
		t.Fatalf("unexpected identity claims %+v", claims)
	}
	if claims.Name != "Ann" || claims.Picture != "https://lh3.googleusercontent.com/ann" {
		t.Fatalf("unexpected profile claims %+v", claims)
	}
	if !claims.Expiry.Equal(certs.clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", claims.Expiry)
	}

	if _, err := verifier.Verify(context.Background(), certs.sign(t, certs.claims(), "key-1")); err != nil {
		t.Fatalf("second verification failed: %v", err)
	}
	if got := certs.fetches.Load(); got != 1 {
		t.Fatalf("expected cached certs to be reused, fetched %d times", got)
	}
}

func TestGoogleVerifierRefusesForeignTokens(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(jwt.MapClaims)
		keyID  string
	}{
		{name: "other client", mutate: func(c jwt.MapClaims) { c["aud"] = "someone-else" }},
		{name: "untrusted issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC).Unix() }},
		{name: "no expiry", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
		{name: "no subject", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
		{name: "unpublished key", keyID: "key-9"},
		{name: "missing key id", keyID: "-"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			certs := newGoogleCerts(t, "")
			claims := certs.claims()
			if testCase.mutate != nil {
				testCase.mutate(claims)
			}
			keyID := "key-1"
			switch testCase.keyID {
			case "":
			case "-":
				keyID = ""
			default:
				keyID = testCase.keyID
			}
			_, err := certs.verifier(t).Verify(context.Background(), certs.sign(t, claims, keyID))
			if !errors.Is(err, ErrInvalidIDToken) {
				t.Fatalf("expected invalid id token error, got %v", err)
			}
		})
	}
}

func TestGoogleVerifierRejectsSymmetricTokens(t *testing.T) {
	certs := newGoogleCerts(t, "")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, certs.claims())
	signed, err := token.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := certs.verifier(t).Verify(context.Background(), signed); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected HS256 token to be refused, got %v", err)
	}
	if _, err := certs.verifier(t).Verify(context.Background(), "   "); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected blank token to be refused, got %v", err)
	}
}

func TestGoogleVerifierRefetchesCertsAfterMaxAge(t *testing.T) {
	certs := newGoogleCerts(t, "public, max-age=60")
	verifier := certs.verifier(t)

	if _, err := verifier.Verify(context.Background(), certs.sign(t, certs.claims(), "key-1")); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	certs.clock.Advance(61 * time.Second)
	if _, err := verifier.Verify(context.Background(), certs.sign(t, certs.claims(), "key-1")); err != nil {
		t.Fatalf("verification after max-age failed: %v", err)
	}
	if got := certs.fetches.Load(); got != 2 {
		t.Fatalf("expected certs to be refetched after max-age, fetched %d times", got)
	}
}

func TestGoogleVerifierThrottlesUnknownKeyRefetch(t *testing.T) {
	certs := newGoogleCerts(t, "public, max-age=3600")
	verifier := certs.verifier(t)

	if _, err := verifier.Verify(context.Background(), certs.sign(t, certs.claims(), "key-1")); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	rotated := certs.sign(t, certs.claims(), "key-2")
	if _, err := verifier.Verify(context.Background(), rotated); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected unknown key to be refused, got %v", err)
	}
	if got := certs.fetches.Load(); got != 1 {
		t.Fatalf("expected no refetch right after a fetch, fetched %d times", got)
	}

	certs.clock.Advance(minCertsRefresh + time.Second)
	if _, err := verifier.Verify(context.Background(), certs.sign(t, certs.claims(), "key-2")); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected unknown key to be refused, got %v", err)
	}
	if got := certs.fetches.Load(); got != 2 {
		t.Fatalf("expected one refetch for a possibly rotated key, fetched %d times", got)
	}
}

func TestNewGoogleVerifierValidatesConfig(t *testing.T) {
	testCases := []struct {
		name   string
		config GoogleVerifierConfig
	}{
		{name: "missing client id", config: GoogleVerifierConfig{CertsURL: "https://example.com/certs"}},
		{name: "missing certs url", config: GoogleVerifierConfig{ClientID: testClientID, CertsURL: " "}},
		{name: "blank issuers", config: GoogleVerifierConfig{ClientID: testClientID, CertsURL: "https://example.com/certs", Issuers: []string{"", "  "}}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewGoogleVerifier(testCase.config); !errors.Is(err, ErrInvalidVerifierConfig) {
				t.Fatalf("expected invalid config error, got %v", err)
			}
		})
	}
}

func TestCacheLifetime(t *testing.T) {
	fallback := 5 * time.Minute
	testCases := map[string]time.Duration{
		"":                                       fallback,
		"no-store":                               fallback,
		"public, max-age=19432, must-revalidate": 19432 * time.Second,
		"MAX-AGE=30":                             30 * time.Second,
		"max-age=abc":                            fallback,
		"max-age=0":                              fallback,
	}
	for header, expected := range testCases {
		if got := cacheLifetime(header, fallback); got != expected {
			t.Fatalf("cacheLifetime(%q) = %v, want %v", header, got, expected)
		}
	}
}
