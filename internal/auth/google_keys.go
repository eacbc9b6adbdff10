package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCertsTTL = time.Hour
	// minCertsRefresh bounds refetches triggered by unknown key ids.
	minCertsRefresh = 30 * time.Second
)

var errUnknownSigningKey = errors.New("signing key not published by google")

// googleKeySet caches Google's RSA signing keys for as long as the certs
// response allows.
type googleKeySet struct {
	url        string
	httpClient *http.Client
	fallback   time.Duration
	clock      func() time.Time
	logger     *zap.Logger

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	fetchedAt time.Time
}

func newGoogleKeySet(url string, httpClient *http.Client, fallback time.Duration, clock func() time.Time, logger *zap.Logger) *googleKeySet {
	if fallback <= 0 {
		fallback = defaultCertsTTL
	}
	return &googleKeySet{url: url, httpClient: httpClient, fallback: fallback, clock: clock, logger: logger}
}

// key returns the public key for keyID, refetching the certs when they are
// stale or when Google may have rotated in a new key.
func (s *googleKeySet) key(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	if keyID == "" {
		return nil, errors.New("token header has no kid")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	fresh := s.keys != nil && now.Before(s.expiresAt)
	if key, ok := s.keys[keyID]; ok && fresh {
		return key, nil
	}
	if fresh && now.Sub(s.fetchedAt) < minCertsRefresh {
		return nil, errUnknownSigningKey
	}
	if err := s.refresh(ctx, now); err != nil {
		return nil, err
	}
	if key, ok := s.keys[keyID]; ok {
		return key, nil
	}
	return nil, errUnknownSigningKey
}

func (s *googleKeySet) refresh(ctx context.Context, now time.Time) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return err
	}
	response, err := s.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("fetching google certs: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching google certs: status %d", response.StatusCode)
	}

	var document struct {
		Keys []struct {
			KeyID   string `json:"kid"`
			KeyType string `json:"kty"`
			Use     string `json:"use"`
			N       string `json:"n"`
			E       string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return fmt.Errorf("decoding google certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, entry := range document.Keys {
		if entry.KeyType != "RSA" || (entry.Use != "" && entry.Use != "sig") {
			continue
		}
		key, err := rsaKey(entry.N, entry.E)
		if err != nil {
			s.logger.Warn("ignoring google cert", zap.String("kid", entry.KeyID), zap.Error(err))
			continue
		}
		keys[entry.KeyID] = key
	}
	if len(keys) == 0 {
		return errors.New("google certs contained no rsa signing keys")
	}

	s.keys = keys
	s.fetchedAt = now
	s.expiresAt = now.Add(cacheLifetime(response.Header.Get("Cache-Control"), s.fallback))
	s.logger.Debug("google certs refreshed", zap.Int("keys", len(keys)), zap.Time("expires_at", s.expiresAt))
	return nil
}

// cacheLifetime reads max-age from a Cache-Control header.
func cacheLifetime(header string, fallback time.Duration) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func rsaKey(modulus string, exponent string) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(modulus)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(exponent)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
