package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	// ErrInvalidIDToken wraps every reason a Google sign-in token is refused.
	ErrInvalidIDToken = errors.New("auth: invalid google id token")
	// ErrInvalidVerifierConfig reports an unusable GoogleVerifierConfig.
	ErrInvalidVerifierConfig = errors.New("auth: invalid google verifier config")
)

// googleIssuers are the values Google puts in the iss claim of ID tokens.
var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

type GoogleVerifierConfig struct {
	// ClientID is the OAuth client the tokens must be minted for.
	ClientID   string
	CertsURL   string
	Issuers    []string
	HTTPClient *http.Client
	// CacheTTL applies when the certs response has no max-age.
	CacheTTL time.Duration
	Logger   *zap.Logger
	Clock    func() time.Time
}

// GoogleClaims is the signed-in Google profile a Moochie identity is built from.
type GoogleClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Expiry        time.Time
}

type googleIDToken struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// GoogleVerifier checks Google ID tokens against Google's published certs.
type GoogleVerifier struct {
	clientID string
	issuers  map[string]bool
	keys     *googleKeySet
	clock    func() time.Time
}

func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id required", ErrInvalidVerifierConfig)
	}
	certsURL := strings.TrimSpace(cfg.CertsURL)
	if certsURL == "" {
		return nil, fmt.Errorf("%w: certs url required", ErrInvalidVerifierConfig)
	}

	issuerList := cfg.Issuers
	if issuerList == nil {
		issuerList = googleIssuers
	}
	issuers := make(map[string]bool, len(issuerList))
	for _, issuer := range issuerList {
		if trimmed := strings.TrimSpace(issuer); trimmed != "" {
			issuers[trimmed] = true
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: at least one issuer required", ErrInvalidVerifierConfig)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &GoogleVerifier{
		clientID: clientID,
		issuers:  issuers,
		keys:     newGoogleKeySet(certsURL, httpClient, cfg.CacheTTL, clock, logger),
		clock:    clock,
	}, nil
}

// Verify checks signature, audience, issuer and expiry, then returns the profile.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (GoogleClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return GoogleClaims{}, fmt.Errorf("%w: empty token", ErrInvalidIDToken)
	}

	var token googleIDToken
	_, err := jwt.ParseWithClaims(rawToken, &token, func(parsed *jwt.Token) (interface{}, error) {
		keyID, _ := parsed.Header["kid"].(string)
		return v.keys.key(ctx, keyID)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return GoogleClaims{}, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	if !v.issuers[token.Issuer] {
		return GoogleClaims{}, fmt.Errorf("%w: issuer %q not trusted", ErrInvalidIDToken, token.Issuer)
	}
	if strings.TrimSpace(token.Subject) == "" {
		return GoogleClaims{}, fmt.Errorf("%w: missing subject", ErrInvalidIDToken)
	}

	return GoogleClaims{
		Subject:       token.Subject,
		Email:         strings.TrimSpace(token.Email),
		EmailVerified: token.EmailVerified,
		Name:          strings.TrimSpace(token.Name),
		Picture:       strings.TrimSpace(token.Picture),
		Expiry:        token.ExpiresAt.Time,
	}, nil
}
