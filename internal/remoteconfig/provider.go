package remoteconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExcludedTitlesKey is the document key holding the JSON-encoded title list.
const ExcludedTitlesKey = "excluded_notification_titles"

// DefaultMinFetchInterval bounds how often the document is fetched.
const DefaultMinFetchInterval = time.Hour

const maxDocumentBytes = 1 << 20

var errUnexpectedStatus = errors.New("remoteconfig: unexpected status")

type Config struct {
	URL              string
	HTTPClient       *http.Client
	Defaults         []string
	MinFetchInterval time.Duration
	Clock            func() time.Time
	Logger           *zap.Logger
}

// Provider serves the excluded-title list. It starts from embedded defaults
// and activates remote values after a successful fetch; failed fetches keep
// whatever was active before.
type Provider struct {
	url              string
	httpClient       *http.Client
	minFetchInterval time.Duration
	clock            func() time.Time
	logger           *zap.Logger

	mu          sync.RWMutex
	titles      []string
	excluded    map[string]struct{}
	lastAttempt time.Time
}

func NewProvider(cfg Config) *Provider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	interval := cfg.MinFetchInterval
	if interval <= 0 {
		interval = DefaultMinFetchInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := &Provider{
		url:              strings.TrimSpace(cfg.URL),
		httpClient:       httpClient,
		minFetchInterval: interval,
		clock:            clock,
		logger:           logger,
	}
	provider.activate(cfg.Defaults)
	return provider
}

// Titles returns a copy of the active excluded titles.
func (p *Provider) Titles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.titles))
	copy(out, p.titles)
	return out
}

// Excluded reports whether title is in the active set.
func (p *Provider) Excluded(_ context.Context, title string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.excluded[title]
	return ok
}

// Refresh fetches and activates the remote document unless the last attempt
// is younger than the minimum fetch interval. It reports whether a fetch ran.
func (p *Provider) Refresh(ctx context.Context) (bool, error) {
	if p.url == "" {
		return false, nil
	}
	now := p.clock()
	p.mu.Lock()
	if !p.lastAttempt.IsZero() && now.Sub(p.lastAttempt) < p.minFetchInterval {
		p.mu.Unlock()
		return false, nil
	}
	p.lastAttempt = now
	p.mu.Unlock()

	titles, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn("remote config fetch failed, keeping active values", zap.Error(err))
		return true, err
	}
	p.activate(titles)
	p.logger.Info("remote config activated", zap.Int("excluded_titles", len(titles)))
	return true, nil
}

// Run refreshes once immediately and then on every interval until ctx ends.
func (p *Provider) Run(ctx context.Context) {
	_, _ = p.Refresh(ctx)
	ticker := time.NewTicker(p.minFetchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.Refresh(ctx)
		}
	}
}

func (p *Provider) fetch(ctx context.Context) ([]string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	response, err := p.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", errUnexpectedStatus, response.StatusCode)
	}

	var document map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(response.Body, maxDocumentBytes)).Decode(&document); err != nil {
		return nil, fmt.Errorf("remoteconfig: decode document: %w", err)
	}
	raw, ok := document[ExcludedTitlesKey]
	if !ok {
		return nil, fmt.Errorf("remoteconfig: missing %s", ExcludedTitlesKey)
	}
	return decodeTitles(raw)
}

// decodeTitles accepts the value either as a JSON string holding an encoded
// array or as a plain array.
func decodeTitles(raw json.RawMessage) ([]string, error) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}
	var titles []string
	if err := json.Unmarshal(raw, &titles); err != nil {
		return nil, fmt.Errorf("remoteconfig: decode %s: %w", ExcludedTitlesKey, err)
	}
	return titles, nil
}

func (p *Provider) activate(titles []string) {
	set := make(map[string]struct{}, len(titles))
	copied := make([]string, len(titles))
	for index, title := range titles {
		set[title] = struct{}{}
		copied[index] = title
	}
	p.mu.Lock()
	p.titles = copied
	p.excluded = set
	p.mu.Unlock()
}
