package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole version lookup.
const DefaultTimeout = 5 * time.Second

// Current is the running build's version, set at link time.
var Current = "1.0.0"

// Result is the outcome of a version check. A failed check is reported as
// no update with empty fields.
type Result struct {
	UpdateAvailable bool
	LatestVersion   string
	DownloadURL     string
}

type document struct {
	Version *string `json:"version"`
	URL     *string `json:"url"`
}

type CheckerConfig struct {
	URL            string
	CurrentVersion string
	HTTPClient     *http.Client
	Timeout        time.Duration
	Logger         *zap.Logger
}

// Checker compares the running version with the published one.
type Checker struct {
	url        string
	current    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

func NewChecker(cfg CheckerConfig) *Checker {
	current := cfg.CurrentVersion
	if current == "" {
		current = Current
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{url: cfg.URL, current: current, httpClient: httpClient, timeout: timeout, logger: logger}
}

// Check fetches the published version document. Any failure yields a
// zero Result.
func (c *Checker) Check(ctx context.Context) Result {
	latest, downloadURL, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("error checking for updates", zap.Error(err))
		return Result{}
	}
	c.logger.Debug("version check", zap.String("current", c.current), zap.String("latest", latest))
	return Result{
		UpdateAvailable: IsUpdateNeeded(c.current, latest),
		LatestVersion:   latest,
		DownloadURL:     downloadURL,
	}
}

func (c *Checker) fetch(ctx context.Context) (string, string, error) {
	if strings.TrimSpace(c.url) == "" {
		return "", "", errors.New("version: check url not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", "", err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", "", err
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", "", fmt.Errorf("version: failed to check for updates: %d", response.StatusCode)
	}
	var doc document
	if err := json.NewDecoder(io.LimitReader(response.Body, 64*1024)).Decode(&doc); err != nil {
		return "", "", err
	}
	if doc.Version == nil || doc.URL == nil {
		return "", "", errors.New("version: document missing version or url")
	}
	return strings.TrimPrefix(*doc.Version, "v"), *doc.URL, nil
}

// IsUpdateNeeded compares dotted integer versions. A latest version that
// extends an equal prefix counts as newer. Unparseable input means no update.
func IsUpdateNeeded(current, latest string) bool {
	currentParts, err := parse(strings.TrimPrefix(current, "v"))
	if err != nil {
		return false
	}
	latestParts, err := parse(latest)
	if err != nil {
		return false
	}
	for i := 0; i < len(currentParts) && i < len(latestParts); i++ {
		if latestParts[i] > currentParts[i] {
			return true
		}
		if latestParts[i] < currentParts[i] {
			return false
		}
	}
	return len(latestParts) > len(currentParts)
}

func parse(value string) ([]int, error) {
	segments := strings.Split(value, ".")
	parts := make([]int, 0, len(segments))
	for _, segment := range segments {
		number, err := strconv.Atoi(segment)
		if err != nil {
			return nil, err
		}
		parts = append(parts, number)
	}
	return parts, nil
}
