package imagesync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// PreferenceStore is the slice of the local preferences the checker needs.
type PreferenceStore interface {
	RoomCode(ctx context.Context) (string, error)
	LastImageTimestamp(ctx context.Context) (string, error)
	SetLastImageTimestamp(ctx context.Context, token string) error
}

// Fetcher returns the current image for a room code.
type Fetcher interface {
	FetchByCode(ctx context.Context, roomCode string) (FetchResult, error)
}

// UpdateSink is told about every newly detected image URL.
type UpdateSink interface {
	ImageUpdated(ctx context.Context, imageURL string)
}

// UpdateSinkFunc adapts a function to UpdateSink.
type UpdateSinkFunc func(ctx context.Context, imageURL string)

func (f UpdateSinkFunc) ImageUpdated(ctx context.Context, imageURL string) {
	f(ctx, imageURL)
}

type CheckerConfig struct {
	Preferences PreferenceStore
	Fetcher     Fetcher
	Sinks       []UpdateSink
	Logger      *zap.Logger
}

// Checker detects whether the room's shared image changed since the last check.
type Checker struct {
	prefs   PreferenceStore
	fetcher Fetcher
	sinks   []UpdateSink
	logger  *zap.Logger
}

func NewChecker(cfg CheckerConfig) (*Checker, error) {
	if cfg.Preferences == nil {
		return nil, errors.New("imagesync: preference store required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("imagesync: fetcher required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{prefs: cfg.Preferences, fetcher: cfg.Fetcher, sinks: cfg.Sinks, logger: logger}, nil
}

// HasNewTimestamp reports whether fetched is a change relative to stored.
// An empty fetched token never counts as a change.
func HasNewTimestamp(stored, fetched string) bool {
	return fetched != "" && fetched != stored
}

// Check fetches the current image and, when its token changed, saves the new
// token and notifies every sink. It reports whether an update was found.
func (c *Checker) Check(ctx context.Context) (bool, error) {
	code, err := c.prefs.RoomCode(ctx)
	if err != nil {
		return false, fmt.Errorf("imagesync: read room code: %w", err)
	}
	if code == "" {
		c.logger.Debug("no saved code, skipping update check")
		return false, nil
	}

	result, err := c.fetcher.FetchByCode(ctx, code)
	if err != nil {
		c.logger.Warn("failed to fetch image", zap.String("code", code), zap.Error(err))
		return false, err
	}

	stored, err := c.prefs.LastImageTimestamp(ctx)
	if err != nil {
		return false, fmt.Errorf("imagesync: read last timestamp: %w", err)
	}
	if !HasNewTimestamp(stored, result.Timestamp) {
		c.logger.Debug("no new image updates", zap.String("code", code))
		return false, nil
	}

	if err := c.prefs.SetLastImageTimestamp(ctx, result.Timestamp); err != nil {
		return false, fmt.Errorf("imagesync: save timestamp: %w", err)
	}
	c.logger.Info("new image detected", zap.String("code", code), zap.String("timestamp", result.Timestamp))
	for _, sink := range c.sinks {
		sink.ImageUpdated(ctx, result.ImageURL)
	}
	return true, nil
}
