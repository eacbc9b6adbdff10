package imagesync

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Loader shows an image in the foreground UI.
type Loader interface {
	Load(ctx context.Context, imageURL string) error
}

// Display avoids reloading the image that is already on screen.
type Display struct {
	loader Loader
	logger *zap.Logger

	mu      sync.Mutex
	current string
}

func NewDisplay(loader Loader, logger *zap.Logger) *Display {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Display{loader: loader, logger: logger}
}

// Show loads imageURL unless it is the last successfully shown one. It
// reports whether a load happened.
func (d *Display) Show(ctx context.Context, imageURL string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if imageURL == "" || imageURL == d.current {
		return false, nil
	}
	if err := d.loader.Load(ctx, imageURL); err != nil {
		return false, err
	}
	d.current = imageURL
	return true, nil
}

// Current returns the URL on screen.
func (d *Display) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// ImageUpdated implements UpdateSink.
func (d *Display) ImageUpdated(ctx context.Context, imageURL string) {
	if _, err := d.Show(ctx, imageURL); err != nil {
		d.logger.Warn("failed to display image", zap.String("url", imageURL), zap.Error(err))
	}
}
