package widget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxWidth and MaxHeight bound the rendered widget image.
	MaxWidth  = 600
	MaxHeight = 600

	defaultMaxDownloadBytes = 20 * 1024 * 1024
	defaultMaxPixels        = 40_000_000
	defaultDownloadTimeout  = 60 * time.Second
)

var (
	errTooManyPixels  = errors.New("widget: image dimensions too large")
	errTooManyBytes   = errors.New("widget: image download too large")
	errUnsupportedURI = errors.New("widget: unsupported image uri")
)

// Glyph is a built-in icon shown instead of an image.
type Glyph int

const (
	GlyphPlaceholder Glyph = iota
	GlyphError
)

func (g Glyph) String() string {
	if g == GlyphError {
		return "error"
	}
	return "placeholder"
}

// View is the widget surface.
type View interface {
	ShowImage(img image.Image) error
	ShowGlyph(glyph Glyph) error
}

// URIStore persists the widget's last image URI.
type URIStore interface {
	WidgetImageURI(ctx context.Context) (string, error)
	SetWidgetImageURI(ctx context.Context, uri string) error
}

type RendererConfig struct {
	Store            URIStore
	View             View
	HTTPClient       *http.Client
	MaxDownloadBytes int64
	MaxPixels        int
	Logger           *zap.Logger
}

// Renderer draws the shared image into the widget view.
type Renderer struct {
	store            URIStore
	view             View
	httpClient       *http.Client
	maxDownloadBytes int64
	maxPixels        int
	logger           *zap.Logger
}

func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	if cfg.Store == nil {
		return nil, errors.New("widget: uri store required")
	}
	if cfg.View == nil {
		return nil, errors.New("widget: view required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultDownloadTimeout}
	}
	maxBytes := cfg.MaxDownloadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxDownloadBytes
	}
	maxPixels := cfg.MaxPixels
	if maxPixels <= 0 {
		maxPixels = defaultMaxPixels
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		store:            cfg.Store,
		view:             cfg.View,
		httpClient:       httpClient,
		maxDownloadBytes: maxBytes,
		maxPixels:        maxPixels,
		logger:           logger,
	}, nil
}

// ImageUpdated saves uri as the widget's image and renders it.
func (r *Renderer) ImageUpdated(ctx context.Context, uri string) {
	if err := r.store.SetWidgetImageURI(ctx, uri); err != nil {
		r.logger.Warn("failed to persist widget image uri", zap.Error(err))
	}
	r.render(ctx, uri)
}

// Refresh redraws from the persisted uri, or the placeholder when none.
func (r *Renderer) Refresh(ctx context.Context) {
	uri, err := r.store.WidgetImageURI(ctx)
	if err != nil {
		r.logger.Warn("failed to read widget image uri", zap.Error(err))
		r.showGlyph(GlyphError)
		return
	}
	r.render(ctx, uri)
}

func (r *Renderer) render(ctx context.Context, uri string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("widget render panicked", zap.Any("panic", recovered))
			r.showGlyph(GlyphError)
		}
	}()

	uri = strings.TrimSpace(uri)
	if uri == "" {
		r.showGlyph(GlyphPlaceholder)
		return
	}

	img, err := r.load(ctx, uri)
	if err != nil {
		r.logger.Warn("error loading widget image", zap.String("uri", uri), zap.Error(err))
		r.showGlyph(GlyphError)
		return
	}
	if err := r.view.ShowImage(img); err != nil {
		r.logger.Error("error updating widget with image", zap.Error(err))
		r.showGlyph(GlyphError)
		return
	}
	r.logger.Debug("widget updated", zap.String("uri", uri), zap.Stringer("size", img.Bounds().Size()))
}

func (r *Renderer) load(ctx context.Context, uri string) (image.Image, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	var payload []byte
	switch parsed.Scheme {
	case "http", "https":
		r.showGlyph(GlyphPlaceholder)
		payload, err = r.download(ctx, uri)
	case "file":
		payload, err = r.readFile(parsed.Path)
	case "":
		payload, err = r.readFile(uri)
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedURI, parsed.Scheme)
	}
	if err != nil {
		return nil, err
	}
	return r.decode(payload)
}

func (r *Renderer) download(ctx context.Context, uri string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	response, err := r.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("widget: download returned status %d", response.StatusCode)
	}
	return readBounded(response.Body, r.maxDownloadBytes)
}

func (r *Renderer) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readBounded(file, r.maxDownloadBytes)
}

// decode checks the header dimensions before decoding the full image, then
// scales it to fit the widget.
func (r *Renderer) decode(payload []byte) (image.Image, error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("widget: decode header: %w", err)
	}
	if config.Width <= 0 || config.Height <= 0 || config.Width*config.Height > r.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", errTooManyPixels, config.Width, config.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("widget: decode %s: %w", format, err)
	}
	return Fit(img, MaxWidth, MaxHeight), nil
}

// FitSize returns the size an image of width x height is scaled to so that it
// fits maxWidth x maxHeight. Images already inside the bounds keep their size.
func FitSize(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}
	ratio := float64(width) / float64(height)
	var newWidth, newHeight int
	if width > height {
		newWidth = maxWidth
		newHeight = int(float64(newWidth) / ratio)
	} else {
		newHeight = maxHeight
		newWidth = int(float64(newHeight) * ratio)
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}
	return newWidth, newHeight
}

// Fit downsamples img to fit the bounds, preserving the aspect ratio.
func Fit(img image.Image, maxWidth, maxHeight int) image.Image {
	bounds := img.Bounds()
	width, height := FitSize(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)
	if width == bounds.Dx() && height == bounds.Dy() {
		return img
	}
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
	return scaled
}

func (r *Renderer) showGlyph(glyph Glyph) {
	if err := r.view.ShowGlyph(glyph); err != nil {
		r.logger.Error("failed to show widget glyph", zap.Stringer("glyph", glyph), zap.Error(err))
	}
}

func readBounded(reader io.Reader, limit int64) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > limit {
		return nil, errTooManyBytes
	}
	return payload, nil
}
