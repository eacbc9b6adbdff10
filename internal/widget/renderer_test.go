package widget

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

type memoryURIStore struct {
	uri string
}

func (s *memoryURIStore) WidgetImageURI(context.Context) (string, error) { return s.uri, nil }

func (s *memoryURIStore) SetWidgetImageURI(_ context.Context, uri string) error {
	s.uri = uri
	return nil
}

type recordingView struct {
	images []image.Image
	glyphs []Glyph
}

func (v *recordingView) ShowImage(img image.Image) error {
	v.images = append(v.images, img)
	return nil
}

func (v *recordingView) ShowGlyph(glyph Glyph) error {
	v.glyphs = append(v.glyphs, glyph)
	return nil
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: 0xff, A: 0xff})
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buffer.Bytes()
}

func newTestRenderer(t *testing.T, cfg RendererConfig) (*Renderer, *memoryURIStore, *recordingView) {
	t.Helper()
	store := &memoryURIStore{}
	view := &recordingView{}
	cfg.Store = store
	cfg.View = view
	renderer, err := NewRenderer(cfg)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return renderer, store, view
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{name: "landscape", width: 1200, height: 800, wantW: 600, wantH: 400},
		{name: "portrait", width: 800, height: 1600, wantW: 300, wantH: 600},
		{name: "square", width: 1000, height: 1000, wantW: 600, wantH: 600},
		{name: "already-small", width: 320, height: 200, wantW: 320, wantH: 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotW, gotH := FitSize(tt.width, tt.height, MaxWidth, MaxHeight)
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Fatalf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, gotW, gotH)
			}
		})
	}
}

func TestImageUpdatedDownloadsAndFits(t *testing.T) {
	payload := encodePNG(t, 1200, 600)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	renderer, store, view := newTestRenderer(t, RendererConfig{})
	renderer.ImageUpdated(context.Background(), server.URL+"/api/images/1234")

	if store.uri != server.URL+"/api/images/1234" {
		t.Fatalf("expected uri persisted, got %q", store.uri)
	}
	if len(view.glyphs) != 1 || view.glyphs[0] != GlyphPlaceholder {
		t.Fatalf("expected placeholder while downloading, got %v", view.glyphs)
	}
	if len(view.images) != 1 {
		t.Fatalf("expected one rendered image, got %d", len(view.images))
	}
	size := view.images[0].Bounds().Size()
	if size.X != 600 || size.Y != 300 {
		t.Fatalf("expected 600x300, got %v", size)
	}
}

func TestImageUpdatedShowsErrorGlyphOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not an image"))
	}))
	defer server.Close()

	renderer, _, view := newTestRenderer(t, RendererConfig{})
	renderer.ImageUpdated(context.Background(), server.URL+"/broken")

	if len(view.images) != 0 {
		t.Fatalf("expected no image")
	}
	if last := view.glyphs[len(view.glyphs)-1]; last != GlyphError {
		t.Fatalf("expected error glyph, got %v", view.glyphs)
	}
}

func TestImageUpdatedRejectsOversizedDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.png")
	if err := os.WriteFile(path, encodePNG(t, 100, 100), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	renderer, _, view := newTestRenderer(t, RendererConfig{MaxPixels: 5000})
	renderer.ImageUpdated(context.Background(), "file://"+path)

	if len(view.images) != 0 || len(view.glyphs) != 1 || view.glyphs[0] != GlyphError {
		t.Fatalf("expected error glyph only, got images=%d glyphs=%v", len(view.images), view.glyphs)
	}
}

func TestRefreshUsesPersistedLocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.png")
	if err := os.WriteFile(path, encodePNG(t, 40, 80), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	renderer, store, view := newTestRenderer(t, RendererConfig{})

	renderer.Refresh(context.Background())
	if len(view.glyphs) != 1 || view.glyphs[0] != GlyphPlaceholder {
		t.Fatalf("expected placeholder without uri, got %v", view.glyphs)
	}

	store.uri = path
	renderer.Refresh(context.Background())
	if len(view.images) != 1 || view.images[0].Bounds().Dx() != 40 {
		t.Fatalf("expected local image rendered unscaled, got %d images", len(view.images))
	}
}

func TestFileViewWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "widget.png")
	view, err := NewFileView(path)
	if err != nil {
		t.Fatalf("new file view: %v", err)
	}
	if err := view.ShowGlyph(GlyphError); err != nil {
		t.Fatalf("show glyph: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()
	img, err := png.Decode(file)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != glyphSize {
		t.Fatalf("unexpected glyph size %v", img.Bounds())
	}
}
