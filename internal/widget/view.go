package widget

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

const glyphSize = 96

var (
	placeholderColor = color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff}
	errorColor       = color.RGBA{R: 0xd3, G: 0x2f, B: 0x2f, A: 0xff}
)

// FileView renders the widget into a PNG file.
type FileView struct {
	path string
}

func NewFileView(path string) (*FileView, error) {
	if path == "" {
		return nil, errors.New("widget: output path required")
	}
	return &FileView{path: path}, nil
}

// Path returns the output file.
func (v *FileView) Path() string {
	return v.path
}

func (v *FileView) ShowImage(img image.Image) error {
	return v.write(img)
}

func (v *FileView) ShowGlyph(glyph Glyph) error {
	return v.write(GlyphImage(glyph))
}

// GlyphImage draws a glyph: a framed square for the placeholder and a filled
// square with a bar for errors.
func GlyphImage(glyph Glyph) image.Image {
	canvas := image.NewRGBA(image.Rect(0, 0, glyphSize, glyphSize))
	draw.Draw(canvas, canvas.Bounds(), image.Transparent, image.Point{}, draw.Src)
	switch glyph {
	case GlyphError:
		draw.Draw(canvas, image.Rect(8, 8, glyphSize-8, glyphSize-8), image.NewUniform(errorColor), image.Point{}, draw.Src)
		draw.Draw(canvas, image.Rect(glyphSize/2-4, 20, glyphSize/2+4, glyphSize-36), image.White, image.Point{}, draw.Src)
		draw.Draw(canvas, image.Rect(glyphSize/2-4, glyphSize-28, glyphSize/2+4, glyphSize-20), image.White, image.Point{}, draw.Src)
	default:
		fill := image.NewUniform(placeholderColor)
		draw.Draw(canvas, image.Rect(8, 8, glyphSize-8, 14), fill, image.Point{}, draw.Src)
		draw.Draw(canvas, image.Rect(8, glyphSize-14, glyphSize-8, glyphSize-8), fill, image.Point{}, draw.Src)
		draw.Draw(canvas, image.Rect(8, 8, 14, glyphSize-8), fill, image.Point{}, draw.Src)
		draw.Draw(canvas, image.Rect(glyphSize-14, 8, glyphSize-8, glyphSize-8), fill, image.Point{}, draw.Src)
	}
	return canvas
}

func (v *FileView) write(img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(v.path), ".widget-*.png")
	if err != nil {
		return err
	}
	if err := png.Encode(temp, img); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return err
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return err
	}
	return os.Rename(temp.Name(), v.path)
}
