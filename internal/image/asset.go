// Package image provides image loading, preview scaling, and letterboxing.
package image

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// Neutral is the letterbox background used around scaled images.
var Neutral = color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xFF}

// Load decodes the image at path.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// SavePNG encodes img as PNG at path, creating parent directories.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return file.Close()
}

// FitRect returns the largest rectangle with the source aspect ratio that fits
// inside a w×h box, centered in it.
func FitRect(srcW, srcH, w, h int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	// Compare srcW/srcH against w/h without floating point.
	dw, dh := w, h
	if srcW*h > w*srcH {
		dh = srcH * w / srcW
	} else {
		dw = srcW * h / srcH
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	x := (w - dw) / 2
	y := (h - dh) / 2
	return image.Rect(x, y, x+dw, y+dh)
}

// Letterbox scales src into a w×h canvas, preserving aspect ratio and filling
// the uncovered area with bg. A nil src yields a plain bg canvas.
func Letterbox(src image.Image, w, h int, bg color.Color) *image.RGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	if src == nil {
		return dst
	}

	sb := src.Bounds()
	target := FitRect(sb.Dx(), sb.Dy(), w, h)
	if target.Empty() {
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, target, src, sb, draw.Over, nil)
	return dst
}

// Placeholder returns a neutral w×h image shown when no asset is present.
func Placeholder(w, h int) *image.RGBA {
	return Letterbox(nil, w, h, Neutral)
}

// SupportedFormats returns the list of supported image formats.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
