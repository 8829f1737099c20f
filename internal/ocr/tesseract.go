// Package ocr reads the handwritten or printed label on a sample image.
package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"lab-counter/internal/vision"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// LabelChars restricts recognition to characters used on sample labels.
const LabelChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-/#. "

// Reader recognizes text in an image.
type Reader interface {
	ReadLabel(ctx context.Context, img image.Image) (string, error)
}

// LabelReader provides OCR using Tesseract. One client is shared, so calls
// are serialized.
type LabelReader struct {
	mu     sync.Mutex
	client *gosseract.Client
	// Region limits recognition to a fraction of the image, e.g. the top
	// strip where labels are usually placed. Zero means the whole image.
	Region image.Rectangle
}

// NewLabelReader creates a reader for the given Tesseract language.
func NewLabelReader(language string) (*LabelReader, error) {
	if language == "" {
		language = "eng"
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// Labels are codes, not words.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	return &LabelReader{client: client}, nil
}

// Close releases OCR resources.
func (r *LabelReader) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ReadLabel implements Reader.
func (r *LabelReader) ReadLabel(ctx context.Context, img image.Image) (string, error) {
	mat, err := vision.ToMat(img)
	if err != nil {
		return "", fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	region := mat
	if !r.Region.Empty() {
		rect := r.Region.Intersect(image.Rect(0, 0, mat.Cols(), mat.Rows()))
		if rect.Empty() {
			return "", fmt.Errorf("label region %v outside image", r.Region)
		}
		region = mat.Region(rect)
		defer region.Close()
	}

	processed := preprocess(region)
	defer processed.Close()

	buf, err := vision.EncodePNG(processed)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := r.client.SetWhitelist(LabelChars); err != nil {
		return "", fmt.Errorf("failed to set whitelist: %w", err)
	}
	if err := r.client.SetImageFromBytes(buf); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := r.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return CleanText(text), nil
}

// CleanText collapses whitespace in OCR output.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// preprocess upscales small regions, equalizes contrast and binarizes so
// that text is dark on a light background.
func preprocess(region gocv.Mat) gocv.Mat {
	h, w := region.Rows(), region.Cols()

	var scaled gocv.Mat
	if minDim := min(h, w); minDim < 150 {
		scale := 150.0 / float64(minDim)
		scaled = gocv.NewMat()
		gocv.Resize(region, &scaled, image.Point{}, scale, scale, gocv.InterpolationCubic)
	} else {
		scaled = region.Clone()
	}

	gray := gocv.NewMat()
	gocv.CvtColor(scaled, &gray, gocv.ColorBGRToGray)
	scaled.Close()

	clahe := gocv.NewCLAHEWithParams(2.0, image.Point{X: 8, Y: 8})
	defer clahe.Close()

	enhanced := gocv.NewMat()
	clahe.Apply(gray, &enhanced)
	gray.Close()

	binary := gocv.NewMat()
	gocv.Threshold(enhanced, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	enhanced.Close()

	whiteRatio := float64(gocv.CountNonZero(binary)) / float64(binary.Rows()*binary.Cols())
	if whiteRatio < 0.5 {
		// Light text on a dark label.
		gocv.BitwiseNot(binary, &binary)
	}
	return binary
}
