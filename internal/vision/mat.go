// Package vision converts between Go images and OpenCV matrices.
package vision

import (
	"errors"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// ToMat converts img to a BGR Mat. The caller closes the result.
func ToMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.Mat{}, errors.New("nil image")
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return gocv.Mat{}, errors.New("empty image")
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*w || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// FromMat converts a BGR or grayscale Mat back to an image.
func FromMat(m gocv.Mat) (image.Image, error) {
	if m.Empty() {
		return nil, errors.New("empty mat")
	}
	return m.ToImage()
}

// EncodePNG encodes m as PNG bytes.
func EncodePNG(m gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, m)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
