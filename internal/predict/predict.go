// Package predict counts objects in an image and produces an annotated copy.
package predict

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"

	"lab-counter/internal/config"
	"lab-counter/internal/vision"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	// ErrModelNotSelected is returned when no model identifier is given.
	ErrModelNotSelected = errors.New("no model selected")
	// ErrUnknownModel is returned for a model identifier with no configuration.
	ErrUnknownModel = errors.New("unknown model")
)

// Result is the outcome of one prediction.
type Result struct {
	Count     int
	PerClass  []int       // counts per size class, smallest first
	Annotated image.Image // may be nil
}

// Predictor counts objects in src.
type Predictor interface {
	Predict(ctx context.Context, src image.Image, model string, classes int) (Result, error)
}

// Func adapts a function to a Predictor.
type Func func(ctx context.Context, src image.Image, model string, classes int) (Result, error)

// Predict calls f.
func (f Func) Predict(ctx context.Context, src image.Image, model string, classes int) (Result, error) {
	return f(ctx, src, model, classes)
}

// classColors outlines each size class in the annotated image.
var classColors = []color.RGBA{
	{R: 0, G: 200, B: 0, A: 255},
	{R: 255, G: 160, B: 0, A: 255},
	{R: 220, G: 0, B: 220, A: 255},
	{R: 0, G: 160, B: 255, A: 255},
}

// ContourCounter counts blobs by thresholding and external contour
// detection. Blobs are split into size classes by area quantiles.
type ContourCounter struct {
	models map[string]config.ModelConfig
	log    *zap.Logger
}

// NewContourCounter creates a counter for the configured models.
func NewContourCounter(models map[string]config.ModelConfig, log *zap.Logger) *ContourCounter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ContourCounter{models: models, log: log.Named("predict")}
}

// Predict implements Predictor.
func (c *ContourCounter) Predict(ctx context.Context, src image.Image, model string, classes int) (Result, error) {
	if model == "" {
		return Result{}, ErrModelNotSelected
	}
	params, ok := c.models[model]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	if classes < 1 {
		classes = 1
	}

	img, err := vision.ToMat(src)
	if err != nil {
		return Result{}, fmt.Errorf("failed to convert image: %w", err)
	}
	defer img.Close()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	mask := threshold(img, params)
	defer mask.Close()

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var blobs []blob
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < params.MinArea {
			continue
		}
		if params.MaxArea > 0 && area > params.MaxArea {
			continue
		}
		blobs = append(blobs, blob{area: area, rect: gocv.BoundingRect(contour)})
	}

	perClass := classify(blobs, classes)

	for _, b := range blobs {
		col := classColors[b.class%len(classColors)]
		gocv.Rectangle(&img, b.rect, col, 2)
	}
	annotated, err := vision.FromMat(img)
	if err != nil {
		return Result{}, fmt.Errorf("failed to render annotation: %w", err)
	}

	c.log.Debug("prediction complete",
		zap.String("model", model),
		zap.Int("count", len(blobs)),
		zap.Ints("per_class", perClass))

	return Result{Count: len(blobs), PerClass: perClass, Annotated: annotated}, nil
}

type blob struct {
	area  float64
	rect  image.Rectangle
	class int
}

func threshold(img gocv.Mat, params config.ModelConfig) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	if k := params.BlurSize; k > 1 {
		if k%2 == 0 {
			k++
		}
		gocv.GaussianBlur(gray, &gray, image.Point{X: k, Y: k}, 0, 0, gocv.BorderDefault)
	}

	kind := gocv.ThresholdBinary
	if params.Invert {
		kind = gocv.ThresholdBinaryInv
	}
	level := float32(params.Threshold)
	if params.Threshold <= 0 {
		kind |= gocv.ThresholdOtsu
	}

	mask := gocv.NewMat()
	gocv.Threshold(gray, &mask, level, 255, kind)
	return mask
}

// classify assigns each blob a size class so that classes hold roughly
// equal shares of the blobs, and returns the count per class.
func classify(blobs []blob, classes int) []int {
	perClass := make([]int, classes)
	if len(blobs) == 0 {
		return perClass
	}

	order := make([]int, len(blobs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return blobs[order[a]].area < blobs[order[b]].area
	})

	for rank, idx := range order {
		class := rank * classes / len(blobs)
		blobs[idx].class = class
		perClass[class]++
	}
	return perClass
}
