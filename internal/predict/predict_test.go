package predict

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"lab-counter/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// plate draws dark squares of the given sizes on a light background.
func plate(sizes ...int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for i := range img.Pix {
		img.Pix[i] = 230
	}
	x := 10
	for _, s := range sizes {
		for dy := 0; dy < s; dy++ {
			for dx := 0; dx < s; dx++ {
				img.Set(x+dx, 20+dy, color.RGBA{R: 20, G: 20, B: 20, A: 255})
			}
		}
		x += s + 15
	}
	return img
}

func counter(t *testing.T) *ContourCounter {
	return NewContourCounter(map[string]config.ModelConfig{
		"eggs": {Invert: true, MinArea: 10},
	}, zaptest.NewLogger(t))
}

func TestModelNotSelected(t *testing.T) {
	_, err := counter(t).Predict(context.Background(), plate(5), "", 1)
	assert.ErrorIs(t, err, ErrModelNotSelected)
}

func TestUnknownModel(t *testing.T) {
	_, err := counter(t).Predict(context.Background(), plate(5), "resnet", 1)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestCountsBlobs(t *testing.T) {
	res, err := counter(t).Predict(context.Background(), plate(8, 8, 20, 20, 2), "eggs", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count, "blob below min area is ignored")
	assert.Equal(t, []int{2, 2}, res.PerClass)
	require.NotNil(t, res.Annotated)
	assert.Equal(t, 200, res.Annotated.Bounds().Dx())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := counter(t).Predict(ctx, plate(8), "eggs", 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClassify(t *testing.T) {
	blobs := []blob{{area: 50}, {area: 10}, {area: 30}}
	assert.Equal(t, []int{1, 1, 1}, classify(blobs, 3))
	assert.Equal(t, 0, blobs[1].class)
	assert.Equal(t, 2, blobs[0].class)
	assert.Equal(t, []int{0, 0}, classify(nil, 2))
}
