// Package canvas provides the image panes that show an item's source and
// derived images.
package canvas

import (
	"image"
	"sync"

	labimage "lab-counter/internal/image"

	"fyne.io/fyne/v2"
	fynecanvas "fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// ImagePane shows one image letterboxed to the pane size, or a neutral
// placeholder when there is none.
type ImagePane struct {
	widget.BaseWidget

	mu     sync.Mutex
	img    image.Image
	raster *fynecanvas.Raster

	// Last rendered output, reused while neither the image nor the size changes.
	lastOutput *image.RGBA
	lastSize   image.Point
	minSize    fyne.Size
}

// NewImagePane creates an empty pane.
func NewImagePane(minSize fyne.Size) *ImagePane {
	p := &ImagePane{minSize: minSize}
	p.raster = fynecanvas.NewRaster(p.draw)
	p.raster.ScaleMode = fynecanvas.ImageScaleSmooth
	p.ExtendBaseWidget(p)
	return p
}

// SetImage replaces the displayed image. nil shows the placeholder.
func (p *ImagePane) SetImage(img image.Image) {
	p.mu.Lock()
	p.img = img
	p.lastOutput = nil
	p.mu.Unlock()
	p.raster.Refresh()
}

// Image returns the displayed image.
func (p *ImagePane) Image() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.img
}

// MinSize keeps the pane usable in an empty layout.
func (p *ImagePane) MinSize() fyne.Size {
	return p.minSize
}

// CreateRenderer implements fyne.Widget.
func (p *ImagePane) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(p.raster)
}

// draw is the raster drawing function.
func (p *ImagePane) draw(w, h int) image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := image.Pt(w, h)
	if p.lastOutput != nil && p.lastSize == size {
		return p.lastOutput
	}
	var output *image.RGBA
	if p.img == nil {
		output = labimage.Placeholder(w, h)
	} else {
		output = labimage.Letterbox(p.img, w, h, labimage.Neutral)
	}
	p.lastOutput, p.lastSize = output, size
	return output
}

// Pair shows a source image next to its derived image.
type Pair struct {
	Source  *ImagePane
	Derived *ImagePane
}

// NewPair creates a pair of empty panes.
func NewPair() *Pair {
	size := fyne.NewSize(320, 240)
	return &Pair{Source: NewImagePane(size), Derived: NewImagePane(size)}
}

// Show implements page.Display.
func (p *Pair) Show(source, derived image.Image) {
	p.Source.SetImage(source)
	p.Derived.SetImage(derived)
}

// Container lays the panes out side by side.
func (p *Pair) Container() fyne.CanvasObject {
	return container.NewGridWithColumns(2, p.Source, p.Derived)
}
