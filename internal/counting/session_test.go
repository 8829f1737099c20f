package counting

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"lab-counter/internal/app"
	"lab-counter/internal/command"
	"lab-counter/internal/config"
	"lab-counter/internal/form"
	"lab-counter/internal/predict"
	"lab-counter/internal/uiloop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memControl struct{ v any }

func (c *memControl) Value() any     { return c.v }
func (c *memControl) SetValue(v any) { c.v = v }

type button struct{ disables, enables atomic.Int32 }

func (b *button) Disable() { b.disables.Add(1) }
func (b *button) Enable()  { b.enables.Add(1) }

type labelReader struct{ text string }

func (r labelReader) ReadLabel(ctx context.Context, img image.Image) (string, error) {
	return r.text, nil
}

// widthPredictor reports the image width as the count.
var widthPredictor = predict.Func(func(ctx context.Context, src image.Image, model string, classes int) (predict.Result, error) {
	if model == "" {
		return predict.Result{}, predict.ErrModelNotSelected
	}
	return predict.Result{
		Count:     src.Bounds().Dx(),
		PerClass:  []int{src.Bounds().Dx()},
		Annotated: image.NewRGBA(image.Rect(0, 0, 4, 4)),
	}, nil
})

type harness struct {
	session  *Session
	loop     *uiloop.Loop
	settings *config.Settings
	controls map[string]*memControl
	imgDir   string
}

func newHarness(t *testing.T, layout Layout, reader labelReader) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	settings := config.Default()
	settings.Model = "eggs-light"
	settings.Eggs.DilutionFactor = 2.5
	settings.Storage.ListsDir = t.TempDir()
	settings.Storage.FallbackDir = ""
	settings.Storage.DerivedDir = t.TempDir()
	settings.Preview = config.PreviewConfig{Width: 16, Height: 12}

	h := &harness{
		loop:     uiloop.New(log),
		settings: settings,
		controls: map[string]*memControl{},
		imgDir:   t.TempDir(),
	}
	deps := Deps{
		Settings:  settings,
		Predictor: widthPredictor,
		Runner:    command.NewRunner(h.loop, log),
		Dispatch:  h.loop,
		Bus:       app.NewBus(),
		Logger:    log,
	}
	if reader.text != "" {
		deps.Reader = reader
	}
	s, err := NewSession(layout, deps, Widgets{
		Control: func(spec InputSpec) form.Control {
			c := &memControl{}
			h.controls[spec.Name] = c
			return c
		},
	})
	require.NoError(t, err)
	h.session = s
	return h
}

func (h *harness) image(t *testing.T, name string, w int) string {
	t.Helper()
	path := filepath.Join(h.imgDir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, w, 5))))
	require.NoError(t, f.Close())
	return path
}

// wait runs loop tasks until job has completed.
func (h *harness) wait(t *testing.T, job *command.Job) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case <-job.Done():
			h.loop.Drain()
			return
		default:
		}
		require.NoError(t, h.loop.Step(ctx))
	}
}

func TestLayoutsBindCascade(t *testing.T) {
	h := newHarness(t, Eggs(), labelReader{})
	h.session.Output(OutCount).Set(10)
	assert.Equal(t, 25.0, h.session.Output("Eggs per mL").Value())
	assert.Equal(t, 25000.0, h.session.Output("Eggs per L").Value())

	// Settings edits apply to the next assignment.
	h.settings.Eggs.DilutionFactor = 1
	h.session.Output(OutCount).Set(10)
	assert.Equal(t, 10.0, h.session.Output("Eggs per mL").Value())
}

func TestOysterConversion(t *testing.T) {
	h := newHarness(t, Oysters(), labelReader{})
	h.settings.Oysters.SampleVolumeML = 4
	h.session.Output(OutCount).Set(10)
	assert.Equal(t, 2.5, h.session.Output("Larvae per mL").Value())

	h.settings.Oysters.SampleVolumeML = 0
	h.session.Output(OutCount).Set(10)
	assert.Nil(t, h.session.Output("Larvae per mL").Value())
	assert.Nil(t, h.session.Output("Larvae per L").Value())
}

func TestPredictLandsOnTriggeringItem(t *testing.T) {
	h := newHarness(t, Eggs(), labelReader{})
	p := h.session.Page()
	require.NoError(t, h.session.AddItem(h.image(t, "a.png", 30)))
	require.NoError(t, h.session.AddItem(h.image(t, "b.png", 40)))
	require.NoError(t, p.Prev())

	btn := &button{}
	job, err := h.session.Predict(context.Background(), btn)
	require.NoError(t, err)
	require.NoError(t, p.Next(), "user moves on while the prediction runs")
	h.wait(t, job)

	idx, _ := p.Pointer()
	assert.Equal(t, 0, idx)
	assert.Equal(t, 30, h.session.Output(OutCount).Value())
	assert.Equal(t, 75.0, h.session.Output("Eggs per mL").Value())
	assert.Equal(t, "30", h.session.Output(OutPerClass).Value())
	assert.Nil(t, h.session.Output(OutError).Value())
	assert.EqualValues(t, 1, btn.disables.Load())
	assert.EqualValues(t, 1, btn.enables.Load())

	derived, err := p.List().Derived(0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(derived), "eggs-001-a"))
	_, err = os.Stat(derived)
	assert.NoError(t, err)
}

func TestPredictWithoutModel(t *testing.T) {
	h := newHarness(t, Eggs(), labelReader{})
	h.settings.Model = ""
	require.NoError(t, h.session.AddItem(h.image(t, "a.png", 30)))
	h.session.Output(OutCount).Set(3)

	btn := &button{}
	job, err := h.session.Predict(context.Background(), btn)
	require.NoError(t, err)
	h.wait(t, job)

	_, err = job.Wait(context.Background())
	assert.ErrorIs(t, err, predict.ErrModelNotSelected)
	assert.Equal(t, 3, h.session.Output(OutCount).Value())
	assert.Equal(t, "Predict failed: no model selected", h.session.Output(OutError).Value())
	assert.EqualValues(t, 1, btn.enables.Load())
}

func TestPredictNoItem(t *testing.T) {
	h := newHarness(t, Eggs(), labelReader{})
	_, err := h.session.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoItem)
	assert.Equal(t, "Predict failed: no image selected", h.session.Output(OutError).Value())
}

func TestPredictAll(t *testing.T) {
	h := newHarness(t, Eggs(), labelReader{})
	h.settings.Workers = 2
	for i, w := range []int{11, 22, 33} {
		require.NoError(t, h.session.AddItem(h.image(t, string(rune('a'+i))+".png", w)))
	}
	h.controls["Group Number"].SetValue("9")

	job := h.session.PredictAll(context.Background(), &button{})
	h.wait(t, job)
	n, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	snap, err := h.session.Page().SnapshotAll()
	require.NoError(t, err)
	for i, want := range []int{11, 22, 33} {
		assert.Equal(t, want, snap.Rows[i].Outputs[0], "item %d", i)
		d, err := h.session.Page().List().Derived(i)
		require.NoError(t, err)
		assert.NotEmpty(t, d)
	}
	assert.Equal(t, "9", snap.Rows[2].Inputs[0], "edits on the current item survive")
}

func TestReadLabel(t *testing.T) {
	h := newHarness(t, Oysters(), labelReader{text: "T4-02"})
	require.NoError(t, h.session.AddItem(h.image(t, "a.png", 8)))

	job, err := h.session.ReadLabel(context.Background(), &button{})
	require.NoError(t, err)
	h.wait(t, job)
	assert.Equal(t, "T4-02", h.session.Output(OutLabel).Value())
}

func TestReadLabelUnavailable(t *testing.T) {
	h := newHarness(t, Oysters(), labelReader{})
	_, err := h.session.ReadLabel(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoReader)
}

func TestAddFolder(t *testing.T) {
	h := newHarness(t, Eggs(), labelReader{})
	h.image(t, "b.png", 4)
	h.image(t, "a.png", 4)
	require.NoError(t, os.WriteFile(filepath.Join(h.imgDir, "readme.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.imgDir, "c.png"), []byte("broken"), 0o644))

	added, err := h.session.AddFolder(h.imgDir)
	assert.Equal(t, 2, added)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c.png")

	sources := h.session.Page().List().Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "a.png", filepath.Base(sources[0]))

	_, err = h.session.AddFolder(filepath.Join(h.imgDir, "missing"))
	assert.Error(t, err)
}

func TestExportCSV(t *testing.T) {
	h := newHarness(t, Eggs(), labelReader{})
	h.settings.Export.Columns["Group Number"] = "group"
	require.NoError(t, h.session.AddItem(h.image(t, "a.png", 4)))
	h.controls["Group Number"].SetValue("7")
	h.session.Output(OutCount).Set(4)

	path := filepath.Join(t.TempDir(), "eggs.csv")
	table, err := h.session.Export(context.Background(), FormatCSV, path)
	require.NoError(t, err)
	assert.Len(t, table.Records, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "Item,Source,group,Replicate,Sample Volume (mL),Notes,Count,Per Class,Eggs per mL,Eggs per L,Label,Error", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,"))
	assert.Contains(t, lines[1], ",7,")
	assert.Equal(t, "7", h.controls["Group Number"].Value(), "export leaves the form untouched")

	_, err = h.session.Export(context.Background(), Format("xlsx"), path)
	assert.Error(t, err)
}

func TestExportSQLite(t *testing.T) {
	h := newHarness(t, Oysters(), labelReader{})
	require.NoError(t, h.session.AddItem(h.image(t, "a.png", 4)))
	table, err := h.session.Export(context.Background(), FormatSQLite, filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	assert.Equal(t, "oysters", table.Page)
}

func TestWatchAddsNewImages(t *testing.T) {
	h := newHarness(t, Eggs(), labelReader{})
	h.session.watchDebounce = 20 * time.Millisecond
	dir := t.TempDir()

	fw, err := h.session.Watch(context.Background(), dir)
	require.NoError(t, err)
	defer fw.Stop()

	src := h.image(t, "plate.png", 6)
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plate.png"), data, 0o644))

	require.Eventually(t, func() bool {
		h.loop.Drain()
		return h.session.Page().Len() == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestClear(t *testing.T) {
	h := newHarness(t, Eggs(), labelReader{})
	require.NoError(t, h.session.AddItem(h.image(t, "a.png", 4)))
	h.controls["Notes"].SetValue("x")
	h.session.Clear()
	assert.Equal(t, 0, h.session.Page().Len())
	assert.Nil(t, h.controls["Notes"].Value())
}

func TestScaleAndToFloat(t *testing.T) {
	assert.Equal(t, 5.0, Scale(2.5)(2))
	assert.Equal(t, 3.0, Scale(1)(" 3 "))
	assert.Nil(t, Scale(2)("n/a"))
	assert.Nil(t, Scale(2)(nil))
	assert.Equal(t, "1 / 2 / 3", FormatPerClass([]int{1, 2, 3}))
	_, ok := ToFloat(errors.New("x"))
	assert.False(t, ok)
}
