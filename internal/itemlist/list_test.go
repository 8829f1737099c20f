package itemlist

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func openList(t *testing.T, dir string) *List {
	t.Helper()
	return Open(Options{
		Name:          "eggs",
		Dir:           dir,
		PreviewWidth:  64,
		PreviewHeight: 48,
		Logger:        zaptest.NewLogger(t),
	})
}

func TestAppendPersistsAndReloads(t *testing.T) {
	imgDir := t.TempDir()
	listDir := t.TempDir()
	a := writePNG(t, imgDir, "a.png", 20, 10)
	b := writePNG(t, imgDir, "b.png", 10, 20)

	l := openList(t, listDir)
	require.NoError(t, l.Append(a))
	require.NoError(t, l.Append(b))
	require.NoError(t, l.SetDerived(0, "/tmp/annotated-a.png"))

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, filepath.Join(listDir, "eggs.json"), l.Path())

	prev, err := l.Preview(1)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), prev.Bounds())

	// Simulated restart.
	reopened := openList(t, listDir)
	assert.Equal(t, []string{a, b}, reopened.Sources())
	d, err := reopened.Derived(0)
	require.NoError(t, err)
	assert.Empty(t, d, "derived references are not durable")
}

func TestAppendResolvesRelativePaths(t *testing.T) {
	imgDir := t.TempDir()
	writePNG(t, imgDir, "rel.png", 4, 4)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(imgDir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	l := Open(Options{Name: "mem"})
	require.NoError(t, l.Append("rel.png"))
	src, err := l.Source(0)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(src))
	assert.Equal(t, "", l.Path())
}

func TestAppendRejectsInvalidReferences(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("not a png"), 0o644))

	l := openList(t, t.TempDir())
	for _, ref := range []string{filepath.Join(dir, "missing.png"), txt, broken, dir} {
		err := l.Append(ref)
		var ire *InvalidReferenceError
		require.True(t, errors.As(err, &ire), "ref %s: %v", ref, err)
	}
	assert.Equal(t, 0, l.Len())
}

func TestSetDerivedOutOfRange(t *testing.T) {
	l := openList(t, t.TempDir())
	err := l.SetDerived(0, "x")
	var ie *IndexError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 0, ie.Len)
}

func TestClearPersistsEmptyList(t *testing.T) {
	imgDir := t.TempDir()
	listDir := t.TempDir()
	l := openList(t, listDir)
	require.NoError(t, l.Append(writePNG(t, imgDir, "a.png", 5, 5)))

	l.Clear()
	assert.Equal(t, 0, l.Len())

	refs, err := ReadSidecar(filepath.Join(listDir, "eggs.json"))
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Equal(t, 0, openList(t, listDir).Len())
}

func TestReloadSkipsNullAndMissingEntries(t *testing.T) {
	imgDir := t.TempDir()
	listDir := t.TempDir()
	good := writePNG(t, imgDir, "good.png", 5, 5)
	gone := filepath.Join(imgDir, "gone.png")
	require.NoError(t, WriteSidecar(filepath.Join(listDir, "eggs.json"), []*string{&good, nil, &gone}))

	l := openList(t, listDir)
	assert.Equal(t, []string{good}, l.Sources())
}

func TestPersistFallsBack(t *testing.T) {
	imgDir := t.TempDir()
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	fallback := t.TempDir()

	l := Open(Options{
		Name:        "oysters",
		Dir:         filepath.Join(blocker, "lists"),
		FallbackDir: fallback,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, l.Append(writePNG(t, imgDir, "a.png", 5, 5)))
	assert.Equal(t, filepath.Join(fallback, "oysters.json"), l.Path())

	refs, err := ReadSidecar(l.Path())
	require.NoError(t, err)
	require.Len(t, refs, 1)
}

func TestReopenRestoresFromFallback(t *testing.T) {
	imgDir := t.TempDir()
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	opts := Options{
		Name:        "eggs",
		Dir:         filepath.Join(blocker, "lists"),
		FallbackDir: t.TempDir(),
		Logger:      zaptest.NewLogger(t),
	}

	l := Open(opts)
	require.NoError(t, l.Append(writePNG(t, imgDir, "a.png", 5, 5)))
	require.NoError(t, l.Append(writePNG(t, imgDir, "b.png", 5, 5)))
	want := l.Sources()

	again := Open(opts)
	assert.Equal(t, want, again.Sources())
	assert.Equal(t, filepath.Join(opts.FallbackDir, "eggs.json"), again.Path())

	// The next write keeps every restored item.
	require.NoError(t, again.Append(writePNG(t, imgDir, "c.png", 5, 5)))
	refs, err := ReadSidecar(again.Path())
	require.NoError(t, err)
	assert.Len(t, refs, 3)
}

func TestPersistDegradesToMemory(t *testing.T) {
	imgDir := t.TempDir()
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	l := Open(Options{
		Name:        "oysters",
		Dir:         filepath.Join(blocker, "a"),
		FallbackDir: filepath.Join(blocker, "b"),
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, l.Append(writePNG(t, imgDir, "a.png", 5, 5)))
	require.NoError(t, l.Append(writePNG(t, imgDir, "b.png", 5, 5)))
	assert.Equal(t, "", l.Path())
	assert.Equal(t, 2, l.Len())
}
