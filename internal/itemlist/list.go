// Package itemlist provides an ordered list of image references that is
// persisted to a JSON sidecar file on every mutation.
package itemlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	labimage "lab-counter/internal/image"

	"go.uber.org/zap"
)

const (
	defaultPreviewWidth  = 1024
	defaultPreviewHeight = 768
)

// InvalidReferenceError is returned by Append when a reference cannot be used.
type InvalidReferenceError struct {
	Ref    string
	Reason string
	Err    error
}

func (e *InvalidReferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid image %q: %s: %v", e.Ref, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid image %q: %s", e.Ref, e.Reason)
}

func (e *InvalidReferenceError) Unwrap() error { return e.Err }

// IndexError is returned for an index outside [0, Len()).
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.Len)
}

// Options configures a List.
type Options struct {
	// Name identifies the list; the sidecar is <Dir>/<Name>.json.
	Name string
	// Dir holds the sidecar. Empty means memory-only.
	Dir string
	// FallbackDir is tried when Dir cannot be written.
	FallbackDir string

	PreviewWidth  int
	PreviewHeight int
	Background    color.Color

	Logger *zap.Logger
}

// List is an ordered collection of (source, derived) references plus a
// bounded-size preview per item. Only the source list is durable.
type List struct {
	mu sync.RWMutex

	name     string
	sources  []string
	derived  []string
	previews []image.Image

	path     string
	fallback string
	pw, ph   int
	bg       color.Color
	log      *zap.Logger
}

// Open creates a list and reloads any sources recorded in its sidecar.
// Entries that are null or no longer load are skipped with a warning.
func Open(opts Options) *List {
	l := &List{
		name: opts.Name,
		pw:   opts.PreviewWidth,
		ph:   opts.PreviewHeight,
		bg:   opts.Background,
		log:  opts.Logger,
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	l.log = l.log.Named("itemlist").With(zap.String("list", opts.Name))
	if l.pw <= 0 {
		l.pw = defaultPreviewWidth
	}
	if l.ph <= 0 {
		l.ph = defaultPreviewHeight
	}
	if l.bg == nil {
		l.bg = labimage.Neutral
	}
	if opts.Dir != "" {
		l.path = filepath.Join(opts.Dir, opts.Name+".json")
	}
	if opts.FallbackDir != "" {
		l.fallback = filepath.Join(opts.FallbackDir, opts.Name+".json")
	}

	l.reload()
	return l
}

// reload reads the primary sidecar, or the fallback one when the primary is
// missing or unreadable. A list restored from the fallback keeps writing there
// so the next mutation does not clobber it.
func (l *List) reload() {
	if l.path == "" {
		return
	}
	refs, err := ReadSidecar(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.log.Warn("failed to read sidecar", zap.String("path", l.path), zap.Error(err))
		}
		if l.fallback == "" || l.fallback == l.path {
			return
		}
		fallbackRefs, ferr := ReadSidecar(l.fallback)
		if ferr != nil {
			if !errors.Is(ferr, os.ErrNotExist) {
				l.log.Warn("failed to read fallback sidecar", zap.String("path", l.fallback), zap.Error(ferr))
			}
			return
		}
		l.log.Warn("restoring from fallback sidecar", zap.String("path", l.fallback))
		l.path = l.fallback
		refs = fallbackRefs
	}

	for _, ref := range refs {
		if ref == nil {
			continue
		}
		abs, preview, err := l.load(*ref)
		if err != nil {
			l.log.Warn("dropping unreadable item", zap.String("ref", *ref), zap.Error(err))
			continue
		}
		l.sources = append(l.sources, abs)
		l.derived = append(l.derived, "")
		l.previews = append(l.previews, preview)
	}
	l.log.Info("restored items", zap.Int("count", len(l.sources)))
}

// Name returns the list name.
func (l *List) Name() string { return l.name }

// Path returns the sidecar currently written to, or "" when memory-only.
func (l *List) Path() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

// Len returns the number of items.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sources)
}

// Append validates ref, builds its preview, appends it and persists the list.
func (l *List) Append(ref string) error {
	abs, preview, err := l.load(ref)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.sources = append(l.sources, abs)
	l.derived = append(l.derived, "")
	l.previews = append(l.previews, preview)
	l.mu.Unlock()

	l.persist()
	return nil
}

func (l *List) load(ref string) (string, image.Image, error) {
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", nil, &InvalidReferenceError{Ref: ref, Reason: "cannot resolve path", Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, &InvalidReferenceError{Ref: abs, Reason: "not found", Err: err}
	}
	if info.IsDir() {
		return "", nil, &InvalidReferenceError{Ref: abs, Reason: "is a directory"}
	}
	if !labimage.IsSupportedFormat(abs) {
		return "", nil, &InvalidReferenceError{Ref: abs, Reason: "unsupported format"}
	}
	img, err := labimage.Load(abs)
	if err != nil {
		return "", nil, &InvalidReferenceError{Ref: abs, Reason: "cannot decode", Err: err}
	}
	return abs, labimage.Letterbox(img, l.pw, l.ph, l.bg), nil
}

// SetDerived replaces the derived reference at index; "" clears it.
// Derived references are not persisted.
func (l *List) SetDerived(index int, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.derived) {
		return &IndexError{Index: index, Len: len(l.derived)}
	}
	l.derived[index] = ref
	return nil
}

// Source returns the absolute source path at index.
func (l *List) Source(index int) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.sources) {
		return "", &IndexError{Index: index, Len: len(l.sources)}
	}
	return l.sources[index], nil
}

// Derived returns the derived reference at index, "" when absent.
func (l *List) Derived(index int) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.derived) {
		return "", &IndexError{Index: index, Len: len(l.derived)}
	}
	return l.derived[index], nil
}

// Preview returns the letterboxed preview at index.
func (l *List) Preview(index int) (image.Image, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.previews) {
		return nil, &IndexError{Index: index, Len: len(l.previews)}
	}
	return l.previews[index], nil
}

// Sources returns a copy of the source references in order.
func (l *List) Sources() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.sources))
	copy(out, l.sources)
	return out
}

// Clear empties the list and persists the empty source list.
func (l *List) Clear() {
	l.mu.Lock()
	l.sources = nil
	l.derived = nil
	l.previews = nil
	l.mu.Unlock()

	l.persist()
}

// persist rewrites the sidecar. On failure it moves to the fallback path and,
// if that fails too, continues memory-only.
func (l *List) persist() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" {
		return
	}

	refs := make([]*string, len(l.sources))
	for i := range l.sources {
		s := l.sources[i]
		refs[i] = &s
	}

	err := WriteSidecar(l.path, refs)
	if err == nil {
		return
	}
	l.log.Warn("failed to write sidecar", zap.String("path", l.path), zap.Error(err))

	if l.fallback != "" && l.fallback != l.path {
		ferr := WriteSidecar(l.fallback, refs)
		if ferr == nil {
			l.log.Warn("using fallback sidecar", zap.String("path", l.fallback))
			l.path = l.fallback
			return
		}
		l.log.Warn("failed to write fallback sidecar", zap.String("path", l.fallback), zap.Error(ferr))
	}

	l.log.Warn("continuing without persistence")
	l.path = ""
}

// ReadSidecar reads a sidecar file: a JSON array of path strings or nulls.
func ReadSidecar(path string) ([]*string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var refs []*string
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return refs, nil
}

// WriteSidecar replaces the sidecar at path in one rename.
func WriteSidecar(path string, refs []*string) error {
	if refs == nil {
		refs = []*string{}
	}
	data, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
