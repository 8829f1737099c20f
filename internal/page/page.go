// Package page ties an item list to a form registry: it owns the item
// pointer, saves and restores field values around navigation, and refreshes
// the image display.
package page

import (
	"fmt"
	"image"

	"lab-counter/internal/app"
	"lab-counter/internal/form"
	labimage "lab-counter/internal/image"
	"lab-counter/internal/itemlist"

	"go.uber.org/zap"
)

// Navigation selects what Next and Prev do at the ends of the list.
type Navigation int

const (
	// Clamp stays on the first or last item.
	Clamp Navigation = iota
	// Wrap moves from the last item to the first and back.
	Wrap
)

// ParseNavigation maps a settings value to a Navigation. Empty means Clamp.
func ParseNavigation(s string) (Navigation, error) {
	switch s {
	case "", "clamp":
		return Clamp, nil
	case "wrap":
		return Wrap, nil
	default:
		return Clamp, fmt.Errorf("unknown navigation mode %q", s)
	}
}

func (n Navigation) String() string {
	if n == Wrap {
		return "wrap"
	}
	return "clamp"
}

// Display renders the current item. nil images mean "show a placeholder".
type Display interface {
	Show(source, derived image.Image)
}

// Snapshot is the export view of a page: one row per item plus its source.
type Snapshot struct {
	form.Snapshot
	Page    string
	Sources []string
}

// Options configures a Page.
type Options struct {
	Name       string
	List       *itemlist.List
	Registry   *form.Registry
	Display    Display // may be nil
	Navigation Navigation
	Bus        *app.Bus // may be nil
	Logger     *zap.Logger
}

// Page orchestrates navigation over an item list. All methods must be called
// from the UI loop.
type Page struct {
	name    string
	list    *itemlist.List
	reg     *form.Registry
	display Display
	nav     Navigation
	bus     *app.Bus
	log     *zap.Logger

	// pointer is meaningful only while the list is non-empty.
	pointer int
}

// New creates a page positioned on the first item, if any, and refreshes
// the display.
func New(opts Options) *Page {
	p := &Page{
		name:    opts.Name,
		list:    opts.List,
		reg:     opts.Registry,
		display: opts.Display,
		nav:     opts.Navigation,
		bus:     opts.Bus,
		log:     opts.Logger,
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	p.log = p.log.Named("page").With(zap.String("page", opts.Name))
	if p.reg == nil {
		p.reg = form.NewRegistry()
	}
	p.Refresh()
	return p
}

// Name returns the page name.
func (p *Page) Name() string { return p.name }

// Registry returns the page fields.
func (p *Page) Registry() *form.Registry { return p.reg }

// List returns the underlying item list.
func (p *Page) List() *itemlist.List { return p.list }

// Len returns the number of items.
func (p *Page) Len() int { return p.list.Len() }

// SetNavigation changes the boundary behavior.
func (p *Page) SetNavigation(n Navigation) { p.nav = n }

// SetDisplay replaces the display and refreshes it.
func (p *Page) SetDisplay(d Display) {
	p.display = d
	p.Refresh()
}

// Pointer returns the current item index. ok is false while the list is empty.
func (p *Page) Pointer() (index int, ok bool) {
	if p.list.Len() == 0 {
		return 0, false
	}
	return p.pointer, true
}

// CurrentSource returns the source reference of the current item.
func (p *Page) CurrentSource() (string, bool) {
	idx, ok := p.Pointer()
	if !ok {
		return "", false
	}
	src, err := p.list.Source(idx)
	if err != nil {
		return "", false
	}
	return src, true
}

// Next moves to the following item. It is a no-op on an empty list.
func (p *Page) Next() error {
	return p.step(1)
}

// Prev moves to the preceding item. It is a no-op on an empty list.
func (p *Page) Prev() error {
	return p.step(-1)
}

func (p *Page) step(delta int) error {
	n := p.list.Len()
	if n == 0 {
		return nil
	}

	target := p.pointer + delta
	switch p.nav {
	case Wrap:
		target = ((target % n) + n) % n
	default:
		target = max(0, min(target, n-1))
	}
	if target == p.pointer {
		return nil
	}
	return p.moveTo(target, app.EventNavigated, "")
}

// Goto moves to item index.
func (p *Page) Goto(index int) error {
	if n := p.list.Len(); index < 0 || index >= n {
		return &itemlist.IndexError{Index: index, Len: n}
	}
	if index == p.pointer {
		return nil
	}
	return p.moveTo(index, app.EventNavigated, "")
}

// moveTo saves the current item, moves the pointer, restores the new item
// and refreshes.
func (p *Page) moveTo(target int, event app.EventType, ref string) error {
	p.reg.SaveCurrent(p.pointer)
	p.pointer = target
	if err := p.reg.Restore(target); err != nil {
		return err
	}
	p.Refresh()
	p.emit(event, ref)
	return nil
}

// AddItem appends ref, saves the current item and moves to the new one.
func (p *Page) AddItem(ref string) error {
	hadItems := p.list.Len() > 0
	if err := p.list.Append(ref); err != nil {
		return err
	}

	if hadItems {
		p.reg.SaveCurrent(p.pointer)
	}
	p.pointer = p.list.Len() - 1
	if err := p.reg.Restore(p.pointer); err != nil {
		return err
	}
	p.Refresh()
	p.log.Debug("item added", zap.Int("index", p.pointer), zap.String("ref", ref))
	p.emit(app.EventItemAdded, ref)
	return nil
}

// SetDerivedAt attaches a derived reference to item index. When index is not
// the current item the page first moves to it, so outputs assigned next land
// on that item.
func (p *Page) SetDerivedAt(index int, ref string) error {
	if err := p.list.SetDerived(index, ref); err != nil {
		return err
	}
	if index != p.pointer {
		return p.moveTo(index, app.EventDerivedSet, ref)
	}
	p.Refresh()
	p.emit(app.EventDerivedSet, ref)
	return nil
}

// ClearAll removes every item, every saved state and every field value.
func (p *Page) ClearAll() {
	p.list.Clear()
	p.reg.Reset()
	p.pointer = 0
	p.Refresh()
	p.log.Info("page cleared")
	p.emit(app.EventCleared, "")
}

// SnapshotAll returns every item's field values without changing what the
// current item displays.
func (p *Page) SnapshotAll() (Snapshot, error) {
	current := -1
	if idx, ok := p.Pointer(); ok {
		current = idx
	}
	fs, err := p.reg.SnapshotAll(current, p.list.Len())
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Snapshot: fs, Page: p.name, Sources: p.list.Sources()}, nil
}

// Refresh shows the current item's preview and derived image, or
// placeholders when the list is empty.
func (p *Page) Refresh() {
	if p.display == nil {
		return
	}
	idx, ok := p.Pointer()
	if !ok {
		p.display.Show(nil, nil)
		return
	}

	source, err := p.list.Preview(idx)
	if err != nil {
		p.log.Warn("no preview", zap.Int("index", idx), zap.Error(err))
	}

	var derived image.Image
	if ref, err := p.list.Derived(idx); err == nil && ref != "" {
		derived, err = labimage.Load(ref)
		if err != nil {
			p.log.Warn("failed to load derived image", zap.String("ref", ref), zap.Error(err))
			derived = nil
		}
	}
	p.display.Show(source, derived)
}

func (p *Page) emit(event app.EventType, ref string) {
	idx, ok := p.Pointer()
	if !ok {
		idx = -1
	}
	p.bus.Emit(event, app.PageEvent{Page: p.name, Pointer: idx, Len: p.list.Len(), Ref: ref})
}
