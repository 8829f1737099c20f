package counting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lab-counter/internal/app"
	"lab-counter/internal/command"
	"lab-counter/internal/config"
	"lab-counter/internal/export"
	"lab-counter/internal/form"
	labimage "lab-counter/internal/image"
	"lab-counter/internal/itemlist"
	"lab-counter/internal/ocr"
	"lab-counter/internal/page"
	"lab-counter/internal/predict"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoItem is returned by commands that need a current item.
	ErrNoItem = errors.New("no image selected")
	// ErrNoReader is returned by ReadLabel when OCR is unavailable.
	ErrNoReader = errors.New("label reading is not available")
)

// Format selects an export sink.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatSQLite Format = "sqlite"
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Settings  *config.Settings
	Predictor predict.Predictor
	Reader    ocr.Reader // may be nil
	Runner    *command.Runner
	Dispatch  command.Dispatcher
	Bus       *app.Bus
	Logger    *zap.Logger
}

// Widgets creates the UI side of fields.
type Widgets struct {
	Control func(spec InputSpec) form.Control
	Sink    func(name string) form.Sink // may return nil
	Display page.Display                // may be nil
}

// Session is one counting page: its fields, bindings, item list and commands.
// Methods must be called from the UI loop.
type Session struct {
	layout  Layout
	deps    Deps
	page    *page.Page
	inputs  map[string]*form.Input
	outputs map[string]*form.Output
	log     *zap.Logger

	watchDebounce time.Duration
}

// NewSession registers the layout's fields, binds them and opens the page's
// item list.
func NewSession(layout Layout, deps Deps, w Widgets) (*Session, error) {
	if deps.Settings == nil {
		deps.Settings = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Session{
		layout:  layout,
		deps:    deps,
		inputs:  make(map[string]*form.Input, len(layout.Inputs)),
		outputs: make(map[string]*form.Output, len(layout.Outputs)),
		log:     deps.Logger.Named("counting").With(zap.String("page", layout.Name)),

		watchDebounce: 500 * time.Millisecond,
	}

	reg := form.NewRegistry()
	for _, spec := range layout.Inputs {
		s.inputs[spec.Name] = reg.RegisterInput(spec.Name, w.Control(spec))
	}
	for _, name := range layout.Outputs {
		var sink form.Sink
		if w.Sink != nil {
			sink = w.Sink(name)
		}
		s.outputs[name] = reg.RegisterOutput(name, sink)
	}
	for _, b := range layout.Bindings {
		from, to := s.outputs[b.From], s.outputs[b.To]
		if from == nil || to == nil {
			return nil, fmt.Errorf("binding %s -> %s: unknown output", b.From, b.To)
		}
		settings := deps.Settings
		build := b.Transform
		// Built per assignment so settings edits take effect immediately.
		transform := func(v any) any {
			if build == nil {
				return v
			}
			return build(settings)(v)
		}
		if err := form.Bind(from, to, transform); err != nil {
			return nil, fmt.Errorf("binding %s -> %s: %w", b.From, b.To, err)
		}
	}

	nav, err := page.ParseNavigation(deps.Settings.Navigation)
	if err != nil {
		return nil, err
	}
	st := deps.Settings.Storage
	list := itemlist.Open(itemlist.Options{
		Name:          layout.Name,
		Dir:           st.ListsDir,
		FallbackDir:   st.FallbackDir,
		PreviewWidth:  deps.Settings.Preview.Width,
		PreviewHeight: deps.Settings.Preview.Height,
		Logger:        deps.Logger,
	})
	s.page = page.New(page.Options{
		Name:       layout.Name,
		List:       list,
		Registry:   reg,
		Display:    w.Display,
		Navigation: nav,
		Bus:        deps.Bus,
		Logger:     deps.Logger,
	})
	return s, nil
}

// Layout returns the page layout.
func (s *Session) Layout() Layout { return s.layout }

// Page returns the page orchestrator.
func (s *Session) Page() *page.Page { return s.page }

// Input returns the named input field, or nil.
func (s *Session) Input(name string) *form.Input { return s.inputs[name] }

// Output returns the named output field, or nil.
func (s *Session) Output(name string) *form.Output { return s.outputs[name] }

// ApplySettings re-reads settings that affect navigation.
func (s *Session) ApplySettings() {
	if nav, err := page.ParseNavigation(s.deps.Settings.Navigation); err == nil {
		s.page.SetNavigation(nav)
	}
}

// AddItem adds one image.
func (s *Session) AddItem(ref string) error {
	return s.page.AddItem(ref)
}

// AddFolder adds every supported image in dir, sorted by name. Invalid
// images are skipped and reported together.
func (s *Session) AddFolder(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read folder: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !labimage.IsSupportedFormat(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	added := 0
	var errs []error
	for _, name := range names {
		if err := s.page.AddItem(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	s.log.Info("folder added", zap.String("dir", dir), zap.Int("added", added), zap.Int("skipped", len(errs)))
	return added, errors.Join(errs...)
}

// Clear removes every item and field value.
func (s *Session) Clear() {
	s.page.ClearAll()
}

type outcome struct {
	count    int
	perClass []int
	derived  string
}

func (s *Session) fail(name string, err error) {
	if out := s.outputs[OutError]; out != nil {
		out.Set(fmt.Sprintf("%s failed: %v", name, err))
	}
	s.deps.Bus.Emit(app.EventCommandFailed, err)
}

// Predict counts objects on the current item. The result lands on the item
// that was current when Predict was called.
func (s *Session) Predict(ctx context.Context, ctl command.Control) (*command.Job, error) {
	index, ok := s.page.Pointer()
	if !ok {
		s.fail("Predict", ErrNoItem)
		return nil, ErrNoItem
	}
	src, err := s.page.List().Source(index)
	if err != nil {
		return nil, err
	}
	model, classes := s.deps.Settings.Model, s.deps.Settings.ClassCount
	derivedDir := s.deps.Settings.Storage.DerivedDir

	cmd := func(ctx context.Context) (any, error) {
		return s.predictOne(ctx, src, index, model, classes, derivedDir)
	}
	trigger := command.Trigger{Name: "Predict", Control: ctl, Output: s.outputs[OutCount], Errors: s.outputs[OutError]}
	return s.deps.Runner.Run(ctx, trigger, cmd, command.Options{
		DisableWhileRunning: true,
		Settle: func(result any) (any, error) {
			return s.settle(index, result.(outcome))
		},
	}), nil
}

// settle moves to index, attaches the annotated image and returns the count
// for the Count output.
func (s *Session) settle(index int, o outcome) (any, error) {
	if o.derived != "" {
		if err := s.page.SetDerivedAt(index, o.derived); err != nil {
			return nil, err
		}
	} else if err := s.page.Goto(index); err != nil {
		return nil, err
	}
	if out := s.outputs[OutPerClass]; out != nil {
		out.Set(FormatPerClass(o.perClass))
	}
	return o.count, nil
}

func (s *Session) predictOne(ctx context.Context, src string, index int, model string, classes int, derivedDir string) (outcome, error) {
	if s.deps.Predictor == nil {
		return outcome{}, errors.New("no predictor configured")
	}
	img, err := labimage.Load(src)
	if err != nil {
		return outcome{}, err
	}
	res, err := s.deps.Predictor.Predict(ctx, img, model, classes)
	if err != nil {
		return outcome{}, err
	}

	o := outcome{count: res.Count, perClass: res.PerClass}
	if res.Annotated != nil && derivedDir != "" {
		base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		path := filepath.Join(derivedDir, fmt.Sprintf("%s-%03d-%s.png", s.layout.Name, index+1, base))
		if err := labimage.SavePNG(path, res.Annotated); err != nil {
			// The count is still usable without the annotated copy.
			s.log.Warn("failed to save annotated image", zap.String("path", path), zap.Error(err))
		} else {
			o.derived = path
		}
	}
	return o, nil
}

// PredictAll runs the predictor over every item with bounded concurrency.
// Each item's result is applied on the UI loop as it completes; the job
// result is the number of items predicted.
func (s *Session) PredictAll(ctx context.Context, ctl command.Control) *command.Job {
	sources := s.page.List().Sources()
	model, classes := s.deps.Settings.Model, s.deps.Settings.ClassCount
	derivedDir := s.deps.Settings.Storage.DerivedDir
	workers := max(1, s.deps.Settings.Workers)
	count := s.outputs[OutCount]

	cmd := func(ctx context.Context) (any, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, src := range sources {
			g.Go(func() error {
				o, err := s.predictOne(gctx, src, i, model, classes, derivedDir)
				if err != nil {
					return fmt.Errorf("item %d: %w", i+1, err)
				}
				s.deps.Dispatch.Post(func() {
					v, err := s.settle(i, o)
					if err != nil {
						s.log.Warn("dropping prediction", zap.Int("index", i), zap.Error(err))
						return
					}
					if count != nil {
						count.Set(v)
					}
				})
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return len(sources), nil
	}

	trigger := command.Trigger{Name: "Predict All", Control: ctl, Errors: s.outputs[OutError]}
	return s.deps.Runner.Run(ctx, trigger, cmd, command.Options{DisableWhileRunning: true})
}

// ReadLabel recognizes the label on the current item's source image.
func (s *Session) ReadLabel(ctx context.Context, ctl command.Control) (*command.Job, error) {
	if s.deps.Reader == nil {
		s.fail("Read Label", ErrNoReader)
		return nil, ErrNoReader
	}
	index, ok := s.page.Pointer()
	if !ok {
		s.fail("Read Label", ErrNoItem)
		return nil, ErrNoItem
	}
	src, err := s.page.List().Source(index)
	if err != nil {
		return nil, err
	}
	reader := s.deps.Reader

	cmd := func(ctx context.Context) (any, error) {
		img, err := labimage.Load(src)
		if err != nil {
			return nil, err
		}
		return reader.ReadLabel(ctx, img)
	}
	trigger := command.Trigger{Name: "Read Label", Control: ctl, Output: s.outputs[OutLabel], Errors: s.outputs[OutError]}
	return s.deps.Runner.Run(ctx, trigger, cmd, command.Options{
		DisableWhileRunning: true,
		Settle: func(result any) (any, error) {
			if err := s.page.Goto(index); err != nil {
				return nil, err
			}
			return result, nil
		},
	}), nil
}

// Export writes every item's field values to path.
func (s *Session) Export(ctx context.Context, format Format, path string) (export.Table, error) {
	snap, err := s.page.SnapshotAll()
	if err != nil {
		return export.Table{}, err
	}

	var template []string
	if tmpl := s.deps.Settings.Export.Template; tmpl != "" {
		template, err = export.ReadTemplateHeader(tmpl)
		if err != nil {
			s.log.Warn("ignoring export template", zap.String("path", tmpl), zap.Error(err))
			template = nil
		}
	}
	table := export.Build(snap, s.deps.Settings.ColumnFor, template)

	start := time.Now()
	switch format {
	case FormatCSV:
		err = export.WriteCSVFile(path, table, true)
	case FormatSQLite:
		err = export.WriteSQLite(ctx, path, table)
	default:
		err = fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return export.Table{}, err
	}

	s.log.Info("exported",
		zap.String("format", string(format)),
		zap.String("path", path),
		zap.String("run_id", table.RunID),
		zap.Int("items", len(table.Records)),
		zap.Duration("elapsed", time.Since(start)))
	s.deps.Bus.Emit(app.EventExported, path)
	return table, nil
}

// Watch adds images that appear in dir. Additions are posted to the UI loop.
func (s *Session) Watch(ctx context.Context, dir string) (*app.FolderWatcher, error) {
	fw, err := app.NewFolderWatcher(dir, s.watchDebounce, func(path string) {
		s.deps.Dispatch.Post(func() {
			if err := s.page.AddItem(path); err != nil {
				s.log.Warn("watched image rejected", zap.String("path", path), zap.Error(err))
			}
		})
	}, s.deps.Logger)
	if err != nil {
		return nil, err
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}
	return fw, nil
}
