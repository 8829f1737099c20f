// Package pages builds the view of one counting page: the image pair, the
// field form and the command buttons.
package pages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lab-counter/internal/app"
	"lab-counter/internal/command"
	"lab-counter/internal/counting"
	"lab-counter/internal/form"
	labimage "lab-counter/internal/image"
	"lab-counter/ui/canvas"
	"lab-counter/ui/fields"
	"lab-counter/ui/prefs"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"
)

// attachable is implemented by the field widgets.
type attachable interface {
	form.Control
	Attach(in *form.Input, dispatch command.Dispatcher)
}

// View is the UI of one counting page. Button callbacks post their work to
// the UI loop; everything touching the session runs there.
type View struct {
	ctx      context.Context
	session  *counting.Session
	dispatch command.Dispatcher
	window   fyne.Window
	prefs    *prefs.Prefs
	log      *zap.Logger

	pair     *canvas.Pair
	position *widget.Label
	content  fyne.CanvasObject

	predictBtn    *widget.Button
	predictAllBtn *widget.Button
	readLabelBtn  *widget.Button

	// OnStatus receives short messages for the status bar.
	OnStatus func(text string)
}

// New builds the view for layout. ctx bounds every command the view starts.
func New(ctx context.Context, layout counting.Layout, deps counting.Deps, win fyne.Window, p *prefs.Prefs) (*View, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	v := &View{
		ctx:      ctx,
		dispatch: deps.Dispatch,
		window:   win,
		prefs:    p,
		log:      deps.Logger.Named("pages").With(zap.String("page", layout.Name)),
		pair:     canvas.NewPair(),
		position: widget.NewLabel(""),
		OnStatus: func(string) {},
	}

	controls := make(map[string]attachable, len(layout.Inputs))
	sinks := make(map[string]*fields.Label, len(layout.Outputs))
	widgets := counting.Widgets{
		Control: func(spec counting.InputSpec) form.Control {
			var c attachable
			if spec.Kind == counting.Choice {
				c = fields.NewSelect(spec.Choices)
			} else {
				c = fields.NewEntry(spec.Hint)
			}
			controls[spec.Name] = c
			return c
		},
		Sink: func(name string) form.Sink {
			l := fields.NewLabel("-", name == counting.OutError)
			sinks[name] = l
			return l
		},
		Display: v.pair,
	}

	session, err := counting.NewSession(layout, deps, widgets)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", layout.Name, err)
	}
	v.session = session
	for name, c := range controls {
		in := session.Input(name)
		c.Attach(in, deps.Dispatch)
		in.OnCommit(func(val any) { v.onCommit(in.Name(), val) })
	}

	deps.Bus.On(app.EventItemAdded, v.onPageEvent)
	deps.Bus.On(app.EventNavigated, v.onPageEvent)
	deps.Bus.On(app.EventDerivedSet, v.onPageEvent)
	deps.Bus.On(app.EventCleared, v.onPageEvent)

	v.content = v.build(layout, controls, sinks)
	v.updatePosition()
	return v, nil
}

// Session returns the page session.
func (v *View) Session() *counting.Session { return v.session }

// Name returns the page name.
func (v *View) Name() string { return v.session.Layout().Name }

// Title returns the tab title.
func (v *View) Title() string { return v.session.Layout().Title }

// Content returns the view's root object.
func (v *View) Content() fyne.CanvasObject { return v.content }

func (v *View) build(layout counting.Layout, controls map[string]attachable, sinks map[string]*fields.Label) fyne.CanvasObject {
	inputs := widget.NewForm()
	for _, spec := range layout.Inputs {
		inputs.Append(spec.Name, controls[spec.Name].(fyne.CanvasObject))
	}
	outputs := widget.NewForm()
	for _, name := range layout.Outputs {
		outputs.Append(name, sinks[name])
	}

	prevBtn := widget.NewButton("< Prev", func() { v.post(v.session.Page().Prev) })
	nextBtn := widget.NewButton("Next >", func() { v.post(v.session.Page().Next) })
	addBtn := widget.NewButton("Add Image...", v.OpenImage)
	folderBtn := widget.NewButton("Add Folder...", v.OpenFolder)

	v.predictBtn = widget.NewButton("Predict", v.onPredict)
	v.predictBtn.Importance = widget.HighImportance
	v.predictAllBtn = widget.NewButton("Predict All", v.onPredictAll)
	v.readLabelBtn = widget.NewButton("Read Label", v.onReadLabel)
	clearBtn := widget.NewButton("Clear", v.onClear)
	clearBtn.Importance = widget.DangerImportance
	exportBtn := widget.NewButton("Export...", func() { v.ExportDialog(counting.FormatCSV) })

	nav := container.NewHBox(prevBtn, v.position, nextBtn)
	actions := container.NewHBox(addBtn, folderBtn, widget.NewSeparator(),
		v.predictBtn, v.predictAllBtn, v.readLabelBtn, widget.NewSeparator(),
		exportBtn, clearBtn)

	side := container.NewVScroll(container.NewVBox(
		widget.NewLabelWithStyle("Inputs", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		inputs,
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Results", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		outputs,
	))

	images := container.NewBorder(nav, nil, nil, nil, v.pair.Container())
	split := container.NewHSplit(side, images)
	split.SetOffset(0.3)
	return container.NewBorder(nil, container.NewPadded(actions), nil, nil, split)
}

// post runs fn on the UI loop and reports its error.
func (v *View) post(fn func() error) {
	v.dispatch.Post(func() {
		if err := fn(); err != nil {
			v.showError(err)
		}
	})
}

func (v *View) showError(err error) {
	v.log.Warn("page action failed", zap.Error(err))
	dialog.ShowError(err, v.window)
}

// onCommit reports a committed edit for the current item.
func (v *View) onCommit(name string, val any) {
	idx, ok := v.session.Page().Pointer()
	if !ok {
		return
	}
	v.OnStatus(fmt.Sprintf("Image %d: %s set to %s", idx+1, name, fields.Format(val)))
}

func (v *View) onPageEvent(data interface{}) {
	ev, ok := data.(app.PageEvent)
	if !ok || ev.Page != v.Name() {
		return
	}
	v.updatePosition()
}

func (v *View) updatePosition() {
	idx, ok := v.session.Page().Pointer()
	if !ok {
		v.position.SetText("No images")
		return
	}
	v.position.SetText(fmt.Sprintf("%d / %d", idx+1, v.session.Page().Len()))
}

// Prev moves to the previous item.
func (v *View) Prev() { v.post(v.session.Page().Prev) }

// Next moves to the next item.
func (v *View) Next() { v.post(v.session.Page().Next) }

// OpenImage asks for one image and adds it.
func (v *View) OpenImage() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil || reader == nil {
			return
		}
		reader.Close()
		path := reader.URI().Path()
		v.prefs.SetString(prefs.KeyImageDir, filepath.Dir(path))
		v.post(func() error { return v.session.AddItem(path) })
	}, v.window)
	fd.SetFilter(storage.NewExtensionFileFilter(labimage.SupportedFormats()))
	if loc := listable(v.prefs.Dir(prefs.KeyImageDir)); loc != nil {
		fd.SetLocation(loc)
	}
	fd.Show()
}

// OpenFolder asks for a folder and adds every image in it.
func (v *View) OpenFolder() {
	fd := dialog.NewFolderOpen(func(uri fyne.ListableURI, err error) {
		if err != nil || uri == nil {
			return
		}
		dir := uri.Path()
		v.prefs.SetString(prefs.KeyFolderDir, dir)
		v.dispatch.Post(func() {
			n, err := v.session.AddFolder(dir)
			v.OnStatus(fmt.Sprintf("Added %d images from %s", n, filepath.Base(dir)))
			if err != nil {
				v.showError(err)
			}
		})
	}, v.window)
	if loc := listable(v.prefs.Dir(prefs.KeyFolderDir)); loc != nil {
		fd.SetLocation(loc)
	}
	fd.Show()
}

// commandError reports errors the session did not already show in the
// Error field.
func (v *View) commandError(err error) {
	if err == nil || errors.Is(err, counting.ErrNoItem) || errors.Is(err, counting.ErrNoReader) {
		return
	}
	v.showError(err)
}

func (v *View) onPredict() {
	v.dispatch.Post(func() {
		_, err := v.session.Predict(v.ctx, v.predictBtn)
		v.commandError(err)
	})
}

func (v *View) onReadLabel() {
	v.dispatch.Post(func() {
		_, err := v.session.ReadLabel(v.ctx, v.readLabelBtn)
		v.commandError(err)
	})
}

func (v *View) onPredictAll() {
	v.dispatch.Post(func() {
		n := v.session.Page().Len()
		if n == 0 {
			return
		}
		v.OnStatus(fmt.Sprintf("Predicting %d images...", n))
		start := time.Now()
		job := v.session.PredictAll(v.ctx, v.predictAllBtn)
		go func() {
			_, err := job.Wait(v.ctx)
			v.dispatch.Post(func() {
				if err != nil {
					v.OnStatus("Predict All failed: " + err.Error())
					return
				}
				v.OnStatus(fmt.Sprintf("Predicted %d images in %s", n, time.Since(start).Round(time.Millisecond)))
			})
		}()
	})
}

func (v *View) onClear() {
	dialog.ShowConfirm("Clear "+v.Title(),
		"Remove every image and value from this page?",
		func(ok bool) {
			if !ok {
				return
			}
			v.dispatch.Post(v.session.Clear)
		}, v.window)
}

// ExportDialog asks for a destination and exports the page.
func (v *View) ExportDialog(format counting.Format) {
	ext := ".csv"
	if format == counting.FormatSQLite {
		ext = ".db"
	}
	fd := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil || writer == nil {
			return
		}
		writer.Close()
		path, err := exportPath(writer.URI().Path(), ext)
		if err != nil {
			v.log.Warn("could not remove placeholder file", zap.Error(err))
		}
		v.prefs.SetString(prefs.KeyExportDir, filepath.Dir(path))
		v.dispatch.Post(func() {
			table, err := v.session.Export(v.ctx, format, path)
			if err != nil {
				v.showError(err)
				return
			}
			v.OnStatus(fmt.Sprintf("Exported %d rows to %s", len(table.Records), filepath.Base(path)))
		})
	}, v.window)
	fd.SetFileName(fmt.Sprintf("%s-%s%s", v.Name(), time.Now().Format("20060102"), ext))
	fd.SetFilter(storage.NewExtensionFileFilter([]string{ext}))
	if loc := listable(v.prefs.Dir(prefs.KeyExportDir)); loc != nil {
		fd.SetLocation(loc)
	}
	fd.Show()
}

// exportPath returns the file an export to chosen should write. The save
// dialog creates chosen before returning it; when ext has to be appended that
// empty file is removed so only the export remains.
func exportPath(chosen, ext string) (string, error) {
	if filepath.Ext(chosen) == ext {
		return chosen, nil
	}
	path := chosen + ext
	info, err := os.Stat(chosen)
	if err != nil || info.IsDir() || info.Size() > 0 {
		return path, nil
	}
	return path, os.Remove(chosen)
}

// Watch starts adding images that appear in dir.
func (v *View) Watch(dir string) (*app.FolderWatcher, error) {
	return v.session.Watch(v.ctx, dir)
}

func listable(dir string) fyne.ListableURI {
	if dir == "" {
		return nil
	}
	l, err := storage.ListerForURI(storage.NewFileURI(dir))
	if err != nil {
		return nil
	}
	return l
}
