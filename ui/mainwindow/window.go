// Package mainwindow provides the main application window.
package mainwindow

import (
	"context"
	"fmt"
	"path/filepath"

	"lab-counter/internal/app"
	"lab-counter/internal/config"
	"lab-counter/internal/counting"
	"lab-counter/internal/version"
	"lab-counter/ui/dialogs"
	"lab-counter/ui/pages"
	"lab-counter/ui/prefs"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"
)

const appTitle = "Lab Counter"

// MainWindow is the primary application window: one tab per counting page.
type MainWindow struct {
	fyne.Window
	app          fyne.App
	ctx          context.Context
	settings     *config.Settings
	settingsPath string
	deps         counting.Deps
	prefs        *prefs.Prefs
	log          *zap.Logger

	views     []*pages.View
	tabs      *container.AppTabs
	statusBar *widget.Label
	watchers  []*app.FolderWatcher
}

// New creates the main window and a view for every page layout.
func New(ctx context.Context, fyneApp fyne.App, deps counting.Deps, settingsPath string, p *prefs.Prefs) (*MainWindow, error) {
	mw := &MainWindow{
		Window:       fyneApp.NewWindow(appTitle),
		app:          fyneApp,
		ctx:          ctx,
		settings:     deps.Settings,
		settingsPath: settingsPath,
		deps:         deps,
		prefs:        p,
		log:          deps.Logger.Named("mainwindow"),
	}

	if err := mw.setupUI(); err != nil {
		return nil, err
	}
	mw.setupMenus()
	mw.setupEventHandlers()
	mw.setupKeys()

	mw.Resize(fyne.NewSize(
		float32(p.FloatWithFallback(prefs.KeyWidth, 1200)),
		float32(p.FloatWithFallback(prefs.KeyHeight, 800)),
	))
	mw.SetCloseIntercept(mw.onClose)
	return mw, nil
}

// setupUI creates the main UI layout.
func (mw *MainWindow) setupUI() error {
	mw.statusBar = widget.NewLabel("Ready")
	mw.tabs = container.NewAppTabs()

	selected := mw.prefs.String(prefs.KeyTab)
	for _, layout := range counting.Layouts() {
		v, err := pages.New(mw.ctx, layout, mw.deps, mw.Window, mw.prefs)
		if err != nil {
			return err
		}
		v.OnStatus = mw.updateStatus
		mw.views = append(mw.views, v)
		tab := container.NewTabItem(v.Title(), v.Content())
		mw.tabs.Append(tab)
		if v.Name() == selected {
			mw.tabs.Select(tab)
		}
	}
	mw.tabs.OnSelected = func(tab *container.TabItem) {
		if v := mw.current(); v != nil {
			mw.prefs.SetString(prefs.KeyTab, v.Name())
		}
	}

	content := container.NewBorder(
		nil,                               // top
		container.NewPadded(mw.statusBar), // bottom
		nil,                               // left
		nil,                               // right
		mw.tabs,                           // center
	)
	mw.SetContent(content)
	return nil
}

// setupMenus creates the application menus.
func (mw *MainWindow) setupMenus() {
	fileMenu := fyne.NewMenu("File",
		fyne.NewMenuItem("Add Image...", func() { mw.withCurrent((*pages.View).OpenImage) }),
		fyne.NewMenuItem("Add Folder...", func() { mw.withCurrent((*pages.View).OpenFolder) }),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Export CSV...", func() {
			mw.withCurrent(func(v *pages.View) { v.ExportDialog(counting.FormatCSV) })
		}),
		fyne.NewMenuItem("Export SQLite...", func() {
			mw.withCurrent(func(v *pages.View) { v.ExportDialog(counting.FormatSQLite) })
		}),
	)
	// fyne appends Quit to the first menu.

	editMenu := fyne.NewMenu("Edit",
		fyne.NewMenuItem("Settings...", mw.onSettings),
	)

	viewMenu := fyne.NewMenu("View",
		fyne.NewMenuItem("Previous Image", func() { mw.withCurrent((*pages.View).Prev) }),
		fyne.NewMenuItem("Next Image", func() { mw.withCurrent((*pages.View).Next) }),
	)

	helpMenu := fyne.NewMenu("Help",
		fyne.NewMenuItem("About", mw.onAbout),
	)

	mw.SetMainMenu(fyne.NewMainMenu(fileMenu, editMenu, viewMenu, helpMenu))
}

// setupEventHandlers registers for application events. Events are emitted
// on the UI loop.
func (mw *MainWindow) setupEventHandlers() {
	bus := mw.deps.Bus
	bus.On(app.EventItemAdded, func(data interface{}) {
		if ev, ok := data.(app.PageEvent); ok {
			mw.updateStatus(fmt.Sprintf("%s: added %s (%d images)", ev.Page, filepath.Base(ev.Ref), ev.Len))
		}
	})
	bus.On(app.EventCleared, func(data interface{}) {
		if ev, ok := data.(app.PageEvent); ok {
			mw.updateStatus(ev.Page + ": cleared")
		}
	})
	bus.On(app.EventCommandFailed, func(data interface{}) {
		if err, ok := data.(error); ok {
			mw.updateStatus("Error: " + err.Error())
		}
	})
	bus.On(app.EventExported, func(data interface{}) {
		if path, ok := data.(string); ok {
			mw.log.Debug("export finished", zap.String("path", path))
		}
	})
	bus.On(app.EventSettingsChanged, func(interface{}) {
		mw.updateStatus("Settings saved")
	})
}

// setupKeys binds arrow keys to navigation when no widget has focus.
func (mw *MainWindow) setupKeys() {
	mw.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		switch ev.Name {
		case fyne.KeyLeft, fyne.KeyPageUp:
			mw.withCurrent((*pages.View).Prev)
		case fyne.KeyRight, fyne.KeyPageDown:
			mw.withCurrent((*pages.View).Next)
		}
	})
}

// updateStatus updates the status bar text.
func (mw *MainWindow) updateStatus(text string) {
	mw.statusBar.SetText(text)
}

// current returns the view of the selected tab.
func (mw *MainWindow) current() *pages.View {
	i := mw.tabs.SelectedIndex()
	if i < 0 || i >= len(mw.views) {
		return nil
	}
	return mw.views[i]
}

func (mw *MainWindow) withCurrent(fn func(v *pages.View)) {
	if v := mw.current(); v != nil {
		fn(v)
	}
}

// View returns the view of the named page, or nil.
func (mw *MainWindow) View(name string) *pages.View {
	for _, v := range mw.views {
		if v.Name() == name {
			return v
		}
	}
	return nil
}

// StartWatch adds images appearing in dir to the named page.
func (mw *MainWindow) StartWatch(dir, page string) error {
	v := mw.View(page)
	if v == nil {
		return fmt.Errorf("watch: unknown page %q", page)
	}
	fw, err := v.Watch(dir)
	if err != nil {
		return err
	}
	mw.watchers = append(mw.watchers, fw)
	mw.updateStatus(fmt.Sprintf("Watching %s for %s", dir, v.Title()))
	return nil
}

// mappableFields lists every field that can be renamed on export.
func mappableFields() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if name == counting.OutError || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, layout := range counting.Layouts() {
		for _, in := range layout.Inputs {
			add(in.Name)
		}
		for _, out := range layout.Outputs {
			add(out)
		}
	}
	return names
}

func (mw *MainWindow) onSettings() {
	var names []string
	for _, v := range mw.views {
		names = append(names, v.Name())
	}
	// Settings are owned by the UI loop; copy them there.
	mw.deps.Dispatch.Post(func() {
		dialogs.NewSettingsDialog(mw.settings, mappableFields(), names, mw.Window, func(edited *config.Settings) {
			mw.deps.Dispatch.Post(func() { mw.applySettings(edited) })
		}).Show()
	})
}

func (mw *MainWindow) applySettings(edited *config.Settings) {
	*mw.settings = *edited
	for _, v := range mw.views {
		v.Session().ApplySettings()
	}
	if err := mw.settings.Save(mw.settingsPath); err != nil {
		mw.log.Error("failed to save settings", zap.Error(err))
		dialog.ShowError(err, mw.Window)
		return
	}
	mw.log.Info("settings saved", zap.String("path", mw.settingsPath))
	mw.deps.Bus.Emit(app.EventSettingsChanged, mw.settings)
}

func (mw *MainWindow) onClose() {
	size := mw.Canvas().Size()
	mw.prefs.SetFloat(prefs.KeyWidth, float64(size.Width))
	mw.prefs.SetFloat(prefs.KeyHeight, float64(size.Height))
	if err := mw.prefs.Save(); err != nil {
		mw.log.Warn("failed to save window state", zap.Error(err))
	}
	for _, fw := range mw.watchers {
		fw.Stop()
	}
	mw.Close()
}

func (mw *MainWindow) onAbout() {
	dialog.ShowInformation("About "+appTitle,
		fmt.Sprintf("%s v%s\n\n"+
			"Counts eggs and oyster larvae in microscope images.\n\n"+
			"Built: %s\n"+
			"Commit: %s",
			appTitle, version.Version, version.BuildTime, version.GitCommit),
		mw.Window)
}
