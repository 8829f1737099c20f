// Package dialogs provides application dialogs.
package dialogs

import (
	"fmt"
	"strconv"
	"strings"

	"lab-counter/internal/config"
	"lab-counter/internal/export"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

// columnDefault is the column choice that keeps the field name.
const columnDefault = "(field name)"

// columnEditor is one row of the export column mapping.
type columnEditor struct {
	field  string
	widget fyne.CanvasObject
	value  func() string
}

// SettingsDialog edits a copy of the settings. Changes reach the live
// settings only through onSave, and only when they validate.
type SettingsDialog struct {
	settings *config.Settings
	fields   []string
	window   fyne.Window

	// Prediction
	modelSelect  *widget.Select
	classesEntry *widget.Entry
	workersEntry *widget.Entry

	// Navigation
	navSelect *widget.RadioGroup

	// Conversion factors
	dilutionEntry *widget.Entry
	volumeEntry   *widget.Entry

	// Export
	templateEntry *widget.Entry
	columns       []columnEditor
	columnsBox    *fyne.Container

	// Watch folder
	watchCheck *widget.Check
	watchEntry *widget.Entry
	watchPage  *widget.Select
	pageNames  []string

	// Callback
	onSave func(*config.Settings)
}

// NewSettingsDialog creates a settings dialog. fields lists every field that
// can be mapped to an export column; pageNames lists the pages a watched
// folder can feed.
func NewSettingsDialog(settings *config.Settings, fields, pageNames []string, window fyne.Window, onSave func(*config.Settings)) *SettingsDialog {
	return &SettingsDialog{
		settings:  settings.Clone(),
		fields:    fields,
		pageNames: pageNames,
		window:    window,
		onSave:    onSave,
	}
}

// Show displays the dialog.
func (d *SettingsDialog) Show() {
	content := d.createContent()

	dlg := dialog.NewCustomConfirm(
		"Settings",
		"Save",
		"Cancel",
		container.NewVScroll(content),
		func(save bool) {
			if !save {
				return
			}
			if err := d.applyChanges(); err != nil {
				dialog.ShowError(err, d.window)
				return
			}
			if d.onSave != nil {
				d.onSave(d.settings)
			}
		},
		d.window,
	)
	dlg.Resize(fyne.NewSize(520, 680))
	dlg.Show()
}

func (d *SettingsDialog) createContent() fyne.CanvasObject {
	s := d.settings

	// Prediction section
	d.modelSelect = widget.NewSelect(s.ModelNames(), nil)
	d.modelSelect.PlaceHolder = "(no model)"
	if s.Model != "" {
		d.modelSelect.SetSelected(s.Model)
	}
	d.classesEntry = widget.NewEntry()
	d.classesEntry.SetText(strconv.Itoa(s.ClassCount))
	d.workersEntry = widget.NewEntry()
	d.workersEntry.SetText(strconv.Itoa(s.Workers))

	predictionForm := widget.NewForm(
		widget.NewFormItem("Model", d.modelSelect),
		widget.NewFormItem("Classes", d.classesEntry),
		widget.NewFormItem("Predict All workers", d.workersEntry),
	)

	// Navigation section
	d.navSelect = widget.NewRadioGroup(config.ValidNavigation, nil)
	d.navSelect.Horizontal = true
	d.navSelect.SetSelected(s.Navigation)

	// Conversion section
	d.dilutionEntry = widget.NewEntry()
	d.dilutionEntry.SetText(formatFloat(s.Eggs.DilutionFactor))
	d.volumeEntry = widget.NewEntry()
	d.volumeEntry.SetText(formatFloat(s.Oysters.SampleVolumeML))

	conversionForm := widget.NewForm(
		widget.NewFormItem("Egg dilution factor", d.dilutionEntry),
		widget.NewFormItem("Oyster sample volume (mL)", d.volumeEntry),
	)

	// Export section
	d.templateEntry = widget.NewEntry()
	d.templateEntry.SetPlaceHolder("CSV whose header lists the target columns")
	d.templateEntry.SetText(s.Export.Template)
	d.columnsBox = container.NewVBox()
	reload := widget.NewButton("Load Columns", func() { d.rebuildColumns() })
	d.rebuildColumns()

	exportBox := container.NewVBox(
		widget.NewForm(widget.NewFormItem("Template", container.NewBorder(nil, nil, nil, reload, d.templateEntry))),
		d.columnsBox,
	)

	// Watch section
	d.watchCheck = widget.NewCheck("Add new images automatically", nil)
	d.watchCheck.SetChecked(s.Watch.Enabled)
	d.watchEntry = widget.NewEntry()
	d.watchEntry.SetText(s.Watch.Dir)
	d.watchPage = widget.NewSelect(d.pageNames, nil)
	d.watchPage.SetSelected(s.Watch.Page)

	watchForm := widget.NewForm(
		widget.NewFormItem("", d.watchCheck),
		widget.NewFormItem("Folder", d.watchEntry),
		widget.NewFormItem("Page", d.watchPage),
	)

	// Assemble cards
	return container.NewVBox(
		widget.NewCard("Prediction", "", predictionForm),
		widget.NewCard("Navigation", "At the first or last image", d.navSelect),
		widget.NewCard("Conversion", "", conversionForm),
		widget.NewCard("Export Columns", "", exportBox),
		widget.NewCard("Watch Folder", "Takes effect on restart", watchForm),
	)
}

// rebuildColumns lays out one column editor per field. With a readable
// template the choices are its header columns; otherwise headers are typed.
func (d *SettingsDialog) rebuildColumns() {
	var header []string
	if path := strings.TrimSpace(d.templateEntry.Text); path != "" {
		h, err := export.ReadTemplateHeader(path)
		if err == nil {
			header = h
		} else if d.window != nil {
			dialog.ShowError(fmt.Errorf("template: %w", err), d.window)
		}
	}

	d.columns = d.columns[:0]
	items := make([]*widget.FormItem, 0, len(d.fields))
	for _, field := range d.fields {
		current := d.settings.Export.Columns[field]
		var ed columnEditor
		if header != nil {
			sel := widget.NewSelect(append([]string{columnDefault}, header...), nil)
			sel.SetSelected(columnDefault)
			if current != "" {
				sel.SetSelected(current)
			}
			ed = columnEditor{field: field, widget: sel, value: func() string {
				if sel.Selected == columnDefault {
					return ""
				}
				return sel.Selected
			}}
		} else {
			entry := widget.NewEntry()
			entry.SetPlaceHolder(field)
			entry.SetText(current)
			ed = columnEditor{field: field, widget: entry, value: func() string {
				return strings.TrimSpace(entry.Text)
			}}
		}
		d.columns = append(d.columns, ed)
		items = append(items, widget.NewFormItem(field, ed.widget))
	}
	d.columnsBox.Objects = []fyne.CanvasObject{widget.NewForm(items...)}
	d.columnsBox.Refresh()
}

// applyChanges parses the widgets into the settings copy and validates it.
func (d *SettingsDialog) applyChanges() error {
	s := d.settings
	s.Model = d.modelSelect.Selected

	n, err := strconv.Atoi(strings.TrimSpace(d.classesEntry.Text))
	if err != nil {
		return fmt.Errorf("classes: %q is not a whole number", d.classesEntry.Text)
	}
	s.ClassCount = n
	if n, err = strconv.Atoi(strings.TrimSpace(d.workersEntry.Text)); err != nil {
		return fmt.Errorf("workers: %q is not a whole number", d.workersEntry.Text)
	}
	s.Workers = n

	s.Navigation = d.navSelect.Selected

	f, err := parsePositive("dilution factor", d.dilutionEntry.Text)
	if err != nil {
		return err
	}
	s.Eggs.DilutionFactor = f
	if f, err = parsePositive("sample volume", d.volumeEntry.Text); err != nil {
		return err
	}
	s.Oysters.SampleVolumeML = f

	s.Export.Template = strings.TrimSpace(d.templateEntry.Text)
	s.Export.Columns = make(map[string]string, len(d.columns))
	for _, c := range d.columns {
		if v := c.value(); v != "" {
			s.Export.Columns[c.field] = v
		}
	}

	s.Watch.Enabled = d.watchCheck.Checked
	s.Watch.Dir = strings.TrimSpace(d.watchEntry.Text)
	s.Watch.Page = d.watchPage.Selected

	return s.Validate()
}

func parsePositive(name, text string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s: %q is not a positive number", name, text)
	}
	return f, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
