// Package fields provides fyne widgets that back form fields.
package fields

import (
	"fmt"
	"strconv"
	"strings"

	"lab-counter/internal/command"
	"lab-counter/internal/form"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/widget"
)

// Entry is a text input control. An empty entry holds nil.
type Entry struct {
	widget.Entry
	pushing bool
}

var _ form.Control = (*Entry)(nil)

// NewEntry creates an entry with an optional placeholder.
func NewEntry(hint string) *Entry {
	e := &Entry{}
	e.ExtendBaseWidget(e)
	e.SetPlaceHolder(hint)
	return e
}

// Value implements form.Control.
func (e *Entry) Value() any {
	if e.Text == "" {
		return nil
	}
	return e.Text
}

// SetValue implements form.Control.
func (e *Entry) SetValue(v any) {
	e.pushing = true
	defer func() { e.pushing = false }()
	e.SetText(Format(v))
}

// Attach forwards user edits to in through dispatch. Typing marks the field
// as editing; Enter or leaving the field commits it.
func (e *Entry) Attach(in *form.Input, dispatch command.Dispatcher) {
	e.OnChanged = func(string) {
		if e.pushing {
			return
		}
		dispatch.Post(in.Editing)
	}
	e.OnSubmitted = func(string) {
		dispatch.Post(in.Commit)
	}
}

// FocusLost commits the pending edit.
func (e *Entry) FocusLost() {
	e.Entry.FocusLost()
	if e.OnSubmitted != nil {
		e.OnSubmitted(e.Text)
	}
}

// Select is a choice input control. No selection holds nil.
type Select struct {
	widget.Select
	pushing bool
}

var _ form.Control = (*Select)(nil)

// NewSelect creates a select over options.
func NewSelect(options []string) *Select {
	s := &Select{}
	s.Options = options
	s.PlaceHolder = "(select one)"
	s.ExtendBaseWidget(s)
	return s
}

// Value implements form.Control.
func (s *Select) Value() any {
	if s.Selected == "" {
		return nil
	}
	return s.Selected
}

// SetValue implements form.Control.
func (s *Select) SetValue(v any) {
	s.pushing = true
	defer func() { s.pushing = false }()
	if v == nil {
		s.ClearSelected()
		return
	}
	s.SetSelected(Format(v))
}

// Attach commits in on every user selection.
func (s *Select) Attach(in *form.Input, dispatch command.Dispatcher) {
	s.OnChanged = func(string) {
		if s.pushing {
			return
		}
		dispatch.Post(in.Commit)
	}
}

// Label renders an output value. Danger labels are used for error fields.
type Label struct {
	widget.Label
	placeholder string
}

var _ form.Sink = (*Label)(nil)

// NewLabel creates an output label showing placeholder when empty.
func NewLabel(placeholder string, danger bool) *Label {
	l := &Label{placeholder: placeholder}
	l.Text = placeholder
	l.ExtendBaseWidget(l)
	l.Wrapping = fyne.TextWrapWord
	if danger {
		l.Importance = widget.DangerImportance
	}
	return l
}

// Show implements form.Sink.
func (l *Label) Show(v any) {
	if v == nil {
		l.SetText(l.placeholder)
		return
	}
	l.SetText(Format(v))
}

// Format renders a field value for display.
func Format(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		s := strconv.FormatFloat(n, 'f', 2, 64)
		s = strings.TrimRight(s, "0")
		return strings.TrimSuffix(s, ".")
	case float32:
		return Format(float64(n))
	default:
		return fmt.Sprint(v)
	}
}
