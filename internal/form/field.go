// Package form provides page fields whose values are saved and restored per
// item, and the binding graph that propagates values between output fields.
package form

// Control is the UI side of an input field.
type Control interface {
	// Value returns what the control currently holds, or nil when empty.
	Value() any
	// SetValue replaces the control content. nil resets it to empty.
	SetValue(v any)
}

// Sink renders an output value. Show(nil) returns it to a neutral state.
type Sink interface {
	Show(v any)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(v any)

// Show calls f(v).
func (f SinkFunc) Show(v any) { f(v) }

// Input is a user editable field.
type Input struct {
	id      int
	name    string
	control Control
	ready   bool

	onCommit []func(v any)
}

// ID returns the field id, its position in registration order.
func (in *Input) ID() int { return in.id }

// Name returns the field label.
func (in *Input) Name() string { return in.name }

// Ready reports whether the last edit has been committed.
func (in *Input) Ready() bool { return in.ready }

// Editing marks the field as holding an uncommitted edit.
func (in *Input) Editing() { in.ready = false }

// Commit marks the current value as committed and notifies listeners.
func (in *Input) Commit() {
	in.ready = true
	v := in.control.Value()
	for _, fn := range in.onCommit {
		fn(v)
	}
}

// OnCommit registers a listener called with the value on every Commit.
func (in *Input) OnCommit(fn func(v any)) {
	in.onCommit = append(in.onCommit, fn)
}

// Value returns the control's current value, committed or not.
func (in *Input) Value() any { return in.control.Value() }

// Pop extracts the value and resets the control to empty.
// Uncommitted edits are captured too.
func (in *Input) Pop() any {
	v := in.control.Value()
	in.control.SetValue(nil)
	in.ready = true
	return v
}

// Push injects v into the control. nil clears it.
func (in *Input) Push(v any) {
	in.control.SetValue(v)
	in.ready = true
}

// Output is a field written by the framework or by commands.
type Output struct {
	id    int
	name  string
	sink  Sink
	value any
	edges []edge
}

// ID returns the field id, its position in registration order.
func (o *Output) ID() int { return o.id }

// Name returns the field label.
func (o *Output) Name() string { return o.name }

// Value returns the last value assigned or pushed.
func (o *Output) Value() any { return o.value }

// Set assigns v, renders it, then cascades through every bound edge in
// registration order. Propagation is synchronous.
func (o *Output) Set(v any) {
	o.show(v)
	for _, e := range o.edges {
		e.target.Set(e.transform(v))
	}
}

// Pop extracts the value and resets the display to neutral.
func (o *Output) Pop() any {
	v := o.value
	o.show(nil)
	return v
}

// Push injects v without cascading, so restoring saved values reproduces
// exactly what was saved.
func (o *Output) Push(v any) {
	o.show(v)
}

func (o *Output) show(v any) {
	o.value = v
	if o.sink != nil {
		o.sink.Show(v)
	}
}
