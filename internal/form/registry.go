package form

import "fmt"

// UnknownFieldError is returned when a field id was never registered.
type UnknownFieldError struct {
	Kind string // "input" or "output"
	ID   int
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("form: unknown %s field id %d", e.Kind, e.ID)
}

// Row is one item's values in a Snapshot, dense by field id.
type Row struct {
	Index   int
	Visited bool
	Inputs  []any
	Outputs []any
}

// Snapshot is a dense index→row table of every item's field values.
type Snapshot struct {
	InputNames  []string
	OutputNames []string
	Rows        []Row
}

// Registry holds a page's fields in creation order and the per-item saved
// states. It is not safe for concurrent use; all calls belong on the UI loop.
type Registry struct {
	inputs  []*Input
	outputs []*Output
	store   *Store
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{store: NewStore()}
}

// RegisterInput adds an input field backed by control and returns its handle.
func (r *Registry) RegisterInput(name string, control Control) *Input {
	in := &Input{id: len(r.inputs), name: name, control: control, ready: true}
	r.inputs = append(r.inputs, in)
	return in
}

// RegisterOutput adds an output field rendered by sink (which may be nil).
func (r *Registry) RegisterOutput(name string, sink Sink) *Output {
	out := &Output{id: len(r.outputs), name: name, sink: sink}
	r.outputs = append(r.outputs, out)
	return out
}

// Input returns the input field with the given id.
func (r *Registry) Input(id int) (*Input, error) {
	if id < 0 || id >= len(r.inputs) {
		return nil, &UnknownFieldError{Kind: "input", ID: id}
	}
	return r.inputs[id], nil
}

// Output returns the output field with the given id.
func (r *Registry) Output(id int) (*Output, error) {
	if id < 0 || id >= len(r.outputs) {
		return nil, &UnknownFieldError{Kind: "output", ID: id}
	}
	return r.outputs[id], nil
}

// Inputs returns the input fields in id order.
func (r *Registry) Inputs() []*Input { return r.inputs }

// Outputs returns the output fields in id order.
func (r *Registry) Outputs() []*Output { return r.outputs }

// Store exposes the saved states.
func (r *Registry) Store() *Store { return r.store }

// SaveCurrent pops every field and records the values under index.
// Call it before the pointer moves away from index.
func (r *Registry) SaveCurrent(index int) {
	st := SavedState{
		Inputs:  make([]FieldValue, 0, len(r.inputs)),
		Outputs: make([]FieldValue, 0, len(r.outputs)),
	}
	for _, in := range r.inputs {
		st.Inputs = append(st.Inputs, FieldValue{ID: in.id, Value: in.Pop()})
	}
	for _, out := range r.outputs {
		st.Outputs = append(st.Outputs, FieldValue{ID: out.id, Value: out.Pop()})
	}
	r.store.Put(index, st)
}

// Restore pushes the values saved for index, or nil into every field when
// index has never been saved. Call it after the pointer moved, before the
// display refresh.
func (r *Registry) Restore(index int) error {
	st, ok := r.store.Get(index)
	if !ok {
		r.clearFields()
		return nil
	}
	for _, fv := range st.Inputs {
		in, err := r.Input(fv.ID)
		if err != nil {
			return err
		}
		in.Push(fv.Value)
	}
	for _, fv := range st.Outputs {
		out, err := r.Output(fv.ID)
		if err != nil {
			return err
		}
		out.Push(fv.Value)
	}
	return nil
}

// Reset drops every saved state and clears every field.
func (r *Registry) Reset() {
	r.store.Reset()
	r.clearFields()
}

func (r *Registry) clearFields() {
	for _, in := range r.inputs {
		in.Push(nil)
	}
	for _, out := range r.outputs {
		out.Push(nil)
	}
}

// SnapshotAll returns a dense table of count rows. The item at current (if
// current >= 0) is saved first so in-progress edits are included, then
// restored, leaving the displayed fields as they were.
func (r *Registry) SnapshotAll(current, count int) (Snapshot, error) {
	if current >= 0 {
		r.SaveCurrent(current)
	}

	snap := Snapshot{
		InputNames:  make([]string, len(r.inputs)),
		OutputNames: make([]string, len(r.outputs)),
		Rows:        make([]Row, count),
	}
	for i, in := range r.inputs {
		snap.InputNames[i] = in.name
	}
	for i, out := range r.outputs {
		snap.OutputNames[i] = out.name
	}

	for i := 0; i < count; i++ {
		row := Row{
			Index:   i,
			Inputs:  make([]any, len(r.inputs)),
			Outputs: make([]any, len(r.outputs)),
		}
		if st, ok := r.store.Get(i); ok {
			row.Visited = true
			for _, fv := range st.Inputs {
				if fv.ID < 0 || fv.ID >= len(row.Inputs) {
					return Snapshot{}, &UnknownFieldError{Kind: "input", ID: fv.ID}
				}
				row.Inputs[fv.ID] = fv.Value
			}
			for _, fv := range st.Outputs {
				if fv.ID < 0 || fv.ID >= len(row.Outputs) {
					return Snapshot{}, &UnknownFieldError{Kind: "output", ID: fv.ID}
				}
				row.Outputs[fv.ID] = fv.Value
			}
		}
		snap.Rows[i] = row
	}

	if current >= 0 {
		if err := r.Restore(current); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}
