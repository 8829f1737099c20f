package form

// FieldValue is one saved (field id, value) pair.
type FieldValue struct {
	ID    int
	Value any
}

// SavedState is the snapshot of every field captured when leaving an item.
type SavedState struct {
	Inputs  []FieldValue
	Outputs []FieldValue
}

// Store maps item index to its saved state. Entries appear the first time the
// user navigates away from an item.
type Store struct {
	states map[int]SavedState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{states: make(map[int]SavedState)}
}

// Get returns the saved state for index.
func (s *Store) Get(index int) (SavedState, bool) {
	st, ok := s.states[index]
	return st, ok
}

// Put records the saved state for index, replacing any previous one.
func (s *Store) Put(index int, st SavedState) {
	s.states[index] = st
}

// Len returns the number of items with a saved state.
func (s *Store) Len() int {
	return len(s.states)
}

// Reset drops every saved state.
func (s *Store) Reset() {
	s.states = make(map[int]SavedState)
}
