package form

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memControl struct {
	v   any
	set int
}

func (c *memControl) Value() any { return c.v }

func (c *memControl) SetValue(v any) {
	c.v = v
	c.set++
}

type recordSink struct {
	shown []any
}

func (s *recordSink) Show(v any) { s.shown = append(s.shown, v) }

func (s *recordSink) last() any {
	if len(s.shown) == 0 {
		return nil
	}
	return s.shown[len(s.shown)-1]
}

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry()
	a := r.RegisterInput("Group Number", &memControl{})
	b := r.RegisterInput("Tank", &memControl{})
	c := r.RegisterOutput("Count", nil)

	assert.Equal(t, 0, a.ID())
	assert.Equal(t, 1, b.ID())
	assert.Equal(t, 0, c.ID())

	got, err := r.Input(1)
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestUnknownFieldID(t *testing.T) {
	r := NewRegistry()
	r.RegisterInput("a", &memControl{})

	_, err := r.Input(3)
	var ufe *UnknownFieldError
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, "input", ufe.Kind)
	assert.Equal(t, 3, ufe.ID)

	_, err = r.Output(0)
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, "output", ufe.Kind)
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	r := NewRegistry()
	group := &memControl{}
	sink := &recordSink{}
	in := r.RegisterInput("Group Number", group)
	out := r.RegisterOutput("Count", sink)

	in.Push("7")
	out.Set(12)

	r.SaveCurrent(0)
	assert.Nil(t, group.v, "pop resets the control")
	assert.Nil(t, sink.last(), "pop resets the display")

	// Unvisited item restores as empty.
	require.NoError(t, r.Restore(1))
	assert.Nil(t, in.Value())
	in.Push("9")
	r.SaveCurrent(1)

	require.NoError(t, r.Restore(0))
	assert.Equal(t, "7", in.Value())
	assert.Equal(t, 12, out.Value())
	assert.Equal(t, 12, sink.last())

	// Saving again then restoring is idempotent.
	r.SaveCurrent(0)
	require.NoError(t, r.Restore(0))
	assert.Equal(t, "7", in.Value())
	assert.Equal(t, 12, out.Value())
}

func TestRestoreDoesNotCascade(t *testing.T) {
	r := NewRegistry()
	a := r.RegisterOutput("a", nil)
	b := r.RegisterOutput("b", nil)
	require.NoError(t, Bind(a, b, func(v any) any { return "derived" }))

	a.Set(1)
	b.Push("edited")
	r.SaveCurrent(0)
	require.NoError(t, r.Restore(0))

	assert.Equal(t, 1, a.Value())
	assert.Equal(t, "edited", b.Value())
}

func TestInputCommitTracksReadiness(t *testing.T) {
	r := NewRegistry()
	ctl := &memControl{}
	in := r.RegisterInput("Notes", ctl)
	var committed []any
	in.OnCommit(func(v any) { committed = append(committed, v) })

	assert.True(t, in.Ready())
	ctl.v = "half"
	in.Editing()
	assert.False(t, in.Ready())

	// In-progress edits are captured by Pop.
	assert.Equal(t, "half", in.Pop())
	assert.True(t, in.Ready())

	ctl.v = "done"
	in.Commit()
	assert.Equal(t, []any{"done"}, committed)
}

func TestSnapshotAllKeepsDisplayedItem(t *testing.T) {
	r := NewRegistry()
	in := r.RegisterInput("Group Number", &memControl{})
	out := r.RegisterOutput("Count", nil)

	in.Push("1")
	out.Set(5)
	r.SaveCurrent(0)
	require.NoError(t, r.Restore(2))
	in.Push("3") // uncommitted edit on the displayed item

	snap, err := r.SnapshotAll(2, 4)
	require.NoError(t, err)

	assert.Equal(t, []string{"Group Number"}, snap.InputNames)
	assert.Equal(t, []string{"Count"}, snap.OutputNames)
	require.Len(t, snap.Rows, 4)
	assert.Equal(t, Row{Index: 0, Visited: true, Inputs: []any{"1"}, Outputs: []any{5}}, snap.Rows[0])
	assert.Equal(t, Row{Index: 1, Inputs: []any{nil}, Outputs: []any{nil}}, snap.Rows[1])
	assert.Equal(t, Row{Index: 2, Visited: true, Inputs: []any{"3"}, Outputs: []any{nil}}, snap.Rows[2])
	assert.False(t, snap.Rows[3].Visited)

	assert.Equal(t, "3", in.Value(), "displayed item is restored after the snapshot")
}

func TestSnapshotAllWithoutCurrent(t *testing.T) {
	r := NewRegistry()
	r.RegisterInput("a", &memControl{})
	snap, err := r.SnapshotAll(-1, 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Rows)
}

func TestReset(t *testing.T) {
	r := NewRegistry()
	in := r.RegisterInput("a", &memControl{})
	out := r.RegisterOutput("b", nil)
	in.Push("x")
	out.Set(1)
	r.SaveCurrent(0)
	in.Push("y")

	r.Reset()
	assert.Equal(t, 0, r.Store().Len())
	assert.Nil(t, in.Value())
	assert.Nil(t, out.Value())
}
