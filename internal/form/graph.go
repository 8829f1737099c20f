package form

import "errors"

// ErrBindingCycle is returned by Bind when the new edge would make an output
// reachable from itself.
var ErrBindingCycle = errors.New("form: binding would create a cycle")

// Transform maps a source value to the value assigned to a bound target.
type Transform func(v any) any

// Identity passes values through unchanged.
func Identity(v any) any { return v }

type edge struct {
	target    *Output
	transform Transform
}

// Bind registers a one-directional edge from source to target. Setting the
// source assigns transform(v) to the target. A nil transform is Identity.
// Edges are permanent.
func Bind(source, target *Output, transform Transform) error {
	if source == nil || target == nil {
		return errors.New("form: bind requires both outputs")
	}
	if source == target || reaches(target, source) {
		return ErrBindingCycle
	}
	if transform == nil {
		transform = Identity
	}
	source.edges = append(source.edges, edge{target: target, transform: transform})
	return nil
}

// reaches reports whether to is reachable from from along existing edges.
func reaches(from, to *Output) bool {
	seen := map[*Output]bool{}
	stack := []*Output{from}
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if o == to {
			return true
		}
		if seen[o] {
			continue
		}
		seen[o] = true
		for _, e := range o.edges {
			stack = append(stack, e.target)
		}
	}
	return false
}
