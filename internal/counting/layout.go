// Package counting defines the egg and oyster counting pages and the
// commands they run.
package counting

import (
	"fmt"
	"strconv"
	"strings"

	"lab-counter/internal/config"
	"lab-counter/internal/form"
)

// Output fields shared by every counting page.
const (
	OutCount    = "Count"
	OutPerClass = "Per Class"
	OutLabel    = "Label"
	OutError    = "Error"
)

// InputKind selects the widget used for an input field.
type InputKind int

const (
	Text InputKind = iota
	Choice
)

// InputSpec describes one input field.
type InputSpec struct {
	Name    string
	Kind    InputKind
	Choices []string
	Hint    string
}

// BindingSpec links two output fields. Transform is built from the live
// settings so conversion factors changed in the settings dialog apply to the
// next assignment.
type BindingSpec struct {
	From, To  string
	Transform func(s *config.Settings) form.Transform
}

// Layout is the field set of one page.
type Layout struct {
	Name     string // list and sidecar name
	Title    string
	Inputs   []InputSpec
	Outputs  []string
	Bindings []BindingSpec
}

// Eggs returns the egg counting page layout.
func Eggs() Layout {
	return Layout{
		Name:  "eggs",
		Title: "Egg Count",
		Inputs: []InputSpec{
			{Name: "Group Number", Kind: Text, Hint: "e.g. 7"},
			{Name: "Replicate", Kind: Choice, Choices: []string{"1", "2", "3", "4"}},
			{Name: "Sample Volume (mL)", Kind: Text},
			{Name: "Notes", Kind: Text},
		},
		Outputs: []string{OutCount, OutPerClass, "Eggs per mL", "Eggs per L", OutLabel, OutError},
		Bindings: []BindingSpec{
			{From: OutCount, To: "Eggs per mL", Transform: func(s *config.Settings) form.Transform {
				return Scale(s.Eggs.DilutionFactor)
			}},
			{From: "Eggs per mL", To: "Eggs per L", Transform: func(*config.Settings) form.Transform {
				return Scale(1000)
			}},
		},
	}
}

// Oysters returns the oyster larvae counting page layout.
func Oysters() Layout {
	return Layout{
		Name:  "oysters",
		Title: "Oyster Count",
		Inputs: []InputSpec{
			{Name: "Tank", Kind: Text},
			{Name: "Stage", Kind: Choice, Choices: []string{"D-larvae", "Umbo", "Eyed", "Pediveliger", "Spat"}},
			{Name: "Notes", Kind: Text},
		},
		Outputs: []string{OutCount, OutPerClass, "Larvae per mL", "Larvae per L", OutLabel, OutError},
		Bindings: []BindingSpec{
			{From: OutCount, To: "Larvae per mL", Transform: func(s *config.Settings) form.Transform {
				if s.Oysters.SampleVolumeML <= 0 {
					return func(any) any { return nil }
				}
				return Scale(1 / s.Oysters.SampleVolumeML)
			}},
			{From: "Larvae per mL", To: "Larvae per L", Transform: func(*config.Settings) form.Transform {
				return Scale(1000)
			}},
		},
	}
}

// Layouts returns every page layout in tab order.
func Layouts() []Layout {
	return []Layout{Eggs(), Oysters()}
}

// Scale multiplies a numeric value by factor. Non-numeric values become nil.
func Scale(factor float64) form.Transform {
	return func(v any) any {
		f, ok := ToFloat(v)
		if !ok {
			return nil
		}
		return f * factor
	}
}

// ToFloat converts the numeric values fields hold to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FormatPerClass renders per-class counts, e.g. "12 / 30 / 4".
func FormatPerClass(counts []int) string {
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return strings.Join(parts, " / ")
}
