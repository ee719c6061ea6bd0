// Package funnel implements the multi-step application state machine: step
// tables with validity predicates and skip rules, data merging restricted to
// known fields, and draft persistence that degrades to memory-only.
package funnel

import (
	"fmt"

	"opz-funnels/internal/common/validation"
)

// Data is the accumulated field set of a funnel instance.
type Data map[string]interface{}

// Clone returns a shallow copy.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Step is one entry of a flow's step table.
type Step struct {
	ID          string
	Index       int // 1-based, assigned from table position
	Title       string
	Description string
	// Valid reports whether the user may leave the step forwards. Must be pure.
	Valid func(Data) bool
	// Next optionally overrides the forward target. Returning false keeps the
	// default of Index+1.
	Next func(Data) (int, bool)
}

// Target tells the session layer what happens on submit.
type Target string

const (
	// TargetPartner routes the extracted models.Application to a banking partner.
	TargetPartner Target = "partner"
	// TargetBackend posts the extracted payload to the internal backend.
	TargetBackend Target = "backend"
)

// Definition is the static description of one flow.
type Definition struct {
	Type   string
	Target Target
	Steps  []Step
	// Fields maps every accepted field name to a JSON schema fragment.
	Fields   map[string]string
	Defaults func() Data
	// Extract builds the finalized payload. For TargetPartner flows it
	// returns a models.Application.
	Extract func(userRef string, d Data) (interface{}, error)

	validator *validation.FieldValidator
	index     map[string]int
}

// Compile numbers the steps, checks ids are unique and compiles field schemas.
func Compile(def Definition) (*Definition, error) {
	if def.Type == "" {
		return nil, fmt.Errorf("flow type is required")
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("flow %s has no steps", def.Type)
	}
	if def.Extract == nil {
		return nil, fmt.Errorf("flow %s has no extractor", def.Type)
	}

	steps := make([]Step, len(def.Steps))
	index := make(map[string]int, len(def.Steps))
	for i, s := range def.Steps {
		if s.ID == "" {
			return nil, fmt.Errorf("flow %s: step %d has no id", def.Type, i+1)
		}
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("flow %s: duplicate step id %s", def.Type, s.ID)
		}
		if s.Valid == nil {
			s.Valid = Always
		}
		s.Index = i + 1
		steps[i] = s
		index[s.ID] = s.Index
	}

	v, err := validation.NewFieldValidator(def.Fields)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", def.Type, err)
	}

	def.Steps = steps
	def.index = index
	def.validator = v
	if def.Defaults == nil {
		def.Defaults = func() Data { return Data{} }
	}
	return &def, nil
}

// MustCompile is Compile for static flow tables.
func MustCompile(def Definition) *Definition {
	d, err := Compile(def)
	if err != nil {
		panic(err)
	}
	return d
}

// Len returns the number of steps.
func (d *Definition) Len() int {
	return len(d.Steps)
}

// Step returns the step at a 1-based index.
func (d *Definition) Step(index int) Step {
	return d.Steps[index-1]
}

// IndexOf returns the index of a step id.
func (d *Definition) IndexOf(stepID string) (int, bool) {
	i, ok := d.index[stepID]
	return i, ok
}

// forwardTarget is where Next from step i lands on data. Overrides outside
// (i, N] are ignored.
func (d *Definition) forwardTarget(i int, data Data) int {
	if rule := d.Step(i).Next; rule != nil {
		if target, ok := rule(data); ok && target > i && target <= d.Len() {
			return target
		}
	}
	return i + 1
}

// backwardTarget mirrors the skip rules: it walks the forward path from step 1
// on the current data and returns the last visited step before current.
func (d *Definition) backwardTarget(current int, data Data) int {
	prev := 1
	for i := 1; i < current; i = d.forwardTarget(i, data) {
		prev = i
	}
	return prev
}

// Always is the predicate of steps without required input.
func Always(Data) bool { return true }

// SkipTo returns a skip rule jumping to target when cond holds.
func SkipTo(target int, cond func(Data) bool) func(Data) (int, bool) {
	return func(d Data) (int, bool) {
		if cond(d) {
			return target, true
		}
		return 0, false
	}
}
