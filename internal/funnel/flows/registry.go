// Package flows holds the step tables of every funnel the service runs.
package flows

import (
	"sort"

	"opz-funnels/internal/funnel"
)

// Registry resolves flow names to compiled definitions.
type Registry struct {
	defs map[string]*funnel.Definition
}

// Default returns the registry of all built-in flows.
func Default() *Registry {
	return NewRegistry(
		personalDefinition(),
		businessDefinition(),
		kycDefinition(),
		insuranceDefinition(),
		companyFormationDefinition(),
	)
}

func NewRegistry(defs ...*funnel.Definition) *Registry {
	r := &Registry{defs: make(map[string]*funnel.Definition, len(defs))}
	for _, d := range defs {
		r.defs[d.Type] = d
	}
	return r
}

func (r *Registry) Get(flow string) (*funnel.Definition, bool) {
	d, ok := r.defs[flow]
	return d, ok
}

// Types returns the registered flow names, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
