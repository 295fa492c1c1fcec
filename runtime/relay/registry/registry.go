// Package registry builds the immutable stage lookup used by the orchestrator.
// Construction validates the whole handoff graph up front so an invalid
// pipeline never runs.
package registry

import (
	"errors"
	"fmt"
	"slices"

	"goa.design/relay/runtime/relay"
	"goa.design/relay/runtime/relay/stage"
)

// Registry is an immutable lookup from stage id to descriptor.
type Registry struct {
	entry  relay.Ident
	order  []relay.Ident
	stages map[relay.Ident]*stage.Descriptor
}

var (
	// ErrDuplicateStage indicates two descriptors share an identifier.
	ErrDuplicateStage = errors.New("duplicate stage id")
	// ErrUnknownEntry indicates the entry stage is not registered.
	ErrUnknownEntry = errors.New("unknown entry stage")
	// ErrUnknownTarget indicates a handoff references an unregistered stage.
	ErrUnknownTarget = errors.New("unknown handoff target")
	// ErrDuplicateHandoff indicates a stage declares the same handoff name twice.
	ErrDuplicateHandoff = errors.New("duplicate handoff name")
	// ErrMissingExecutor indicates a descriptor has no executor.
	ErrMissingExecutor = errors.New("missing stage executor")
	// ErrCycle indicates the handoff graph contains a cycle.
	ErrCycle = errors.New("handoff cycle")
	// ErrInvalidStage indicates a descriptor with an empty identifier.
	ErrInvalidStage = errors.New("invalid stage")
)

// New validates descriptors and returns the registry. entry names the stage
// every turn starts from. The handoff graph must be acyclic: every turn is then
// bounded by the number of stages.
func New(entry relay.Ident, descriptors ...stage.Descriptor) (*Registry, error) {
	r := &Registry{entry: entry, stages: make(map[relay.Ident]*stage.Descriptor, len(descriptors))}
	for i := range descriptors {
		d := descriptors[i]
		if d.ID == "" {
			return nil, fmt.Errorf("%w: descriptor %d has no id", ErrInvalidStage, i)
		}
		if _, dup := r.stages[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, d.ID)
		}
		if d.Executor == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingExecutor, d.ID)
		}
		r.stages[d.ID] = freeze(d)
		r.order = append(r.order, d.ID)
	}
	if _, ok := r.stages[entry]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, entry)
	}
	for _, id := range r.order {
		d := r.stages[id]
		seen := make(map[string]struct{}, len(d.Handoffs))
		for _, h := range d.Handoffs {
			if _, ok := r.stages[h.Target]; !ok {
				return nil, fmt.Errorf("%w: %s -> %q", ErrUnknownTarget, id, h.Target)
			}
			name := h.HandoffName()
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("%w: %s declares %q twice", ErrDuplicateHandoff, id, name)
			}
			seen[name] = struct{}{}
		}
	}
	if cycle := r.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycle, formatPath(cycle))
	}
	return r, nil
}

// Entry returns the entry stage id.
func (r *Registry) Entry() relay.Ident { return r.entry }

// Stage returns the descriptor registered under id.
func (r *Registry) Stage(id relay.Ident) (*stage.Descriptor, bool) {
	d, ok := r.stages[id]
	return d, ok
}

// Stages returns the descriptors in registration order.
func (r *Registry) Stages() []*stage.Descriptor {
	out := make([]*stage.Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.stages[id])
	}
	return out
}

// Targets returns the declared handoff targets of id.
func (r *Registry) Targets(id relay.Ident) []relay.Ident {
	d, ok := r.stages[id]
	if !ok {
		return nil
	}
	out := make([]relay.Ident, 0, len(d.Handoffs))
	for _, h := range d.Handoffs {
		if !slices.Contains(out, h.Target) {
			out = append(out, h.Target)
		}
	}
	return out
}

// HandoffNames returns every handoff name and stage id that the registry can
// resolve, sorted.
func (r *Registry) HandoffNames() []string {
	set := make(map[string]struct{})
	for _, id := range r.order {
		set[string(id)] = struct{}{}
		for _, h := range r.stages[id].Handoffs {
			set[h.HandoffName()] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// findCycle returns a cycle path using a three-color depth-first search, or
// nil when the graph is acyclic.
func (r *Registry) findCycle() []relay.Ident {
	const (
		white = iota
		grey
		black
	)
	color := make(map[relay.Ident]int, len(r.order))
	var path []relay.Ident
	var visit func(id relay.Ident) []relay.Ident
	visit = func(id relay.Ident) []relay.Ident {
		color[id] = grey
		path = append(path, id)
		for _, t := range r.Targets(id) {
			switch color[t] {
			case grey:
				start := slices.Index(path, t)
				return append(slices.Clone(path[start:]), t)
			case white:
				if c := visit(t); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}
	for _, id := range r.order {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

func formatPath(p []relay.Ident) string {
	s := ""
	for i, id := range p {
		if i > 0 {
			s += " -> "
		}
		s += string(id)
	}
	return s
}

func freeze(d stage.Descriptor) *stage.Descriptor {
	d.InputGuardrails = slices.Clone(d.InputGuardrails)
	d.OutputGuardrails = slices.Clone(d.OutputGuardrails)
	d.Tools = slices.Clone(d.Tools)
	d.Handoffs = slices.Clone(d.Handoffs)
	return &d
}
