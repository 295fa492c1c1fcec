// Package stage describes the processing stages of a pipeline: their
// instructions, guardrails, declared capabilities, handoff targets and the
// executor that runs the stage logic.
//
// Descriptors are immutable once registered. Stage logic never mutates the
// session: executors receive a read-only session.View and return text, which
// the orchestrator interprets as either a handoff or a terminal reply.
package stage

import (
	"context"
	"encoding/json"

	"goa.design/relay/runtime/relay"
	"goa.design/relay/runtime/relay/handoff"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/tools"
)

type (
	// Descriptor declares one stage.
	Descriptor struct {
		// ID uniquely identifies the stage within a registry.
		ID relay.Ident
		// Description documents the stage (also used as handoff description).
		Description string
		// Instructions renders the stage instructions from the current session.
		// Nil renders an empty string.
		Instructions Instructions
		// InputGuardrails lists the input check ids evaluated in order.
		InputGuardrails []string
		// OutputGuardrails lists the output check ids evaluated in order.
		OutputGuardrails []string
		// Tools lists the capabilities the stage may invoke.
		Tools []tools.Ident
		// Handoffs lists the declared transfers of control.
		Handoffs []Handoff
		// Executor runs the stage logic.
		Executor Executor
	}

	// Handoff declares an edge from a stage to Target.
	Handoff struct {
		// Name is the token stages emit after the handoff prefix. Empty defaults
		// to the target id.
		Name string
		// Target is the destination stage id.
		Target relay.Ident
		// Description documents when the handoff applies.
		Description string
		// Filter transforms the forwarded payload. Nil forwards it unchanged.
		Filter handoff.Filter
	}

	// Instructions renders the stage instructions. Implementations must be pure
	// functions of their arguments.
	Instructions func(id relay.Ident, view session.View) string

	// Executor runs stage logic for one stage invocation.
	Executor interface {
		Execute(ctx context.Context, call Call) (string, error)
	}

	// ExecutorFunc adapts a function to Executor.
	ExecutorFunc func(ctx context.Context, call Call) (string, error)

	// Call carries everything a stage execution may observe.
	Call struct {
		// Stage is the executing stage.
		Stage relay.Ident
		// Instructions is the rendered instruction text.
		Instructions string
		// Input is the user input or the forwarded handoff payload.
		Input string
		// Session is a read-only snapshot of the session context.
		Session session.View
		// Handoffs lists the handoffs available to the stage.
		Handoffs []Handoff
		// Tools invokes the capabilities declared by the stage.
		Tools ToolRunner
	}

	// ToolRunner invokes declared capabilities on behalf of a stage. Failures are
	// returned as *tools.CapabilityError so stage logic can decide whether to
	// degrade or propagate.
	ToolRunner interface {
		// Definitions returns the declared capabilities.
		Definitions() []tools.Tool
		// Invoke runs capability id with args.
		Invoke(ctx context.Context, id tools.Ident, args json.RawMessage) (tools.Result, error)
	}
)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, call Call) (string, error) {
	return f(ctx, call)
}

// HandoffName returns the token that selects h.
func (h Handoff) HandoffName() string {
	if h.Name != "" {
		return h.Name
	}
	return string(h.Target)
}

// Render returns the instruction text for view.
func (d *Descriptor) Render(view session.View) string {
	if d.Instructions == nil {
		return ""
	}
	return d.Instructions(d.ID, view)
}

// Resolve returns the declared handoff selected by name. name may be the
// handoff name or the target stage id.
func (d *Descriptor) Resolve(name string) (Handoff, bool) {
	for _, h := range d.Handoffs {
		if h.HandoffName() == name || string(h.Target) == name {
			return h, true
		}
	}
	return Handoff{}, false
}

// Static returns Instructions that always render text.
func Static(text string) Instructions {
	return func(relay.Ident, session.View) string { return text }
}
