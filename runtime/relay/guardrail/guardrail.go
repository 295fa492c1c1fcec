// Package guardrail evaluates validation checks against stage inputs and
// outputs. Each check is an independent predicate over a payload and a read-only
// session view that produces a Verdict. Checks for one (stage, direction) run
// sequentially in declared order and evaluation stops at the first rejection.
//
// A check that cannot run (it returns an error, panics or exceeds its deadline)
// yields an *EvaluationError, which callers treat as transient and distinct
// from a definitive rejection.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"goa.design/relay/runtime/relay"
	"goa.design/relay/runtime/relay/handoff"
	"goa.design/relay/runtime/relay/session"
)

type (
	// Direction identifies which side of a stage a check guards.
	Direction string

	// Input is the payload submitted to a check.
	Input struct {
		// Stage is the stage whose input or output is validated.
		Stage relay.Ident
		// Direction is Input or Output.
		Direction Direction
		// Payload is the raw text under validation.
		Payload string
		// Context is a read-only snapshot of the session.
		Context session.View
	}

	// Verdict is the immutable result of one check. Stage, Direction and Check
	// attribute the verdict and are always set by the Evaluator.
	Verdict struct {
		// Accept is true when the payload passed the check.
		Accept bool
		// Reasoning is the free-text justification.
		Reasoning string
		// Fields carries check-specific structured fields.
		Fields map[string]any
		// Stage is the stage the verdict applies to.
		Stage relay.Ident
		// Direction is the validated direction.
		Direction Direction
		// Check is the name of the check that produced the verdict.
		Check string
		// Skipped is true when the check was not invoked because it does not
		// apply to the payload.
		Skipped bool
	}

	// Check is a named validation predicate.
	Check interface {
		// Name returns the check identifier referenced by stage descriptors.
		Name() string
		// Check validates in. A returned error means the check could not run.
		Check(ctx context.Context, in Input) (Verdict, error)
	}

	// CheckFunc is the function form of a check body.
	CheckFunc func(ctx context.Context, in Input) (Verdict, error)

	namedCheck struct {
		name string
		fn   CheckFunc
	}

	handoffOnly struct {
		inner Check
	}
)

const (
	// DirectionInput validates the stage input.
	DirectionInput Direction = "input"
	// DirectionOutput validates the stage output.
	DirectionOutput Direction = "output"
)

// SkippedReasoning is the reasoning of verdicts produced for HandoffOnly checks
// on non-handoff payloads.
const SkippedReasoning = "non-handoff message allowed"

// ErrUnknownCheck indicates the evaluator has no check with the requested id.
var ErrUnknownCheck = errors.New("unknown guardrail check")

// NewCheck returns a Check named name backed by fn.
func NewCheck(name string, fn CheckFunc) Check {
	return namedCheck{name: name, fn: fn}
}

func (c namedCheck) Name() string { return c.name }

func (c namedCheck) Check(ctx context.Context, in Input) (Verdict, error) {
	return c.fn(ctx, in)
}

// HandoffOnly wraps c so it only runs on payloads following the handoff
// convention. Any other payload is accepted without invoking c.
func HandoffOnly(c Check) Check {
	return handoffOnly{inner: c}
}

func (h handoffOnly) Name() string { return h.inner.Name() }

func (h handoffOnly) Check(ctx context.Context, in Input) (Verdict, error) {
	if !handoff.Is(in.Payload) {
		return Verdict{Accept: true, Reasoning: SkippedReasoning, Skipped: true}, nil
	}
	return h.inner.Check(ctx, in)
}

// Accept returns an accepting verdict.
func Accept(reasoning string, fields map[string]any) Verdict {
	return Verdict{Accept: true, Reasoning: reasoning, Fields: fields}
}

// Reject returns a rejecting verdict.
func Reject(reasoning string, fields map[string]any) Verdict {
	return Verdict{Accept: false, Reasoning: reasoning, Fields: fields}
}

// Field returns the structured field k.
func (v Verdict) Field(k string) (any, bool) {
	x, ok := v.Fields[k]
	return x, ok
}

func (v Verdict) attribute(in Input, check string) Verdict {
	v.Stage = in.Stage
	v.Direction = in.Direction
	v.Check = check
	v.Fields = maps.Clone(v.Fields)
	return v
}

// String renders the attribution triple.
func (v Verdict) String() string {
	state := "accepted"
	if !v.Accept {
		state = "rejected"
	}
	return fmt.Sprintf("%s/%s/%s %s: %s", v.Stage, v.Direction, v.Check, state, v.Reasoning)
}
