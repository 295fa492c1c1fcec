// Package runtime implements the orchestrator that drives one turn through the
// stage pipeline: input guardrails, stage execution, output guardrails and
// handoff resolution, ending in Completed, Rejected or Failed.
//
// A turn is a single sequential flow. External calls (model, tool, guardrail)
// are the only suspension points and each is bounded by a per-call-type
// timeout. Session state is mutated only at turn start and at completion, and
// each mutation is checkpointed before any dependent event is emitted, so a
// consumer abandoning the event stream never leaves the session half written.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"goa.design/relay/runtime/relay/guardrail"
	"goa.design/relay/runtime/relay/hooks"
	"goa.design/relay/runtime/relay/registry"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/stream"
	"goa.design/relay/runtime/relay/telemetry"
	"goa.design/relay/runtime/relay/tools"
)

type (
	// Runtime orchestrates turns over a validated registry. It is safe for
	// concurrent use by independent sessions.
	Runtime struct {
		registry  *registry.Registry
		evaluator *guardrail.Evaluator
		invoker   *tools.Invoker
		store     session.Store

		hooks    *hooks.Registry
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
		timeouts Timeouts
		sinks    []stream.Sink
		now      func() time.Time
		newID    func() string
	}

	// Timeouts bounds each external call type. Zero values fall back to
	// DefaultTimeouts.
	Timeouts struct {
		// Model bounds stage execution when the stage does not set its own
		// deadline.
		Model time.Duration
		// Tool bounds each capability call.
		Tool time.Duration
		// Guardrail bounds each guardrail check.
		Guardrail time.Duration
	}

	// Option configures a Runtime.
	Option func(*Runtime)
)

// DefaultTimeouts applies when no timeout is configured.
var DefaultTimeouts = Timeouts{
	Model:     2 * time.Minute,
	Tool:      30 * time.Second,
	Guardrail: 30 * time.Second,
}

// WithHooks registers lifecycle observers.
func WithHooks(h *hooks.Registry) Option { return func(r *Runtime) { r.hooks = h } }

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option { return func(r *Runtime) { r.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(r *Runtime) { r.metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option { return func(r *Runtime) { r.tracer = t } }

// WithTimeouts overrides the per-call-type timeouts.
func WithTimeouts(t Timeouts) Option { return func(r *Runtime) { r.timeouts = t } }

// WithSink mirrors every event to s. Sink failures are logged and never affect
// the turn.
func WithSink(s stream.Sink) Option {
	return func(r *Runtime) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithClock overrides the clock used for durations.
func WithClock(now func() time.Time) Option { return func(r *Runtime) { r.now = now } }

// WithTurnIDs overrides the turn identifier generator.
func WithTurnIDs(gen func() string) Option { return func(r *Runtime) { r.newID = gen } }

// New returns a runtime. invoker may be nil when no stage declares tools. The
// store is wrapped so checkpoints of one session never run concurrently.
func New(reg *registry.Registry, eval *guardrail.Evaluator, inv *tools.Invoker, store session.Store, opts ...Option) (*Runtime, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if eval == nil {
		eval = guardrail.New()
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	r := &Runtime{
		registry:  reg,
		evaluator: eval,
		invoker:   inv,
		store:     session.Serialize(store),
		logger:    telemetry.NewNoopLogger(),
		metrics:   telemetry.NewNoopMetrics(),
		tracer:    telemetry.NewNoopTracer(),
		timeouts:  DefaultTimeouts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	r.timeouts = r.timeouts.withDefaults()
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// validate checks that every guardrail and tool referenced by a stage exists.
func (r *Runtime) validate() error {
	for _, d := range r.registry.Stages() {
		for _, id := range append(append([]string{}, d.InputGuardrails...), d.OutputGuardrails...) {
			if !r.evaluator.Has(id) {
				return fmt.Errorf("stage %s references unknown guardrail %q", d.ID, id)
			}
		}
		for _, id := range d.Tools {
			if r.invoker == nil {
				return fmt.Errorf("stage %s declares tool %q but no invoker is configured", d.ID, id)
			}
			if _, ok := r.invoker.Tool(id); !ok {
				return fmt.Errorf("stage %s declares unknown tool %q", d.ID, id)
			}
		}
	}
	return nil
}

// Store returns the session store used by the runtime.
func (r *Runtime) Store() session.Store { return r.store }

// Registry returns the stage registry.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// Run starts a turn for userID. It loads the session (starting a fresh one when
// none exists), records the user input and checkpoints it before returning. A
// failed checkpoint is returned as *PersistenceError and no turn starts.
//
// The returned turn does nothing until its events are consumed.
func (r *Runtime) Run(ctx context.Context, userID, input string) (*Turn, error) {
	if userID == "" {
		return nil, session.ErrInvalid
	}
	c, err := r.store.Load(ctx, userID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		c = session.New(userID, "")
	case err != nil:
		return nil, &PersistenceError{SessionID: userID, Cause: err}
	}
	c.BeginTurn(input)
	if err := r.store.Checkpoint(ctx, c); err != nil {
		r.logger.Error(ctx, "turn start checkpoint failed", "user", userID, "err", err)
		return nil, &PersistenceError{SessionID: userID, Cause: err}
	}
	t := &Turn{
		rt:      r,
		ctx:     ctx,
		id:      r.newID(),
		session: c,
		input:   input,
		state:   StateIdle,
	}
	return t, nil
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Model <= 0 {
		t.Model = DefaultTimeouts.Model
	}
	if t.Tool <= 0 {
		t.Tool = DefaultTimeouts.Tool
	}
	if t.Guardrail <= 0 {
		t.Guardrail = DefaultTimeouts.Guardrail
	}
	return t
}
