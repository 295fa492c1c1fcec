package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"go.opentelemetry.io/otel/codes"

	"goa.design/relay/runtime/relay"
	"goa.design/relay/runtime/relay/guardrail"
	"goa.design/relay/runtime/relay/handoff"
	"goa.design/relay/runtime/relay/hooks"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/stage"
	"goa.design/relay/runtime/relay/stream"
	"goa.design/relay/runtime/relay/telemetry"
)

type (
	// State is an orchestrator state.
	State string

	// Turn is one user request cycle. Its events are produced lazily while the
	// consumer iterates Events; the turn advances only as fast as it is read.
	Turn struct {
		rt      *Runtime
		ctx     context.Context
		id      string
		session session.Context
		input   string

		mu       sync.Mutex
		consumed bool
		state    State
		outcome  Outcome
		seq      int
		yield    func(stream.Event) bool
		stopped  bool
		cancel   context.CancelFunc
		hooks    *hooks.Dispatcher
	}

	// Outcome summarizes a finished turn.
	Outcome struct {
		// State is the terminal state (or the last state reached when the turn
		// was abandoned).
		State State
		// Reply is the final answer of a completed turn.
		Reply string
		// Err is the cause of a Rejected or Failed turn.
		Err error
		// Verdicts lists every guardrail verdict produced during the turn.
		Verdicts []guardrail.Verdict
		// Path lists the stages visited, in order.
		Path []relay.Ident
	}
)

const (
	StateIdle             State = "Idle"
	StateValidatingInput  State = "ValidatingInput"
	StateExecutingStage   State = "ExecutingStage"
	StateValidatingOutput State = "ValidatingOutput"
	StateResolvingHandoff State = "ResolvingHandoff"
	StateCompleted        State = "Completed"
	StateRejected         State = "Rejected"
	StateFailed           State = "Failed"
)

// Terminal reports whether s ends a turn.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateFailed
}

// ID returns the turn identifier.
func (t *Turn) ID() string { return t.id }

// Session returns a read-only view of the session as checkpointed at turn start
// or, once the turn completed, at completion.
func (t *Turn) Session() session.View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return session.ViewOf(t.session)
}

// State returns the current state.
func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Outcome returns the outcome of the turn. It is meaningful once Events has
// been fully consumed or abandoned.
func (t *Turn) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.outcome
	o.State = t.state
	o.Verdicts = append([]guardrail.Verdict(nil), o.Verdicts...)
	o.Path = append([]relay.Ident(nil), o.Path...)
	return o
}

// Events returns the lazy, single-use event sequence of the turn. Breaking out
// of the loop abandons the turn: no further external calls are issued and the
// outcome reports ErrAbandoned. A second iteration yields nothing.
func (t *Turn) Events() iter.Seq[stream.Event] {
	return func(yield func(stream.Event) bool) {
		t.mu.Lock()
		if t.consumed {
			t.mu.Unlock()
			return
		}
		t.consumed = true
		t.mu.Unlock()
		t.yield = yield
		t.run()
		t.yield = nil
	}
}

// Drain consumes every event, passing each to fn when fn is not nil, and
// returns the outcome.
func (t *Turn) Drain(fn func(stream.Event)) Outcome {
	for e := range t.Events() {
		if fn != nil {
			fn(e)
		}
	}
	return t.Outcome()
}

func (t *Turn) run() {
	rt := t.rt
	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	t.cancel = cancel
	ctx, span := rt.tracer.Start(ctx, "relay.turn")
	defer span.End()

	t.hooks = rt.hooks.Begin(t.id, t.session.UserID, rt.logger)
	t.hooks.Emit(ctx, hooks.Event{Kind: hooks.RunStart, Output: t.input})

	current := rt.registry.Entry()
	input := t.input
	var from relay.Ident
	var via string
	hops := 0
	for {
		if !t.emit(ctx, stream.AgentSwitched{From: string(from), To: string(current), Handoff: via}) {
			break
		}
		d, ok := rt.registry.Stage(current)
		if !ok {
			t.fail(ctx, &InvalidHandoffTargetError{Stage: from, Requested: string(current)})
			break
		}
		t.mu.Lock()
		t.outcome.Path = append(t.outcome.Path, current)
		t.mu.Unlock()

		next, payload, done := t.step(ctx, d, input)
		if done {
			break
		}
		hops++
		if hops >= len(rt.registry.Stages()) {
			t.fail(ctx, ErrHopLimit)
			break
		}
		from, via, current, input = current, next.HandoffName(), next.Target, payload
	}

	if !t.State().Terminal() {
		t.abandon(ctx)
	}
	o := t.Outcome()
	switch o.State {
	case StateCompleted:
		span.SetStatus(codes.Ok, "completed")
	default:
		if o.Err != nil {
			span.RecordError(o.Err)
		}
		span.SetStatus(codes.Error, string(o.State))
	}
	t.hooks.Emit(ctx, hooks.Event{Kind: hooks.RunEnd, Output: o.Reply, Err: o.Err})
}

// step runs one stage. It returns the handoff to follow and its payload, or
// done when the turn reached a terminal state or was abandoned.
func (t *Turn) step(ctx context.Context, d *stage.Descriptor, input string) (stage.Handoff, string, bool) {
	rt := t.rt
	t.transition(ctx, StateValidatingInput, d.ID)
	if !t.guard(ctx, d, guardrail.DirectionInput, input) {
		return stage.Handoff{}, "", true
	}

	t.transition(ctx, StateExecutingStage, d.ID)
	out, err := t.execute(ctx, d, input)
	if err != nil {
		t.fail(ctx, err)
		return stage.Handoff{}, "", true
	}

	t.transition(ctx, StateValidatingOutput, d.ID)
	if !t.guard(ctx, d, guardrail.DirectionOutput, out) {
		return stage.Handoff{}, "", true
	}

	req, isHandoff := handoff.Parse(out)
	if !isHandoff {
		t.complete(ctx, out)
		return stage.Handoff{}, "", true
	}

	t.transition(ctx, StateResolvingHandoff, d.ID)
	h, ok := d.Resolve(req.Name)
	if !ok {
		t.fail(ctx, &InvalidHandoffTargetError{Stage: d.ID, Requested: req.Name})
		return stage.Handoff{}, "", true
	}
	payload := req.Payload
	if payload == "" {
		payload = input
	}
	payload = handoff.Apply(h.Filter, payload)
	t.hooks.Emit(ctx, hooks.Event{Kind: hooks.Handoff, Stage: d.ID, Target: h.Target, Output: payload})
	rt.logger.Debug(ctx, "handoff", "turn", t.id, "from", string(d.ID), "to", string(h.Target), "handoff", h.HandoffName())
	return h, payload, false
}

// guard runs the checks of d for dir. It returns false when the turn ended.
func (t *Turn) guard(ctx context.Context, d *stage.Descriptor, dir guardrail.Direction, payload string) bool {
	rt := t.rt
	ids := d.InputGuardrails
	if dir == guardrail.DirectionOutput {
		ids = d.OutputGuardrails
	}
	in := guardrail.Input{Stage: d.ID, Direction: dir, Payload: payload, Context: session.ViewOf(t.session)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			t.fail(ctx, err)
			return false
		}
		cctx, span := rt.tracer.Start(ctx, "relay.guardrail")
		cctx, cancel := context.WithTimeout(cctx, rt.timeouts.Guardrail)
		start := rt.now()
		v, err := rt.evaluator.Evaluate(cctx, id, in)
		cancel()
		rt.metrics.RecordTimer(telemetry.MetricGuardrailDuration, rt.now().Sub(start),
			"stage", string(d.ID), "direction", string(dir), "check", id)
		span.AddEvent("verdict", "check", id, "accept", err == nil && v.Accept)
		span.End()

		if err != nil {
			if ctx.Err() != nil {
				t.fail(ctx, ctx.Err())
				return false
			}
			var ee *guardrail.EvaluationError
			if errors.As(err, &ee) && ee.Timeout {
				err = &TimeoutError{Op: "guardrail", Stage: d.ID, Cause: err}
			}
			t.fail(ctx, err)
			return false
		}
		t.mu.Lock()
		t.outcome.Verdicts = append(t.outcome.Verdicts, v)
		t.mu.Unlock()
		if !v.Accept {
			t.reject(ctx, &GuardrailRejectedError{Stage: d.ID, Direction: dir, Reason: v.Reasoning, Verdict: v})
			return false
		}
	}
	return true
}

// execute runs the stage executor under the model timeout.
func (t *Turn) execute(ctx context.Context, d *stage.Descriptor, input string) (string, error) {
	rt := t.rt
	view := session.ViewOf(t.session)
	runner := newToolRunner(t, d)
	defer close(runner.done)
	call := stage.Call{
		Stage:        d.ID,
		Instructions: d.Render(view),
		Input:        input,
		Session:      view,
		Handoffs:     d.Handoffs,
		Tools:        runner,
	}
	t.hooks.Emit(ctx, hooks.Event{Kind: hooks.StageStart, Stage: d.ID, Output: input})

	sctx, span := rt.tracer.Start(ctx, "relay.stage")
	defer span.End()
	sctx, cancel := context.WithTimeout(sctx, rt.timeouts.Model)
	defer cancel()
	start := rt.now()
	out, err := runExecutor(sctx, d, call, runner)
	rt.metrics.RecordTimer(telemetry.MetricStageDuration, rt.now().Sub(start), "stage", string(d.ID))

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && errors.Is(sctx.Err(), context.DeadlineExceeded) {
			var te *TimeoutError
			if !errors.As(err, &te) {
				err = &TimeoutError{Op: "model", Stage: d.ID, Cause: err}
			}
		}
		span.RecordError(err)
		t.hooks.Emit(ctx, hooks.Event{Kind: hooks.StageEnd, Stage: d.ID, Err: err})
		return "", err
	}
	t.hooks.Emit(ctx, hooks.Event{Kind: hooks.StageEnd, Stage: d.ID, Output: out})
	return out, nil
}

// runExecutor runs the executor of d on its own goroutine and returns when it
// finishes or ctx is done, whichever comes first. Tool runner calls made by
// the executor are served in between.
func runExecutor(ctx context.Context, d *stage.Descriptor, call stage.Call, runner *toolRunner) (string, error) {
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("stage %s panicked: %v", d.ID, p)}
			}
		}()
		out, err := d.Executor.Execute(ctx, call)
		done <- result{out: out, err: err}
	}()
	for {
		select {
		case r := <-done:
			return r.out, r.err
		case fn := <-runner.calls:
			fn()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// complete records the terminal reply, checkpoints the session and emits
// MessageProduced only once the checkpoint succeeded.
func (t *Turn) complete(ctx context.Context, reply string) {
	rt := t.rt
	next := t.session.Clone()
	next.AppendAssistant(reply)
	for _, id := range t.Outcome().Path {
		next.MarkStep(string(id))
	}
	if err := rt.store.Checkpoint(context.WithoutCancel(ctx), next); err != nil {
		rt.logger.Error(ctx, "completion checkpoint failed", "turn", t.id, "user", next.UserID, "err", err)
		t.fail(ctx, &PersistenceError{SessionID: next.UserID, Cause: err})
		return
	}
	t.mu.Lock()
	t.session = next
	t.state = StateCompleted
	t.outcome.Reply = reply
	t.mu.Unlock()
	rt.metrics.IncCounter(telemetry.MetricTurnCompleted, 1)
	rt.logger.Debug(ctx, "turn completed", "turn", t.id, "user", next.UserID)
	t.emit(ctx, stream.MessageProduced{Text: reply})
}

func (t *Turn) reject(ctx context.Context, err *GuardrailRejectedError) {
	t.terminate(ctx, StateRejected, err)
	t.rt.metrics.IncCounter(telemetry.MetricTurnRejected, 1, "stage", string(err.Stage), "direction", string(err.Direction))
}

func (t *Turn) fail(ctx context.Context, err error) {
	t.terminate(ctx, StateFailed, err)
	t.rt.metrics.IncCounter(telemetry.MetricTurnFailed, 1)
}

func (t *Turn) terminate(ctx context.Context, state State, err error) {
	if t.stopped {
		state, err = StateFailed, ErrAbandoned
	}
	t.mu.Lock()
	t.state = state
	t.outcome.Err = err
	o := t.outcome
	o.State = state
	t.mu.Unlock()

	if state == StateFailed {
		t.rt.logger.Error(ctx, "turn failed", "turn", t.id, "user", t.session.UserID, "err", err)
	} else {
		t.rt.logger.Warn(ctx, "turn rejected", "turn", t.id, "user", t.session.UserID, "reason", err.Error())
	}
	failed := stream.RunFailed{Outcome: string(state), Reason: UserMessage(o), Err: err.Error()}
	var rej *GuardrailRejectedError
	if errors.As(err, &rej) {
		failed.Detail = rej.Reason
	}
	t.hooks.Emit(ctx, hooks.Event{Kind: hooks.Error, Err: err})
	t.emit(ctx, failed)
}

// abandon records that the consumer stopped reading before a terminal state.
func (t *Turn) abandon(ctx context.Context) {
	t.mu.Lock()
	if !t.state.Terminal() {
		t.state = StateFailed
		t.outcome.Err = ErrAbandoned
	}
	t.mu.Unlock()
	t.rt.logger.Warn(ctx, "turn abandoned", "turn", t.id, "user", t.session.UserID)
}

func (t *Turn) transition(ctx context.Context, s State, id relay.Ident) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.rt.logger.Debug(ctx, "state", "turn", t.id, "state", string(s), "stage", string(id))
}

// emit stamps e, mirrors it to the sinks and yields it to the consumer. It
// returns false once the consumer stopped reading; the turn context is then
// canceled so in-flight external calls return promptly.
func (t *Turn) emit(ctx context.Context, e stream.Event) bool {
	if t.stopped {
		return false
	}
	t.seq++
	e = stamp(e, stream.Base{TurnID: t.id, UserID: t.session.UserID, Seq: t.seq})
	for _, s := range t.rt.sinks {
		if err := s.Send(context.WithoutCancel(ctx), e); err != nil {
			t.rt.logger.Warn(ctx, "event sink failed", "turn", t.id, "type", string(e.Type()), "err", err)
		}
	}
	if !t.yield(e) {
		t.stopped = true
		t.cancel()
		return false
	}
	return true
}

func stamp(e stream.Event, b stream.Base) stream.Event {
	switch v := e.(type) {
	case stream.AgentSwitched:
		v.Base = b
		return v
	case stream.ToolCallStarted:
		v.Base = b
		return v
	case stream.ToolCallFinished:
		v.Base = b
		return v
	case stream.MessageProduced:
		v.Base = b
		return v
	case stream.RunFailed:
		v.Base = b
		return v
	}
	return e
}
