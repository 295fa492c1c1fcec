package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"goa.design/relay/runtime/relay/hooks"
	"goa.design/relay/runtime/relay/stage"
	"goa.design/relay/runtime/relay/stream"
	"goa.design/relay/runtime/relay/telemetry"
	"goa.design/relay/runtime/relay/toolerrors"
	"goa.design/relay/runtime/relay/tools"
)

// toolRunner exposes the capabilities declared by one stage. Each call emits
// ToolCallStarted and ToolCallFinished, notifies hooks and is bounded by the
// tool timeout.
//
// Executors run on their own goroutine; events and hook notifications are
// handed to the turn goroutine through calls and dropped once the stage ended.
type toolRunner struct {
	turn  *Turn
	stage *stage.Descriptor
	calls chan func() bool
	done  chan struct{}
}

func newToolRunner(t *Turn, d *stage.Descriptor) *toolRunner {
	return &toolRunner{turn: t, stage: d, calls: make(chan func() bool), done: make(chan struct{})}
}

// do runs fn on the turn goroutine and returns its result, or false when the
// stage already ended.
func (r *toolRunner) do(fn func() bool) bool {
	reply := make(chan bool, 1)
	call := func() bool {
		ok := fn()
		reply <- ok
		return ok
	}
	select {
	case r.calls <- call:
		return <-reply
	case <-r.done:
		return false
	}
}

var _ stage.ToolRunner = (*toolRunner)(nil)

func (r *toolRunner) Definitions() []tools.Tool {
	inv := r.turn.rt.invoker
	if inv == nil {
		return nil
	}
	out := make([]tools.Tool, 0, len(r.stage.Tools))
	for _, id := range r.stage.Tools {
		if t, ok := inv.Tool(id); ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *toolRunner) Invoke(ctx context.Context, id tools.Ident, args json.RawMessage) (tools.Result, error) {
	t := r.turn
	rt := t.rt
	if err := ctx.Err(); err != nil {
		return tools.Result{}, err
	}
	if rt.invoker == nil || !slices.Contains(r.stage.Tools, id) {
		return tools.Result{}, &tools.CapabilityError{
			Capability: id,
			Cause:      toolerrors.NewWithCause("tool not declared by stage "+string(r.stage.ID), tools.ErrUnknownTool),
		}
	}

	started := r.do(func() bool {
		if !t.emit(ctx, stream.ToolCallStarted{Name: string(id), Args: args}) {
			return false
		}
		t.hooks.Emit(ctx, hooks.Event{Kind: hooks.ToolStart, Stage: r.stage.ID, Tool: id, Output: string(args)})
		return true
	})
	if !started {
		return tools.Result{}, context.Canceled
	}

	cctx, span := rt.tracer.Start(ctx, "relay.tool")
	cctx, cancel := context.WithTimeout(cctx, rt.timeouts.Tool)
	start := rt.now()
	res, err := rt.invoker.Invoke(cctx, id, args)
	cancel()
	rt.metrics.RecordTimer(telemetry.MetricToolDuration, rt.now().Sub(start), "tool", string(id))
	if err != nil {
		var ce *tools.CapabilityError
		if errors.As(err, &ce) && !ce.Timeout && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			ce.Timeout = true
		}
		span.RecordError(err)
	}
	span.End()

	finished := stream.ToolCallFinished{Name: string(id)}
	if err != nil {
		finished.Err = err.Error()
	} else {
		finished.Result = res.JSON()
	}
	ended := r.do(func() bool {
		t.hooks.Emit(ctx, hooks.Event{Kind: hooks.ToolEnd, Stage: r.stage.ID, Tool: id, Output: finished.Result, Err: err})
		return t.emit(ctx, finished)
	})
	if !ended {
		return tools.Result{}, context.Canceled
	}
	return res, err
}
