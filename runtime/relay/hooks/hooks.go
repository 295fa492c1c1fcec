// Package hooks provides lifecycle observers for orchestrated turns.
//
// Callbacks are registered per event kind and invoked synchronously, in
// registration order, from the turn goroutine. They are pure observers: their
// return values never influence control flow, and errors or panics they raise
// are recovered and logged so a failing observer cannot abort a turn.
package hooks

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"goa.design/relay/runtime/relay"
	"goa.design/relay/runtime/relay/telemetry"
	"goa.design/relay/runtime/relay/tools"
)

type (
	// Kind identifies a lifecycle event.
	Kind string

	// Event is the payload passed to callbacks.
	Event struct {
		// Kind is the lifecycle event kind.
		Kind Kind
		// TurnID identifies the turn.
		TurnID string
		// UserID identifies the session.
		UserID string
		// Stage is the current stage (empty for run-level events).
		Stage relay.Ident
		// Target is the handoff destination (Handoff events only).
		Target relay.Ident
		// Tool is the capability (tool events only).
		Tool tools.Ident
		// Output carries the stage output, tool result or final reply.
		Output string
		// Err is the failure (Error events and failed tool calls).
		Err error
		// Counts reports how many events of each kind were dispatched in the
		// turn so far, including this one.
		Counts map[Kind]int
	}

	// Callback observes an event. Returned errors are logged and ignored.
	Callback func(ctx context.Context, evt Event) error

	// Registry holds registered callbacks. It is safe for concurrent use.
	Registry struct {
		mu        sync.RWMutex
		callbacks map[Kind][]Callback
	}

	// Dispatcher delivers events of one turn and tracks per-kind counts.
	Dispatcher struct {
		reg    *Registry
		logger telemetry.Logger
		turnID string
		userID string
		counts map[Kind]int
	}
)

const (
	RunStart   Kind = "run_start"
	RunEnd     Kind = "run_end"
	StageStart Kind = "stage_start"
	StageEnd   Kind = "stage_end"
	ToolStart  Kind = "tool_start"
	ToolEnd    Kind = "tool_end"
	Error      Kind = "error"
	Handoff    Kind = "handoff"
)

// Kinds lists every event kind.
var Kinds = []Kind{RunStart, RunEnd, StageStart, StageEnd, ToolStart, ToolEnd, Error, Handoff}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[Kind][]Callback)}
}

// On registers cb for kind.
func (r *Registry) On(kind Kind, cb Callback) *Registry {
	if cb == nil {
		return r
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[kind] = append(r.callbacks[kind], cb)
	return r
}

// OnAll registers cb for every kind.
func (r *Registry) OnAll(cb Callback) *Registry {
	for _, k := range Kinds {
		r.On(k, cb)
	}
	return r
}

func (r *Registry) OnRunStart(cb Callback) *Registry   { return r.On(RunStart, cb) }
func (r *Registry) OnRunEnd(cb Callback) *Registry     { return r.On(RunEnd, cb) }
func (r *Registry) OnStageStart(cb Callback) *Registry { return r.On(StageStart, cb) }
func (r *Registry) OnStageEnd(cb Callback) *Registry   { return r.On(StageEnd, cb) }
func (r *Registry) OnToolStart(cb Callback) *Registry  { return r.On(ToolStart, cb) }
func (r *Registry) OnToolEnd(cb Callback) *Registry    { return r.On(ToolEnd, cb) }
func (r *Registry) OnError(cb Callback) *Registry      { return r.On(Error, cb) }
func (r *Registry) OnHandoff(cb Callback) *Registry    { return r.On(Handoff, cb) }

// Begin returns a dispatcher for one turn. A nil registry yields a dispatcher
// that only counts.
func (r *Registry) Begin(turnID, userID string, logger telemetry.Logger) *Dispatcher {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Dispatcher{reg: r, logger: logger, turnID: turnID, userID: userID, counts: make(map[Kind]int)}
}

// Emit delivers evt to the callbacks registered for evt.Kind.
func (d *Dispatcher) Emit(ctx context.Context, evt Event) {
	d.counts[evt.Kind]++
	evt.TurnID = d.turnID
	evt.UserID = d.userID

	if d.reg == nil {
		return
	}
	d.reg.mu.RLock()
	cbs := append([]Callback(nil), d.reg.callbacks[evt.Kind]...)
	d.reg.mu.RUnlock()

	for i, cb := range cbs {
		evt.Counts = maps.Clone(d.counts)
		if err := invoke(ctx, cb, evt); err != nil {
			d.logger.Warn(ctx, "hook failed", "kind", string(evt.Kind), "index", i, "err", err)
		}
	}
}

// Counts returns a copy of the per-kind counts.
func (d *Dispatcher) Counts() map[Kind]int {
	return maps.Clone(d.counts)
}

func invoke(ctx context.Context, cb Callback, evt Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panicked: %v", p)
		}
	}()
	return cb(ctx, evt)
}
