package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/relay/runtime/relay/toolerrors"
)

type (
	// Invoker executes registered tools. It is stateless per call and safe for
	// concurrent use.
	Invoker struct {
		timeout time.Duration
		tools   map[Ident]registered
	}

	registered struct {
		tool   Tool
		schema interface{ Validate(any) error }
	}

	// CapabilityError wraps every failure of a capability call.
	CapabilityError struct {
		// Capability is the failing capability.
		Capability Ident
		// Cause is the underlying failure as a tool error chain.
		Cause *toolerrors.ToolError
		// Timeout is true when the call exceeded its deadline.
		Timeout bool
	}
)

// NewInvoker registers tools and compiles their input schemas. timeout bounds
// every call; zero disables the per-call deadline.
func NewInvoker(timeout time.Duration, tools ...Tool) (*Invoker, error) {
	inv := &Invoker{timeout: timeout, tools: make(map[Ident]registered, len(tools))}
	for _, t := range tools {
		if t.Ident == "" {
			return nil, errors.New("tool identifier is required")
		}
		if t.Invoke == nil {
			return nil, fmt.Errorf("tool %q: invoke function is required", t.Ident)
		}
		if _, dup := inv.tools[t.Ident]; dup {
			return nil, fmt.Errorf("tool %q registered twice", t.Ident)
		}
		s, err := compileSchema(t.Ident, t.InputSchema)
		if err != nil {
			return nil, err
		}
		r := registered{tool: t}
		if s != nil {
			r.schema = s
		}
		inv.tools[t.Ident] = r
	}
	return inv, nil
}

// Tool returns the declaration of id.
func (inv *Invoker) Tool(id Ident) (Tool, bool) {
	r, ok := inv.tools[id]
	return r.tool, ok
}

// Invoke executes capability id with args. Every failure is returned as a
// *CapabilityError; failed calls are never retried.
func (inv *Invoker) Invoke(ctx context.Context, id Ident, args json.RawMessage) (Result, error) {
	r, ok := inv.tools[id]
	if !ok {
		return Result{}, newCapabilityError(id, ErrUnknownTool, false)
	}
	if r.schema != nil {
		var doc any
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		if err := json.Unmarshal(args, &doc); err != nil {
			return Result{}, newCapabilityError(id, fmt.Errorf("%w: %w", ErrInvalidArgs, err), false)
		}
		if err := r.schema.Validate(doc); err != nil {
			return Result{}, newCapabilityError(id, fmt.Errorf("%w: %w", ErrInvalidArgs, err), false)
		}
	}

	callCtx := ctx
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		res, err := r.tool.Invoke(callCtx, args)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			timeout := errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil
			return Result{}, newCapabilityError(id, o.err, timeout)
		}
		return o.res, nil
	case <-callCtx.Done():
		err := callCtx.Err()
		return Result{}, newCapabilityError(id, err, errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil)
	}
}

func newCapabilityError(id Ident, cause error, timeout bool) *CapabilityError {
	return &CapabilityError{Capability: id, Cause: toolerrors.FromError(cause), Timeout: timeout}
}

// Error implements error.
func (e *CapabilityError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("capability %s timed out: %s", e.Capability, e.Cause.Chain())
	}
	return fmt.Sprintf("capability %s failed: %s", e.Capability, e.Cause.Chain())
}

// Unwrap returns the cause chain.
func (e *CapabilityError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}
