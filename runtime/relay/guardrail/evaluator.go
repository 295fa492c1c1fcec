package guardrail

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type (
	// Evaluator runs registered checks. It is safe for concurrent use.
	Evaluator struct {
		mu     sync.RWMutex
		checks map[string]Check
	}

	// EvaluationError reports a check that could not run.
	EvaluationError struct {
		Check   string
		Input   Input
		Cause   error
		Timeout bool
	}
)

// New returns an evaluator with checks registered.
func New(checks ...Check) *Evaluator {
	e := &Evaluator{checks: make(map[string]Check, len(checks))}
	for _, c := range checks {
		e.Register(c)
	}
	return e
}

// Register adds or replaces c.
func (e *Evaluator) Register(c Check) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks[c.Name()] = c
}

// Has reports whether a check named id is registered.
func (e *Evaluator) Has(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.checks[id]
	return ok
}

// Evaluate runs check id against in. The returned verdict is attributed to
// (in.Stage, in.Direction, id). Failures to run the check are returned as
// *EvaluationError.
func (e *Evaluator) Evaluate(ctx context.Context, id string, in Input) (Verdict, error) {
	e.mu.RLock()
	c, ok := e.checks[id]
	e.mu.RUnlock()
	if !ok {
		return Verdict{}, &EvaluationError{Check: id, Input: in, Cause: ErrUnknownCheck}
	}

	type outcome struct {
		v   Verdict
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("check panicked: %v", p)}
			}
		}()
		v, err := c.Check(ctx, in)
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Verdict{}, &EvaluationError{
				Check:   id,
				Input:   in,
				Cause:   o.err,
				Timeout: errors.Is(o.err, context.DeadlineExceeded),
			}
		}
		return o.v.attribute(in, id), nil
	case <-ctx.Done():
		err := ctx.Err()
		return Verdict{}, &EvaluationError{
			Check:   id,
			Input:   in,
			Cause:   err,
			Timeout: errors.Is(err, context.DeadlineExceeded),
		}
	}
}

// Error implements error.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("guardrail %s on %s %s could not run: %v", e.Check, e.Input.Stage, e.Input.Direction, e.Cause)
}

// Unwrap returns the cause.
func (e *EvaluationError) Unwrap() error { return e.Cause }
