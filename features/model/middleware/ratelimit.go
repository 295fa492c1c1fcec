// Package middleware provides model.Client decorators shared by the provider
// adapters.
package middleware

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/relay/runtime/relay/model"
)

type (
	// Limiter is an adaptive tokens-per-minute budget shared by every stage
	// that talks to the same provider. The budget halves when the provider
	// reports rate limiting and recovers linearly on success.
	Limiter struct {
		mu      sync.Mutex
		bucket  *rate.Limiter
		tpm     float64
		floor   float64
		ceiling float64
		step    float64

		// onChange is invoked outside the lock with the new budget.
		onChange func(tpm float64)
	}

	// LimiterOption customizes a Limiter.
	LimiterOption func(*Limiter)

	limited struct {
		next model.Client
		l    *Limiter
	}
)

// DefaultTPM is the budget used when NewLimiter receives a non-positive value.
const DefaultTPM = 60000

// requestOverhead approximates system prompt and framing cost in tokens.
const requestOverhead = 500

// WithCeiling caps how far the budget may recover. Defaults to the initial
// budget.
func WithCeiling(tpm float64) LimiterOption {
	return func(l *Limiter) {
		if tpm > 0 {
			l.ceiling = tpm
		}
	}
}

// WithOnChange registers a callback invoked whenever the budget moves.
func WithOnChange(fn func(tpm float64)) LimiterOption {
	return func(l *Limiter) { l.onChange = fn }
}

// NewLimiter returns a limiter starting at tpm tokens per minute.
func NewLimiter(tpm float64, opts ...LimiterOption) *Limiter {
	if tpm <= 0 {
		tpm = DefaultTPM
	}
	l := &Limiter{tpm: tpm, ceiling: tpm}
	for _, o := range opts {
		o(l)
	}
	if l.ceiling < tpm {
		l.ceiling = tpm
	}
	l.floor = max(tpm*0.1, 1)
	l.step = max(tpm*0.05, 1)
	l.bucket = rate.NewLimiter(rate.Limit(tpm/60), int(tpm))
	return l
}

// Middleware wraps next so each Complete call first reserves its estimated
// token cost.
func (l *Limiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limited{next: next, l: l}
	}
}

// TPM returns the current budget.
func (l *Limiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tpm
}

func (c *limited) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := c.l.bucket.WaitN(ctx, c.l.cost(req)); err != nil {
		return model.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	switch {
	case err == nil:
		c.l.adjust(c.l.step)
	case errors.Is(err, model.ErrRateLimited):
		c.l.adjust(-c.l.TPM() / 2)
	}
	return resp, err
}

// cost estimates the request size at roughly one token per three characters,
// never exceeding the bucket burst.
func (l *Limiter) cost(req model.Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Payload)
		}
	}
	n := chars/3 + requestOverhead
	if b := l.bucket.Burst(); n > b {
		n = b
	}
	return n
}

func (l *Limiter) adjust(delta float64) {
	l.mu.Lock()
	next := min(max(l.tpm+delta, l.floor), l.ceiling)
	if next == l.tpm {
		l.mu.Unlock()
		return
	}
	l.tpm = next
	l.bucket.SetLimit(rate.Limit(next / 60))
	l.bucket.SetBurst(int(next))
	cb := l.onChange
	l.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}
