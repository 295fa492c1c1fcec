// Package telemetry defines the logging, metrics and tracing facades used by
// the relay runtime. The interfaces are intentionally small so tests can supply
// lightweight stubs while production wiring delegates to Clue and OpenTelemetry.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger captures structured logging used throughout the runtime. Key-value
	// pairs follow the k1, v1, k2, v2 convention.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter and timer helpers for runtime instrumentation.
	// Tags follow the k1, v1, k2, v2 convention.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}

	// Tracer abstracts span creation so runtime code remains agnostic of the
	// underlying OpenTelemetry provider.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span represents an in-flight tracing span.
	//
	//	ctx, span := tracer.Start(ctx, "relay.stage")
	//	defer span.End()
	//	span.SetStatus(codes.Ok, "completed")
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// Metric names emitted by the runtime.
const (
	MetricTurnCompleted     = "relay.turn.completed"
	MetricTurnRejected      = "relay.turn.rejected"
	MetricTurnFailed        = "relay.turn.failed"
	MetricStageDuration     = "relay.stage.duration"
	MetricToolDuration      = "relay.tool.duration"
	MetricGuardrailDuration = "relay.guardrail.duration"
)
