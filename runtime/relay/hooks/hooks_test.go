package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/relay/runtime/relay/telemetry"
)

type captureLogger struct {
	telemetry.NoopLogger
	warns []string
	infos []string
}

func (l *captureLogger) Warn(_ context.Context, msg string, _ ...any) { l.warns = append(l.warns, msg) }
func (l *captureLogger) Info(_ context.Context, msg string, _ ...any) { l.infos = append(l.infos, msg) }

func TestCallbacksRunInRegistrationOrder(t *testing.T) {
	var order []string
	r := NewRegistry().
		OnStageStart(func(context.Context, Event) error { order = append(order, "first"); return nil }).
		OnStageStart(func(context.Context, Event) error { order = append(order, "second"); return nil }).
		OnStageEnd(func(context.Context, Event) error { order = append(order, "end"); return nil })

	d := r.Begin("t1", "u1", nil)
	d.Emit(context.Background(), Event{Kind: StageStart, Stage: "Triage_Agent"})
	require.Equal(t, []string{"first", "second"}, order)
}

func TestFailingHooksAreIsolated(t *testing.T) {
	logger := &captureLogger{}
	var reached bool
	r := NewRegistry().
		OnError(func(context.Context, Event) error { return errors.New("nope") }).
		OnError(func(context.Context, Event) error { panic("boom") }).
		OnError(func(context.Context, Event) error { reached = true; return nil })

	d := r.Begin("t1", "u1", logger)
	require.NotPanics(t, func() {
		d.Emit(context.Background(), Event{Kind: Error, Err: errors.New("x")})
	})
	require.True(t, reached)
	require.Len(t, logger.warns, 2)
}

func TestCountsAndIdentity(t *testing.T) {
	var seen []Event
	r := NewRegistry().OnAll(func(_ context.Context, e Event) error {
		seen = append(seen, e)
		return nil
	})
	d := r.Begin("t1", "u1", nil)
	ctx := context.Background()
	d.Emit(ctx, Event{Kind: RunStart})
	d.Emit(ctx, Event{Kind: ToolStart, Tool: "search_web"})
	d.Emit(ctx, Event{Kind: ToolStart, Tool: "search_web"})

	require.Len(t, seen, 3)
	require.Equal(t, "t1", seen[2].TurnID)
	require.Equal(t, "u1", seen[2].UserID)
	require.Equal(t, 2, seen[2].Counts[ToolStart])
	require.Equal(t, 1, seen[2].Counts[RunStart])
	require.Equal(t, 1, seen[1].Counts[ToolStart])
	require.Equal(t, map[Kind]int{RunStart: 1, ToolStart: 2}, d.Counts())
}

func TestNilRegistryCounts(t *testing.T) {
	var r *Registry
	d := r.Begin("t", "u", nil)
	d.Emit(context.Background(), Event{Kind: RunEnd})
	require.Equal(t, 1, d.Counts()[RunEnd])
}

func TestLoggingHook(t *testing.T) {
	logger := &captureLogger{}
	d := NewRegistry().OnAll(Logging(logger)).Begin("t", "u", nil)
	d.Emit(context.Background(), Event{Kind: Handoff, Stage: "a", Target: "b"})
	require.Equal(t, []string{"lifecycle"}, logger.infos)
}
