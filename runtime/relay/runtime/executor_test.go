package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/relay/runtime/relay/model"
	"goa.design/relay/runtime/relay/registry"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/session/inmem"
	"goa.design/relay/runtime/relay/stage"
	"goa.design/relay/runtime/relay/stream"
	"goa.design/relay/runtime/relay/tools"
)

// scriptedModel returns canned responses in order and records requests.
type scriptedModel struct {
	responses []model.Response
	errs      []error
	requests  []model.Request
}

func (m *scriptedModel) Complete(_ context.Context, req model.Request) (model.Response, error) {
	i := len(m.requests)
	m.requests = append(m.requests, req)
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], err
	}
	return model.Response{}, err
}

type fakeRunner struct {
	defs  []tools.Tool
	calls []tools.Ident
	res   tools.Result
	err   error
}

func (f *fakeRunner) Definitions() []tools.Tool { return f.defs }

func (f *fakeRunner) Invoke(_ context.Context, id tools.Ident, _ json.RawMessage) (tools.Result, error) {
	f.calls = append(f.calls, id)
	return f.res, f.err
}

func call(runner stage.ToolRunner) stage.Call {
	return stage.Call{
		Stage:        "Research_Agent",
		Instructions: "Research the query.",
		Input:        "quantum computing",
		Session:      session.ViewOf(session.New("u", "n")),
		Handoffs:     []stage.Handoff{{Name: "to_summary", Target: "Summary_Agent", Description: "Summarize results"}},
		Tools:        runner,
	}
}

func TestModelExecutorToolLoop(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "search_web", Payload: json.RawMessage(`{"query":"quantum"}`)}}},
		{Text: "HANDOFF: to_summary\n[...]"},
	}}
	runner := &fakeRunner{
		defs: []tools.Tool{{Ident: "search_web", Description: "search", InputSchema: json.RawMessage(tools.SearchSchema)}},
		res:  tools.Result{Records: []tools.Record{{Title: "T", URL: "u", Summary: "s"}}},
	}
	exec := &ModelExecutor{Client: m, Model: "gemini-2.0-flash"}

	out, err := exec.Execute(context.Background(), call(runner))
	require.NoError(t, err)
	require.Equal(t, "HANDOFF: to_summary\n[...]", out)
	require.Equal(t, []tools.Ident{"search_web"}, runner.calls)

	require.Len(t, m.requests, 2)
	first := m.requests[0]
	require.Equal(t, "gemini-2.0-flash", first.Model)
	require.Contains(t, first.System, "Research the query.")
	require.Contains(t, first.System, "- to_summary: Summarize results")
	require.Len(t, first.Tools, 1)
	second := m.requests[1]
	require.Len(t, second.Messages, 3)
	require.Equal(t, model.RoleTool, second.Messages[2].Role)
	require.Equal(t, "c1", second.Messages[2].ToolCallID)
	require.JSONEq(t, `[{"title":"T","url":"u","summary":"s"}]`, second.Messages[2].Content)
}

func TestModelExecutorFeedsToolFailuresBack(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "search_web"}}},
		{Text: "Sorry, I could not find anything."},
	}}
	runner := &fakeRunner{err: capabilityErr()}
	out, err := (&ModelExecutor{Client: m}).Execute(context.Background(), call(runner))
	require.NoError(t, err)
	require.Equal(t, "Sorry, I could not find anything.", out)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(m.requests[1].Messages[2].Content), &payload))
	require.Equal(t, "no search results found", payload["error"])
}

func capabilityErr() error {
	inv, _ := tools.NewInvoker(0, tools.NewSearch("search_web", tools.SearcherFunc(
		func(context.Context, string, int) ([]tools.Record, error) { return nil, nil }), 3))
	_, err := inv.Invoke(context.Background(), "search_web", json.RawMessage(`{"query":"x"}`))
	return err
}

func TestModelExecutorErrors(t *testing.T) {
	_, err := (&ModelExecutor{}).Execute(context.Background(), call(nil))
	var ue *UpstreamModelError
	require.ErrorAs(t, err, &ue)

	m := &scriptedModel{errs: []error{model.ErrRateLimited}}
	_, err = (&ModelExecutor{Client: m}).Execute(context.Background(), call(nil))
	require.ErrorAs(t, err, &ue)
	require.ErrorIs(t, err, model.ErrRateLimited)

	loop := &scriptedModel{}
	for range 10 {
		loop.responses = append(loop.responses, model.Response{ToolCalls: []model.ToolCall{{ID: "x", Name: "search_web"}}})
	}
	_, err = (&ModelExecutor{Client: loop, MaxToolRounds: 2}).Execute(context.Background(), call(&fakeRunner{}))
	require.ErrorIs(t, err, ErrToolRounds)
	require.Len(t, loop.requests, 3)
}

func TestModelExecutorCallTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	hang := model.ClientFunc(func(context.Context, model.Request) (model.Response, error) {
		<-block
		return model.Response{}, nil
	})
	_, err := (&ModelExecutor{Client: hang, CallTimeout: 20 * time.Millisecond}).Execute(context.Background(), call(nil))
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "model", te.Op)
}

func TestModelExecutorInRuntime(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{{Text: "Hello Ada, how can I help?"}}}
	reg, err := registry.New("Triage_Agent", stage.Descriptor{
		ID:           "Triage_Agent",
		Instructions: stage.Static("You are a triage agent."),
		Executor:     &ModelExecutor{Client: m},
	})
	require.NoError(t, err)
	rt, err := New(reg, nil, nil, inmem.New())
	require.NoError(t, err)

	turn, err := rt.Run(context.Background(), "u", "hello")
	require.NoError(t, err)
	var produced []string
	o := turn.Drain(func(e stream.Event) {
		if mp, ok := e.(stream.MessageProduced); ok {
			produced = append(produced, mp.Text)
		}
	})
	require.Equal(t, StateCompleted, o.State)
	require.Equal(t, []string{"Hello Ada, how can I help?"}, produced)
	require.Equal(t, "You are a triage agent.", m.requests[0].System)
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, "answer", UserMessage(Outcome{State: StateCompleted, Reply: "answer"}))
	require.Equal(t, MessageInputRejected, UserMessage(Outcome{State: StateRejected, Err: &GuardrailRejectedError{Direction: "input"}}))
	require.Equal(t, MessageOutputRejected, UserMessage(Outcome{State: StateRejected, Err: &GuardrailRejectedError{Direction: "output"}}))
	require.Equal(t, MessageFailed, UserMessage(Outcome{State: StateFailed, Err: errors.New("x")}))
}
