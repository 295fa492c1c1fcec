package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/relay/features/session/file"
	"goa.design/relay/research"
	"goa.design/relay/runtime/relay/runtime"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/stream"
	"goa.design/relay/runtime/relay/tools"
)

var records = []tools.Record{
	{Title: "Quantum error correction milestone", URL: "https://example.com/qec", Summary: "Logical qubits beat physical ones."},
	{Title: "New quantum processor", URL: "https://example.com/chip", Summary: "A 1000-qubit quantum processor was announced."},
}

func newTestChat(t *testing.T, input string, resume bool) (*chat, *bytes.Buffer, session.Store) {
	t.Helper()
	store, err := file.New(t.TempDir())
	require.NoError(t, err)
	rt, err := research.New(research.Config{
		Guardrails: research.GuardrailsRules,
		Searcher: tools.SearcherFunc(func(context.Context, string, int) ([]tools.Record, error) {
			return records, nil
		}),
	}, store)
	require.NoError(t, err)
	var out bytes.Buffer
	return newChat(rt, store, strings.NewReader(input), &out, resume), &out, store
}

func TestChatSession(t *testing.T) {
	c, out, store := newTestChat(t, "ada\nAda\nFind recent breakthroughs in quantum computing\nHi\nexit\nnever read\n", false)

	require.NoError(t, c.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Created new context for user ada")
	assert.Contains(t, text, "Agent updated: Triage_Agent\n")
	assert.Contains(t, text, "Agent updated: Research_Agent\n")
	assert.Contains(t, text, "Agent updated: Summary_Agent\n")
	assert.Contains(t, text, "-- Tool was called\n")
	assert.Contains(t, text, "-- Tool output: [{")
	assert.Contains(t, text, "-- Message output:\n ## Summary")
	assert.Contains(t, text, "Sources:")
	assert.Contains(t, text, runtime.MessageInputRejected)

	sc, err := store.Load(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", sc.Name)
	assert.Equal(t, "Hi", sc.Query)
	require.Len(t, sc.History, 3)
	assert.Equal(t, session.RoleUser, sc.History[2].Role)
}

func TestChatReset(t *testing.T) {
	c, out, store := newTestChat(t, "ada\nAda\nFind recent breakthroughs in quantum computing\nreset\nexit\n", false)

	require.NoError(t, c.Run(context.Background()))

	assert.Contains(t, out.String(), "Context reset for user ada")
	sc, err := store.Load(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "ada", sc.UserID)
	assert.Equal(t, "Ada", sc.Name)
	assert.Empty(t, sc.Query)
	assert.Empty(t, sc.History)
	assert.Empty(t, sc.PreviousSteps)
}

func TestResetSession(t *testing.T) {
	store, err := file.New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	c := session.New("ada", "Ada")
	c.BeginTurn("quantum news")
	c.MarkStep("Triage_Agent")
	require.NoError(t, store.Checkpoint(ctx, c))

	require.NoError(t, resetSession(ctx, store, "ada"))
	sc, err := store.Load(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", sc.Name)
	assert.Empty(t, sc.History)
	assert.Empty(t, sc.PreviousSteps)

	assert.ErrorContains(t, resetSession(ctx, store, "bob"), "no context stored")
}

func TestChatRefusesExistingID(t *testing.T) {
	c, out, store := newTestChat(t, "ada\nAda\nbob\nBob\nexit\n", false)
	require.NoError(t, store.Checkpoint(context.Background(), session.New("ada", "Ada")))

	require.NoError(t, c.Run(context.Background()))

	assert.Contains(t, out.String(), "already exists")
	assert.Contains(t, out.String(), "Created new context for user bob")
}

func TestChatResume(t *testing.T) {
	c, out, store := newTestChat(t, "ada\nexit\n", true)
	require.NoError(t, store.Checkpoint(context.Background(), session.New("ada", "Ada")))

	require.NoError(t, c.Run(context.Background()))

	assert.Contains(t, out.String(), "Resumed context for user ada")
	assert.NotContains(t, out.String(), "Enter your name")
}

func TestChatEndsWithInput(t *testing.T) {
	c, _, _ := newTestChat(t, "ada\n", false)
	assert.NoError(t, c.Run(context.Background()))
}

func TestPrintEvent(t *testing.T) {
	cases := []struct {
		event stream.Event
		want  string
	}{
		{stream.AgentSwitched{To: "Summary_Agent"}, "Agent updated: Summary_Agent\n"},
		{stream.ToolCallStarted{Name: "search_web"}, "-- Tool was called\n"},
		{stream.ToolCallFinished{Name: "search_web", Result: "[]"}, "-- Tool output: []\n"},
		{stream.ToolCallFinished{Name: "search_web", Err: "boom"}, "-- Tool output: error: boom\n"},
		{stream.MessageProduced{Text: "hello"}, "-- Message output:\n hello\n"},
		{stream.RunFailed{Reason: runtime.MessageFailed}, runtime.MessageFailed + "\n\n"},
	}
	for _, tc := range cases {
		var b bytes.Buffer
		printEvent(&b, tc.event)
		assert.Equal(t, tc.want, b.String())
	}
}

func TestShow(t *testing.T) {
	store, err := file.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Checkpoint(context.Background(), session.New("ada", "Ada")))

	var b bytes.Buffer
	require.NoError(t, show(context.Background(), store, "ada", &b))
	assert.Contains(t, b.String(), "\n  \"user_id\": \"ada\"")

	err = show(context.Background(), store, "bob", &b)
	assert.ErrorContains(t, err, "no context stored")
}

type pagedEvents struct {
	pages   [][]stream.Event
	cursors []string
}

func (p *pagedEvents) Events(_ context.Context, userID, cursor string, limit int) ([]stream.Event, string, error) {
	p.cursors = append(p.cursors, cursor)
	i := len(p.cursors) - 1
	next := ""
	if i+1 < len(p.pages) {
		next = userID + "-" + string(rune('a'+i))
	}
	return p.pages[i], next, nil
}

func TestReplay(t *testing.T) {
	r := &pagedEvents{pages: [][]stream.Event{
		{stream.AgentSwitched{To: "Triage_Agent"}, stream.AgentSwitched{To: "Research_Agent"}},
		{stream.MessageProduced{Text: "done"}},
	}}
	var b bytes.Buffer
	require.NoError(t, replay(context.Background(), r, "ada", 2, &b))

	assert.Equal(t, []string{"", "ada-a"}, r.cursors)
	assert.Equal(t, "Agent updated: Triage_Agent\nAgent updated: Research_Agent\n-- Message output:\n done\n", b.String())
}
