package research_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/relay/research"
	"goa.design/relay/runtime/relay/guardrail"
	"goa.design/relay/runtime/relay/model"
	"goa.design/relay/runtime/relay/session"
)

func judgeEvaluator(t *testing.T, reply string, seen *model.Request, calls *atomic.Int32) *guardrail.Evaluator {
	t.Helper()
	client := model.ClientFunc(func(_ context.Context, req model.Request) (model.Response, error) {
		calls.Add(1)
		*seen = req
		return model.Response{Text: reply}, nil
	})
	checks, err := research.JudgeChecks(client, "judge-model", []string{research.GoResearch})
	require.NoError(t, err)
	return guardrail.New(checks...)
}

func judgeInput(payload, query string) guardrail.Input {
	c := session.New("ada", "Ada")
	c.BeginTurn(query)
	return guardrail.Input{Stage: research.Summary, Direction: guardrail.DirectionOutput, Payload: payload, Context: session.ViewOf(c)}
}

func TestJudgeChecksCoverRuleChecks(t *testing.T) {
	var seen model.Request
	var calls atomic.Int32
	ev := judgeEvaluator(t, `{"reasoning":"ok"}`, &seen, &calls)
	for _, c := range research.RuleChecks(nil) {
		assert.True(t, ev.Has(c.Name()), c.Name())
	}
}

func TestJudgeVerdicts(t *testing.T) {
	var seen model.Request
	var calls atomic.Int32

	ev := judgeEvaluator(t, "```json\n{\"is_valid_question\": false, \"reasoning\": \"too vague\"}\n```", &seen, &calls)
	v, err := ev.Evaluate(context.Background(), research.CheckResearchQuery, judgeInput("Hi", "Hi"))
	require.NoError(t, err)
	assert.False(t, v.Accept)
	assert.Equal(t, "too vague", v.Reasoning)
	assert.Equal(t, "judge-model", seen.Model)
	assert.True(t, seen.JSON)
	assert.Contains(t, seen.System, "is_valid_question")

	ev = judgeEvaluator(t, `{"out_of_context": false, "contains_prohibited": false, "reasoning": "fine"}`, &seen, &calls)
	v, err = ev.Evaluate(context.Background(), research.CheckSummaryRelevance, judgeInput("- Quantum chips improved.", "quantum news"))
	require.NoError(t, err)
	assert.True(t, v.Accept)
	require.Len(t, seen.Messages, 1)
	assert.Contains(t, seen.Messages[0].Content, "User query: quantum news")
	assert.Contains(t, seen.Messages[0].Content, "- Quantum chips improved.")
}

func TestJudgeMalformedVerdictIsError(t *testing.T) {
	var seen model.Request
	var calls atomic.Int32
	ev := judgeEvaluator(t, `{"has_content": "yes"}`, &seen, &calls)
	_, err := ev.Evaluate(context.Background(), research.CheckResearchContent, judgeInput("[]", "q"))
	assert.ErrorIs(t, err, guardrail.ErrMalformedVerdict)
}

func TestJudgeHandoffValiditySkipsDirectAnswers(t *testing.T) {
	var seen model.Request
	var calls atomic.Int32
	ev := judgeEvaluator(t, `{"valid_handoff": true, "reasoning": "known"}`, &seen, &calls)

	v, err := ev.Evaluate(context.Background(), research.CheckHandoffValidity, judgeInput("Hello Ada!", ""))
	require.NoError(t, err)
	assert.True(t, v.Accept)
	assert.True(t, v.Skipped)
	assert.Zero(t, calls.Load())

	v, err = ev.Evaluate(context.Background(), research.CheckHandoffValidity, judgeInput("HANDOFF: go_research", ""))
	require.NoError(t, err)
	assert.True(t, v.Accept)
	assert.EqualValues(t, 1, calls.Load())
	assert.Contains(t, seen.System, "go_research")
}
