package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/relay/runtime/relay/model"
)

const abuseSchema = `{
  "type": "object",
  "properties": {
    "is_abusive": {"type": "boolean"},
    "reasoning": {"type": "string"}
  },
  "required": ["is_abusive", "reasoning"]
}`

func newAbuseJudge(t *testing.T, reply string, err error) (*Judge, *model.Request) {
	t.Helper()
	var seen model.Request
	client := model.ClientFunc(func(_ context.Context, req model.Request) (model.Response, error) {
		seen = req
		return model.Response{Text: reply}, err
	})
	j, jerr := NewJudge(client, JudgeConfig{
		Name:         "abuse",
		Instructions: "Check for abuse.",
		Schema:       json.RawMessage(abuseSchema),
		Decide:       func(f map[string]any) bool { return !BoolField(f, "is_abusive") },
	})
	require.NoError(t, jerr)
	return j, &seen
}

func TestJudgeAccepts(t *testing.T) {
	j, seen := newAbuseJudge(t, `{"is_abusive": false, "reasoning": "polite"}`, nil)
	v, err := j.Check(context.Background(), input("What is Go?"))
	require.NoError(t, err)
	require.True(t, v.Accept)
	require.Equal(t, "polite", v.Reasoning)
	require.True(t, seen.JSON)
	require.Equal(t, "Check for abuse.", seen.System)
	require.Equal(t, "What is Go?", seen.Messages[0].Content)
}

func TestJudgeRejectsWithFencedJSON(t *testing.T) {
	j, _ := newAbuseJudge(t, "```json\n{\"is_abusive\": true, \"reasoning\": \"insult\"}\n```", nil)
	v, err := j.Check(context.Background(), input("you are dumb"))
	require.NoError(t, err)
	require.False(t, v.Accept)
	require.Equal(t, true, v.Fields["is_abusive"])
}

func TestJudgeFailuresAreErrors(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		err   error
		want  error
	}{
		{"model error", "", model.ErrRateLimited, model.ErrRateLimited},
		{"not json", "sure, it's fine", nil, ErrMalformedVerdict},
		{"not an object", "[true]", nil, ErrMalformedVerdict},
		{"schema violation", `{"is_abusive": "no"}`, nil, ErrMalformedVerdict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j, _ := newAbuseJudge(t, tc.reply, tc.err)
			_, err := j.Check(context.Background(), input("x"))
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestNewJudgeValidatesConfig(t *testing.T) {
	client := model.ClientFunc(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, nil
	})
	_, err := NewJudge(client, JudgeConfig{})
	require.Error(t, err)
	_, err = NewJudge(nil, JudgeConfig{Name: "x", Decide: func(map[string]any) bool { return true }})
	require.Error(t, err)
	_, err = NewJudge(client, JudgeConfig{Name: "x"})
	require.Error(t, err)
	_, err = NewJudge(client, JudgeConfig{Name: "x", Schema: json.RawMessage(`{`), Decide: func(map[string]any) bool { return true }})
	require.Error(t, err)
}
