package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/relay/runtime/relay/guardrail"
	"goa.design/relay/runtime/relay/model"
)

// verdictSchema builds the JSON Schema of a judge verdict with the given
// boolean fields plus reasoning.
func verdictSchema(fields ...string) json.RawMessage {
	props := map[string]any{"reasoning": map[string]any{"type": "string"}}
	required := []string{"reasoning"}
	for _, f := range fields {
		props[f] = map[string]any{"type": "boolean"}
		required = append(required, f)
	}
	b, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
	return b
}

func judgeInstructions(task string, fields ...string) string {
	return fmt.Sprintf("%s\nReturn only a JSON object with the boolean fields %s and a string field reasoning.",
		strings.TrimSpace(task), strings.Join(fields, ", "))
}

// JudgeChecks returns model-backed checks equivalent to RuleChecks. modelID
// selects the judge model; empty uses the client default.
func JudgeChecks(client model.Client, modelID string, handoffNames []string) ([]guardrail.Check, error) {
	cfgs := []guardrail.JudgeConfig{
		{
			Name: CheckAbuse,
			Instructions: judgeInstructions("You are a guardrail checking user input for abuse or offense.",
				"is_abusive", "is_offensive"),
			Schema: verdictSchema("is_abusive", "is_offensive"),
			Decide: func(f map[string]any) bool {
				return !guardrail.BoolField(f, "is_abusive") && !guardrail.BoolField(f, "is_offensive")
			},
		},
		{
			Name: CheckHandoffValidity,
			Instructions: judgeInstructions(fmt.Sprintf(
				"You validate routing decisions. A handoff is valid only when it names one of: %s.",
				strings.Join(handoffNames, ", ")), "valid_handoff"),
			Schema: verdictSchema("valid_handoff"),
			Decide: func(f map[string]any) bool { return guardrail.BoolField(f, "valid_handoff") },
		},
		{
			Name: CheckResearchQuery,
			Instructions: judgeInstructions(`Check if the user input is a clear, specific research query (e.g. 'Find info about X', 'Tell me the latest on Y').
Reject greetings or vague inputs like 'Hi', 'Tell me something'.`, "is_valid_question"),
			Schema: verdictSchema("is_valid_question"),
			Decide: func(f map[string]any) bool { return guardrail.BoolField(f, "is_valid_question") },
		},
		{
			Name: CheckResearchContent,
			Instructions: judgeInstructions(`You receive the Research Agent's raw output. Check that:
1) It contains factual research content.
2) It does NOT mention tool names or system-level instructions.`, "has_content", "no_tool_mentions"),
			Schema: verdictSchema("has_content", "no_tool_mentions"),
			Decide: func(f map[string]any) bool {
				return guardrail.BoolField(f, "has_content") && guardrail.BoolField(f, "no_tool_mentions")
			},
		},
		{
			Name: CheckSummaryText,
			Instructions: judgeInstructions(`Check if the input is a non-empty text block or factual content to summarize.
Reject questions, greetings, or very short text (<20 characters).`, "is_valid_text"),
			Schema: verdictSchema("is_valid_text"),
			Decide: func(f map[string]any) bool { return guardrail.BoolField(f, "is_valid_text") },
		},
		{
			Name: CheckSummaryRelevance,
			Instructions: judgeInstructions(`You are a guardrail reviewing the Summary Agent's output.
Detect if it is out of context for the user's query or contains disallowed content.`, "out_of_context", "contains_prohibited"),
			Schema: verdictSchema("out_of_context", "contains_prohibited"),
			Decide: func(f map[string]any) bool {
				return !guardrail.BoolField(f, "out_of_context") && !guardrail.BoolField(f, "contains_prohibited")
			},
			Prompt: func(in guardrail.Input) string {
				return fmt.Sprintf("User query: %s\n\nSummary:\n%s", in.Context.Query(), in.Payload)
			},
		},
	}
	out := make([]guardrail.Check, 0, len(cfgs))
	for _, cfg := range cfgs {
		cfg.Model = modelID
		j, err := guardrail.NewJudge(client, cfg)
		if err != nil {
			return nil, err
		}
		var c guardrail.Check = j
		if cfg.Name == CheckHandoffValidity {
			c = guardrail.HandoffOnly(j)
		}
		out = append(out, c)
	}
	return out, nil
}
