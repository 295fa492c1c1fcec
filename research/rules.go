package research

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"goa.design/relay/runtime/relay/guardrail"
	"goa.design/relay/runtime/relay/handoff"
)

// Deterministic rule checks. They mirror the model judges field for field so
// stages can switch between the two without changing verdict consumers.

var (
	abusiveTerms = []string{
		"kill you", "hurt you", "i hate you", "die in", "go die", "worthless",
	}
	offensiveTerms = []string{
		"idiot", "stupid", "moron", "dumb", "shut up", "loser",
	}
	greetings = []string{
		"hi", "hello", "hey", "hiya", "yo", "good morning", "good afternoon",
		"good evening", "thanks", "thank you", "bye", "goodbye", "how are you",
	}
	vaguePhrases = []string{
		"tell me something", "anything", "something", "whatever", "help",
		"i don't know", "idk", "surprise me",
	}
	toolMarkers = []string{
		"search_web", "call_tool", "tavily", "tool output", "system prompt",
		"function call",
	}
	prohibitedTerms = []string{
		"how to make a bomb", "credit card number", "social security number",
		"kill yourself",
	}
	stopWords = []string{
		"find", "recent", "latest", "about", "tell", "what", "with", "from",
		"that", "this", "have", "there", "their", "which", "where", "when",
		"info", "information", "please", "search",
	}
)

// minSummaryInput is the shortest text accepted for summarization.
const minSummaryInput = 20

// RuleChecks returns the deterministic checks. handoffNames lists the handoff
// tokens the triage output may use.
func RuleChecks(handoffNames []string) []guardrail.Check {
	return []guardrail.Check{
		guardrail.NewCheck(CheckAbuse, abuseRule),
		guardrail.HandoffOnly(guardrail.NewCheck(CheckHandoffValidity, handoffRule(handoffNames))),
		guardrail.NewCheck(CheckResearchQuery, researchQueryRule),
		guardrail.NewCheck(CheckResearchContent, researchContentRule),
		guardrail.NewCheck(CheckSummaryText, summaryTextRule),
		guardrail.NewCheck(CheckSummaryRelevance, summaryRelevanceRule),
	}
}

func abuseRule(_ context.Context, in guardrail.Input) (guardrail.Verdict, error) {
	text := normalize(in.Payload)
	abusive := containsAny(text, abusiveTerms)
	offensive := containsAnyWord(text, offensiveTerms)
	fields := map[string]any{"is_abusive": abusive, "is_offensive": offensive}
	if abusive || offensive {
		return guardrail.Reject("input contains abusive or offensive language", fields), nil
	}
	return guardrail.Accept("input is respectful", fields), nil
}

func handoffRule(names []string) guardrail.CheckFunc {
	known := slices.Clone(names)
	return func(_ context.Context, in guardrail.Input) (guardrail.Verdict, error) {
		req, ok := handoff.Parse(in.Payload)
		valid := ok && slices.Contains(known, req.Name)
		fields := map[string]any{"valid_handoff": valid}
		if !valid {
			return guardrail.Reject("handoff "+req.Name+" is not a known route", fields), nil
		}
		return guardrail.Accept("handoff "+req.Name+" is a known route", fields), nil
	}
}

func researchQueryRule(_ context.Context, in guardrail.Input) (guardrail.Verdict, error) {
	text := normalize(in.Payload)
	var reason string
	switch {
	case text == "":
		reason = "input is empty"
	case slices.Contains(greetings, text):
		reason = "input is a greeting, not a research request; it is too vague to research"
	case slices.Contains(vaguePhrases, text):
		reason = "input is too vague to research"
	case len(strings.Fields(text)) < 2:
		reason = "input is too vague to research; name a specific topic"
	}
	if reason != "" {
		return guardrail.Reject(reason, map[string]any{"is_valid_question": false}), nil
	}
	return guardrail.Accept("input is a clear research request", map[string]any{"is_valid_question": true}), nil
}

func researchContentRule(_ context.Context, in guardrail.Input) (guardrail.Verdict, error) {
	body := in.Payload
	if req, ok := handoff.Parse(body); ok {
		body = req.Payload
	}
	trimmed := strings.TrimSpace(body)
	hasContent := trimmed != "" && trimmed != "[]"
	noTools := !containsAny(strings.ToLower(body), toolMarkers)
	fields := map[string]any{"has_content": hasContent, "no_tool_mentions": noTools}
	switch {
	case !hasContent:
		return guardrail.Reject("output has no research content", fields), nil
	case !noTools:
		return guardrail.Reject("output mentions tools or system instructions", fields), nil
	}
	return guardrail.Accept("output contains research content", fields), nil
}

func summaryTextRule(_ context.Context, in guardrail.Input) (guardrail.Verdict, error) {
	trimmed := strings.TrimSpace(in.Payload)
	text := normalize(trimmed)
	var reason string
	switch {
	case len([]rune(trimmed)) < minSummaryInput:
		reason = "input is too short to summarize"
	case slices.Contains(greetings, text):
		reason = "input is a greeting"
	case strings.HasSuffix(trimmed, "?"):
		reason = "input is a question, not text to summarize"
	}
	if reason != "" {
		return guardrail.Reject(reason, map[string]any{"is_valid_text": false}), nil
	}
	return guardrail.Accept("input is text to summarize", map[string]any{"is_valid_text": true}), nil
}

func summaryRelevanceRule(_ context.Context, in guardrail.Input) (guardrail.Verdict, error) {
	text := strings.ToLower(in.Payload)
	prohibited := containsAny(text, prohibitedTerms)
	offTopic := false
	if kws := keywords(in.Context.Query()); len(kws) > 0 {
		offTopic = !containsAny(text, kws)
	}
	fields := map[string]any{"out_of_context": offTopic, "contains_prohibited": prohibited}
	switch {
	case prohibited:
		return guardrail.Reject("summary contains disallowed content", fields), nil
	case offTopic:
		return guardrail.Reject("summary is unrelated to the query", fields), nil
	}
	return guardrail.Accept("summary is on topic", fields), nil
}

// normalize lower-cases s and strips surrounding punctuation and space.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
	return strings.Join(strings.Fields(s), " ")
}

// keywords returns the significant words of query.
func keywords(query string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) >= 4 && !slices.Contains(stopWords, w) {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func containsAnyWord(text string, words []string) bool {
	fields := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if strings.Contains(w, " ") {
			if strings.Contains(text, w) {
				return true
			}
			continue
		}
		if slices.Contains(fields, w) {
			return true
		}
	}
	return false
}
