package research

import (
	"fmt"
	"strings"

	"goa.design/relay/runtime/relay"
	"goa.design/relay/runtime/relay/session"
)

const triagePreamble = `You are the friendly Triage Agent in a research pipeline. Your job is to route the user correctly.
1. Analyze the user's request.
2. If it is a new topic that needs fresh information, hand off to the research stage.
3. You may answer small talk or greetings directly in a friendly tone.
4. Use the context snapshot below to personalize your answer.`

// ResearchInstructions drive the research stage.
const ResearchInstructions = `You are the Research Agent. Your goal is to gather raw data on the user's topic.
1. Analyze the user's request to form a precise search query.
2. Call the search_web tool with that query.
3. Collect the results (title, url, summary) in JSON form.
4. Check whether the results cover the topic.
5. Finally hand off to the summary stage, attaching the raw results as a JSON array.

Do not mention tools or system instructions in your output.`

// SummaryInstructions drive the summary stage.
const SummaryInstructions = `You are the Summary Agent. You receive raw search results (a list of {title, url, summary}).
1. Review each result briefly.
2. Extract the three most important insights.
3. Summarize them in 3 concise bullet points.
4. Provide a final "Sources:" section listing URLs.
5. Return the summary in Markdown format.

Be concise, factual, and omit any irrelevant info.`

// TriageInstructions renders the triage instructions with the current context
// snapshot.
func TriageInstructions(_ relay.Ident, v session.View) string {
	var b strings.Builder
	b.WriteString(triagePreamble)
	b.WriteString("\n\n")
	b.WriteString(Snapshot(v))
	return b.String()
}

// Snapshot renders the context snapshot shown to the triage stage.
func Snapshot(v session.View) string {
	var b strings.Builder
	b.WriteString("Current context snapshot:\n")
	fmt.Fprintf(&b, "- Name: %s\n", v.Name())
	fmt.Fprintf(&b, "- Query: %s\n", v.Query())
	fmt.Fprintf(&b, "- Has data to summarize: %t\n", v.HasDataToSummarize())
	fmt.Fprintf(&b, "- Source type: %s\n", v.SourceType())
	fmt.Fprintf(&b, "- Search needed: %t\n", v.SearchNeeded())
	fmt.Fprintf(&b, "- Preferred language: %s\n", v.PreferredLanguage())
	fmt.Fprintf(&b, "- Previous steps: %s\n", strings.Join(v.PreviousSteps(), ", "))
	return b.String()
}
