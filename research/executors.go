package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"goa.design/relay/runtime/relay/handoff"
	"goa.design/relay/runtime/relay/stage"
	"goa.design/relay/runtime/relay/tools"
)

type (
	// TriageRouter is the deterministic triage stage. It routes every turn to
	// the research stage, whose input checks turn away greetings and vague
	// requests.
	TriageRouter struct{}

	// SearchExecutor is the deterministic research stage. It searches for the
	// stage input and hands the results to the summary stage. When the search
	// finds nothing it answers directly with an apology.
	SearchExecutor struct {
		// MaxResults is the number of results requested. Zero uses
		// DefaultMaxResults.
		MaxResults int
	}

	// SummaryFormatter is the deterministic summary stage: three bullets and a
	// Sources section rendered in Markdown.
	SummaryFormatter struct{}
)

// maxBullets is the number of insights kept in a summary.
const maxBullets = 3

// maxBulletLen bounds the length of one bullet.
const maxBulletLen = 200

var (
	_ stage.Executor = TriageRouter{}
	_ stage.Executor = SearchExecutor{}
	_ stage.Executor = SummaryFormatter{}
)

// Execute implements stage.Executor.
func (TriageRouter) Execute(context.Context, stage.Call) (string, error) {
	return handoff.Format(GoResearch, ""), nil
}

// Execute implements stage.Executor.
func (e SearchExecutor) Execute(ctx context.Context, call stage.Call) (string, error) {
	query := searchQuery(call.Input)
	if call.Tools == nil {
		return "", fmt.Errorf("%s: no tool runner", call.Stage)
	}
	n := e.MaxResults
	if n <= 0 {
		n = DefaultMaxResults
	}
	args, err := json.Marshal(tools.SearchArgs{Query: query, MaxResults: n})
	if err != nil {
		return "", err
	}
	res, err := call.Tools.Invoke(ctx, SearchTool, args)
	switch {
	case err == nil:
		return handoff.Format(ToSummary, res.JSON()), nil
	case errors.Is(err, tools.ErrNoResults):
		return NoResultsReply(query), nil
	default:
		return "", err
	}
}

// NoResultsReply is the terminal answer given when a search finds nothing.
func NoResultsReply(query string) string {
	return fmt.Sprintf("Sorry, no results were found for %q. Please try a broader or differently worded topic.", query)
}

// Execute implements stage.Executor.
func (SummaryFormatter) Execute(_ context.Context, call stage.Call) (string, error) {
	var recs []tools.Record
	if err := json.Unmarshal([]byte(strings.TrimSpace(call.Input)), &recs); err != nil {
		return formatText(call.Input), nil
	}
	return FormatSummary(recs), nil
}

// FormatSummary renders up to three records as Markdown bullets followed by
// their sources.
func FormatSummary(recs []tools.Record) string {
	if len(recs) > maxBullets {
		recs = recs[:maxBullets]
	}
	var b strings.Builder
	b.WriteString("## Summary\n\n")
	for _, r := range recs {
		insight := firstSentence(r.Summary)
		if insight == "" {
			insight = r.Title
		}
		if r.Title != "" && insight != r.Title {
			fmt.Fprintf(&b, "- **%s**: %s\n", r.Title, insight)
		} else {
			fmt.Fprintf(&b, "- %s\n", insight)
		}
	}
	b.WriteString("\nSources:\n")
	for _, r := range recs {
		if r.URL != "" {
			fmt.Fprintf(&b, "- %s\n", r.URL)
		}
	}
	return b.String()
}

func formatText(text string) string {
	var b strings.Builder
	b.WriteString("## Summary\n\n")
	n := 0
	for s := range strings.SplitSeq(text, ".") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s.\n", clip(s))
		if n++; n == maxBullets {
			break
		}
	}
	return b.String()
}

func searchQuery(input string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(input), "\n")
	return strings.Join(strings.Fields(line), " ")
}

func firstSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.Index(s, ". "); i >= 0 {
		s = s[:i+1]
	}
	return clip(s)
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxBulletLen {
		return s
	}
	return strings.TrimSpace(string(r[:maxBulletLen])) + "…"
}
