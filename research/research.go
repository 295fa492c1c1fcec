// Package research assembles the triage, research and summary pipeline on top
// of the relay runtime: stage descriptors, instructions, guardrail checks and
// the deterministic executors used when no model is configured for a stage.
package research

import (
	"goa.design/relay/runtime/relay"
	"goa.design/relay/runtime/relay/tools"
)

// Stage identifiers.
const (
	Triage   relay.Ident = "Triage_Agent"
	Research relay.Ident = "Research_Agent"
	Summary  relay.Ident = "Summary_Agent"
)

// Handoff names.
const (
	GoResearch = "go_research"
	ToSummary  = "to_summary"
)

// SearchTool is the search capability exposed to the research stage.
const SearchTool tools.Ident = "search_web"

// DefaultMaxResults is the number of search results requested per query.
const DefaultMaxResults = 3

// Guardrail check identifiers.
const (
	CheckAbuse            = "abuse"
	CheckHandoffValidity  = "handoff_validity"
	CheckResearchQuery    = "research_query"
	CheckResearchContent  = "research_content"
	CheckSummaryText      = "summary_text"
	CheckSummaryRelevance = "summary_relevance"
)
