package research

import (
	"errors"
	"fmt"
	"time"

	"goa.design/relay/runtime/relay/guardrail"
	"goa.design/relay/runtime/relay/handoff"
	"goa.design/relay/runtime/relay/model"
	"goa.design/relay/runtime/relay/registry"
	"goa.design/relay/runtime/relay/runtime"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/stage"
	"goa.design/relay/runtime/relay/tools"
)

type (
	// GuardrailMode selects how guardrail checks are implemented.
	GuardrailMode string

	// Config configures the pipeline.
	Config struct {
		// Model drives the stages and judge checks. Nil selects the
		// deterministic executors and rule checks.
		Model model.Client
		// ModelID selects the provider model. Empty uses the client default.
		ModelID string
		// Temperature is the stage sampling temperature.
		Temperature float32
		// Guardrails selects judge or rule checks. Defaults to judges when a
		// model is configured.
		Guardrails GuardrailMode
		// Searcher backs the search capability. Required.
		Searcher tools.Searcher
		// MaxResults is the number of search results per query.
		MaxResults int
		// ToolTimeout bounds each search call.
		ToolTimeout time.Duration

		// Triage, Research and Summary override the stage executors.
		Triage   stage.Executor
		Research stage.Executor
		Summary  stage.Executor
	}
)

const (
	// GuardrailsJudge uses model judges.
	GuardrailsJudge GuardrailMode = "judge"
	// GuardrailsRules uses deterministic rules.
	GuardrailsRules GuardrailMode = "rules"
)

// New builds a runtime running the pipeline over store.
func New(cfg Config, store session.Store, opts ...runtime.Option) (*runtime.Runtime, error) {
	reg, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	eval, err := NewEvaluator(cfg, reg)
	if err != nil {
		return nil, err
	}
	inv, err := NewInvoker(cfg)
	if err != nil {
		return nil, err
	}
	return runtime.New(reg, eval, inv, store, opts...)
}

// NewRegistry validates and freezes the stage descriptors.
func NewRegistry(cfg Config) (*registry.Registry, error) {
	return registry.New(Triage, Descriptors(cfg)...)
}

// NewEvaluator registers the checks selected by cfg.
func NewEvaluator(cfg Config, reg *registry.Registry) (*guardrail.Evaluator, error) {
	mode := cfg.Guardrails
	if mode == "" {
		mode = GuardrailsRules
		if cfg.Model != nil {
			mode = GuardrailsJudge
		}
	}
	switch mode {
	case GuardrailsRules:
		return guardrail.New(RuleChecks(reg.HandoffNames())...), nil
	case GuardrailsJudge:
		if cfg.Model == nil {
			return nil, errors.New("judge guardrails require a model client")
		}
		checks, err := JudgeChecks(cfg.Model, cfg.ModelID, reg.HandoffNames())
		if err != nil {
			return nil, err
		}
		return guardrail.New(checks...), nil
	default:
		return nil, fmt.Errorf("unknown guardrail mode %q", mode)
	}
}

// NewInvoker registers the search capability.
func NewInvoker(cfg Config) (*tools.Invoker, error) {
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	n := cfg.MaxResults
	if n <= 0 {
		n = DefaultMaxResults
	}
	return tools.NewInvoker(cfg.ToolTimeout, tools.NewSearch(SearchTool, cfg.Searcher, n))
}

// Descriptors returns the triage, research and summary stages.
func Descriptors(cfg Config) []stage.Descriptor {
	triage, research, summary := cfg.Triage, cfg.Research, cfg.Summary
	if cfg.Model != nil {
		exec := &runtime.ModelExecutor{Client: cfg.Model, Model: cfg.ModelID, Temperature: cfg.Temperature}
		triage = or(triage, exec)
		research = or(research, exec)
		summary = or(summary, exec)
	}
	triage = or(triage, stage.Executor(TriageRouter{}))
	research = or(research, stage.Executor(SearchExecutor{MaxResults: cfg.MaxResults}))
	summary = or(summary, stage.Executor(SummaryFormatter{}))

	return []stage.Descriptor{
		{
			ID:               Triage,
			Description:      "Routes the user to research or answers small talk.",
			Instructions:     TriageInstructions,
			InputGuardrails:  []string{CheckAbuse},
			OutputGuardrails: []string{CheckHandoffValidity},
			Handoffs: []stage.Handoff{{
				Name:        GoResearch,
				Target:      Research,
				Description: "Fetch fresh research with Research_Agent.",
			}},
			Executor: triage,
		},
		{
			ID:               Research,
			Description:      "Searches the web for the user's topic.",
			Instructions:     stage.Static(ResearchInstructions),
			InputGuardrails:  []string{CheckResearchQuery},
			OutputGuardrails: []string{CheckResearchContent},
			Tools:            []tools.Ident{SearchTool},
			Handoffs: []stage.Handoff{{
				Name:        ToSummary,
				Target:      Summary,
				Description: "Pass raw search results to Summary_Agent.",
				Filter:      handoff.RemoveToolArtifacts,
			}},
			Executor: research,
		},
		{
			ID:               Summary,
			Description:      "Summarizes search results in Markdown.",
			Instructions:     stage.Static(SummaryInstructions),
			InputGuardrails:  []string{CheckSummaryText},
			OutputGuardrails: []string{CheckSummaryRelevance},
			Executor:         summary,
		},
	}
}

func or(e, fallback stage.Executor) stage.Executor {
	if e != nil {
		return e
	}
	return fallback
}
