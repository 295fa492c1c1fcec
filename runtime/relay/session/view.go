package session

import "slices"

// View is a read-only snapshot of a Context handed to guardrails, instruction
// renderers and stage executors. Accessors return copies so callers cannot
// mutate the orchestrator-owned Context.
type View struct {
	c Context
}

// ViewOf snapshots c.
func ViewOf(c Context) View {
	return View{c: c.Clone()}
}

func (v View) UserID() string            { return v.c.UserID }
func (v View) Name() string              { return v.c.Name }
func (v View) Query() string             { return v.c.Query }
func (v View) HasDataToSummarize() bool  { return v.c.HasDataToSummarize }
func (v View) SourceType() string        { return v.c.SourceType }
func (v View) SearchNeeded() bool        { return v.c.SearchNeeded }
func (v View) PreferredLanguage() string { return v.c.PreferredLanguage }

// PreviousSteps returns a copy of the completed stage names.
func (v View) PreviousSteps() []string { return slices.Clone(v.c.PreviousSteps) }

// History returns a copy of the conversation history.
func (v View) History() []HistoryEntry { return slices.Clone(v.c.History) }

// Context returns a deep copy of the underlying Context.
func (v View) Context() Context { return v.c.Clone() }

// Snapshot returns a read-only View of c.
func (c Context) Snapshot() View { return ViewOf(c) }
