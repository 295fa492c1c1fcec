// Package session defines the per-user session Context and the durable store
// contract used to checkpoint it between turns.
//
// A Context is exclusively owned and mutated by the orchestrator. Guardrails and
// stage executors only receive a View, a read-only snapshot taken at call time.
// Stores persist full snapshots: a checkpoint either replaces the prior snapshot
// completely or leaves it readable, never exposing a partial write.
package session

import (
	"context"
	"errors"
	"slices"
	"time"
)

type (
	// Context captures the mutable state of one user session. Field tags keep
	// the snapshot keys stable across store backends.
	Context struct {
		// UserID is the durable identifier of the session (snapshot key).
		UserID string `json:"user_id" bson:"user_id"`
		// Name is the display name of the user.
		Name string `json:"name" bson:"name"`
		// Query is the text of the current (or last) user query.
		Query string `json:"query" bson:"query"`
		// HasDataToSummarize is true when the session holds unsummarized data.
		HasDataToSummarize bool `json:"has_data_to_summarize" bson:"has_data_to_summarize"`
		// SourceType tags the kind of source material ("text", "link", "pdf").
		SourceType string `json:"source_type" bson:"source_type"`
		// SearchNeeded is true when the query requires a web search.
		SearchNeeded bool `json:"search_needed" bson:"search_needed"`
		// PreferredLanguage is the user's language preference (e.g. "en").
		PreferredLanguage string `json:"preferred_language" bson:"preferred_language"`
		// PreviousSteps lists the stages that completed, in order.
		PreviousSteps []string `json:"previous_steps" bson:"previous_steps"`
		// History is the ordered conversation history.
		History []HistoryEntry `json:"history" bson:"history"`
		// Revision counts content-changing checkpoints. Stores maintain it.
		Revision uint64 `json:"revision" bson:"revision"`
		// UpdatedAt records the time of the last content-changing checkpoint.
		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	}

	// HistoryEntry is one conversation message.
	HistoryEntry struct {
		Role    Role   `json:"role" bson:"role"`
		Content string `json:"content" bson:"content"`
	}

	// Role identifies the author of a history entry.
	Role string

	// Store persists session snapshots keyed by user identifier.
	//
	// Contract:
	//   - Load returns ErrNotFound when no snapshot exists.
	//   - Checkpoint is atomic from the caller's perspective: a subsequent Load
	//     observes either the full new snapshot or the previous one.
	//   - Checkpointing a Context whose content equals the stored snapshot is a
	//     no-op: Revision and UpdatedAt are left unchanged.
	//   - Failures are returned to the caller; stores never report success for
	//     a write that did not happen.
	Store interface {
		Load(ctx context.Context, userID string) (Context, error)
		Checkpoint(ctx context.Context, c Context) error
	}
)

const (
	// RoleUser marks entries authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks entries produced by a stage as the turn's final reply.
	RoleAssistant Role = "assistant"
)

// Default field values applied at session creation and at each turn start.
const (
	DefaultSourceType        = "text"
	DefaultPreferredLanguage = "en"
)

var (
	// ErrNotFound indicates no snapshot exists for the user identifier.
	ErrNotFound = errors.New("session not found")
	// ErrExists indicates a snapshot already exists for the user identifier.
	ErrExists = errors.New("session already exists")
	// ErrInvalid indicates a Context that cannot be persisted (missing user id).
	ErrInvalid = errors.New("invalid session context")
)

// New returns a Context with the defaults used when a session starts.
func New(userID, name string) Context {
	return Context{
		UserID:            userID,
		Name:              name,
		SourceType:        DefaultSourceType,
		SearchNeeded:      true,
		PreferredLanguage: DefaultPreferredLanguage,
		PreviousSteps:     []string{},
		History:           []HistoryEntry{},
	}
}

// BeginTurn overwrites the per-turn fields with the new query and defaults and
// appends the user message to the history.
func (c *Context) BeginTurn(query string) {
	c.Query = query
	c.HasDataToSummarize = false
	c.SourceType = DefaultSourceType
	c.SearchNeeded = true
	c.PreferredLanguage = DefaultPreferredLanguage
	c.History = append(c.History, HistoryEntry{Role: RoleUser, Content: query})
}

// AppendAssistant appends the final reply of a turn to the history.
func (c *Context) AppendAssistant(text string) {
	c.History = append(c.History, HistoryEntry{Role: RoleAssistant, Content: text})
}

// MarkStep records a completed stage.
func (c *Context) MarkStep(step string) {
	c.PreviousSteps = append(c.PreviousSteps, step)
}

// Reset clears the conversational state while keeping the session identity.
func (c *Context) Reset() {
	name := c.Name
	rev, at := c.Revision, c.UpdatedAt
	*c = New(c.UserID, name)
	c.Revision, c.UpdatedAt = rev, at
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	out.PreviousSteps = slices.Clone(c.PreviousSteps)
	out.History = slices.Clone(c.History)
	if out.PreviousSteps == nil {
		out.PreviousSteps = []string{}
	}
	if out.History == nil {
		out.History = []HistoryEntry{}
	}
	return out
}

// SameContent reports whether a and b carry the same session content,
// ignoring the store-maintained Revision and UpdatedAt fields.
func SameContent(a, b Context) bool {
	return a.UserID == b.UserID &&
		a.Name == b.Name &&
		a.Query == b.Query &&
		a.HasDataToSummarize == b.HasDataToSummarize &&
		a.SourceType == b.SourceType &&
		a.SearchNeeded == b.SearchNeeded &&
		a.PreferredLanguage == b.PreferredLanguage &&
		slices.Equal(a.PreviousSteps, b.PreviousSteps) &&
		slices.Equal(a.History, b.History)
}

// Validate reports whether c can be persisted.
func (c Context) Validate() error {
	if c.UserID == "" {
		return ErrInvalid
	}
	return nil
}

// Create checkpoints c as a brand new session. It returns ErrExists when a
// snapshot is already stored for c.UserID.
func Create(ctx context.Context, store Store, c Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := store.Load(ctx, c.UserID)
	switch {
	case err == nil:
		return ErrExists
	case !errors.Is(err, ErrNotFound):
		return err
	}
	return store.Checkpoint(ctx, c)
}

// Advance computes the snapshot a store persists when checkpointing c over the
// currently stored prev (nil when absent). It reports false when c carries the
// same content as prev and nothing must be written.
func Advance(prev *Context, c Context, now time.Time) (Context, bool) {
	if prev != nil && SameContent(*prev, c) {
		return Context{}, false
	}
	next := c.Clone()
	next.Revision = 1
	if prev != nil {
		next.Revision = prev.Revision + 1
	}
	next.UpdatedAt = now.UTC()
	return next, true
}
