// Package tools implements the capability invocation layer: a registry of
// declared external capabilities invoked with schema-validated arguments, a
// bounded timeout and no internal retries.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Ident identifies a capability (e.g. "search_web").
	Ident string

	// Tool declares an external capability.
	Tool struct {
		// Ident is the capability identifier exposed to stages and models.
		Ident Ident
		// Description documents the capability for model prompting.
		Description string
		// InputSchema is the JSON Schema of the arguments. Empty disables
		// validation.
		InputSchema json.RawMessage
		// Invoke executes the capability.
		Invoke func(ctx context.Context, args json.RawMessage) (Result, error)
	}

	// Result is the structured output of a capability call: an ordered sequence
	// of records.
	Result struct {
		Records []Record `json:"records"`
	}

	// Record is one structured capability result.
	Record struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Summary string `json:"summary"`
	}
)

var (
	// ErrUnknownTool indicates the capability is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArgs indicates the arguments failed schema validation.
	ErrInvalidArgs = errors.New("invalid tool arguments")
	// ErrEmptyQuery indicates a search was attempted with an empty query.
	ErrEmptyQuery = errors.New("empty search query")
	// ErrNoResults indicates the search provider returned no matches.
	ErrNoResults = errors.New("no search results found")
	// ErrUnavailable indicates the upstream provider could not be reached.
	ErrUnavailable = errors.New("search provider unavailable")
)

// String implements fmt.Stringer.
func (i Ident) String() string { return string(i) }

// JSON renders the result as the JSON array forwarded between stages.
func (r Result) JSON() string {
	recs := r.Records
	if recs == nil {
		recs = []Record{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func compileSchema(id Ident, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tool %q: unmarshal schema: %w", id, err)
	}
	c := jsonschema.NewCompiler()
	url := string(id) + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tool %q: add schema resource: %w", id, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", id, err)
	}
	return s, nil
}
