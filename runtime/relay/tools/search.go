package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type (
	// Searcher is the search provider contract. Implementations return an ordered
	// sequence of records, ErrNoResults when nothing matched, ErrEmptyQuery for a
	// blank query and ErrUnavailable when the provider cannot be reached.
	Searcher interface {
		Search(ctx context.Context, query string, maxResults int) ([]Record, error)
	}

	// SearchArgs is the argument payload of the search capability.
	SearchArgs struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results,omitempty"`
	}
)

// SearchSchema is the input schema of the search capability.
const SearchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query"},
    "max_results": {"type": "integer", "minimum": 1, "maximum": 10}
  },
  "required": ["query"],
  "additionalProperties": false
}`

// NewSearch exposes s as a capability named id. defaultMax applies when the
// caller omits max_results.
func NewSearch(id Ident, s Searcher, defaultMax int) Tool {
	return Tool{
		Ident:       id,
		Description: "Search the web for up-to-date information and return the top results with title, url and summary.",
		InputSchema: json.RawMessage(SearchSchema),
		Invoke: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args SearchArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return Result{}, fmt.Errorf("%w: %w", ErrInvalidArgs, err)
			}
			if strings.TrimSpace(args.Query) == "" {
				return Result{}, ErrEmptyQuery
			}
			n := args.MaxResults
			if n <= 0 {
				n = defaultMax
			}
			recs, err := s.Search(ctx, args.Query, n)
			if err != nil {
				return Result{}, err
			}
			if len(recs) == 0 {
				return Result{}, ErrNoResults
			}
			return Result{Records: recs}, nil
		},
	}
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, maxResults int) ([]Record, error)

// Search implements Searcher.
func (f SearcherFunc) Search(ctx context.Context, query string, maxResults int) ([]Record, error) {
	return f(ctx, query, maxResults)
}
