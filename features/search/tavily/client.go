// Package tavily implements the search capability on top of the Tavily search
// HTTP API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"goa.design/relay/runtime/relay/tools"
)

type (
	// Options configures the client.
	Options struct {
		// APIKey authenticates requests. Required.
		APIKey string
		// Endpoint overrides the search URL. Defaults to DefaultEndpoint.
		Endpoint string
		// HTTPClient overrides the HTTP client. Defaults to a client with a
		// 20 second timeout.
		HTTPClient *http.Client
		// RequestsPerSecond bounds outgoing requests. Zero disables limiting.
		RequestsPerSecond float64
	}

	// Client is a tools.Searcher backed by Tavily.
	Client struct {
		key      string
		endpoint string
		http     *http.Client
		limiter  *rate.Limiter
	}

	searchRequest struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results,omitempty"`
	}

	searchResponse struct {
		Results []result `json:"results"`
	}

	result struct {
		Title      string `json:"title"`
		URL        string `json:"url"`
		Content    string `json:"content"`
		RawContent string `json:"raw_content"`
	}
)

// DefaultEndpoint is the Tavily search URL.
const DefaultEndpoint = "https://api.tavily.com/search"

// rawSummaryLimit caps summaries derived from raw page content.
const rawSummaryLimit = 200

// maxErrorBody bounds how much of an error response is echoed back.
const maxErrorBody = 512

// New returns a Tavily search client.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("tavily api key is required")
	}
	c := &Client{
		key:      opts.APIKey,
		endpoint: opts.Endpoint,
		http:     opts.HTTPClient,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 20 * time.Second}
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// Search queries Tavily and returns at most maxResults records.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]tools.Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, tools.ErrEmptyQuery
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(searchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("tavily: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", tools.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("tavily: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %w", tools.ErrUnavailable, err)
		}
		return nil, err
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("%w for query %q", tools.ErrNoResults, query)
	}
	recs := make([]tools.Record, 0, len(out.Results))
	for _, r := range out.Results {
		if maxResults > 0 && len(recs) == maxResults {
			break
		}
		recs = append(recs, tools.Record{Title: r.Title, URL: r.URL, Summary: summarize(r)})
	}
	return recs, nil
}

func summarize(r result) string {
	if r.Content != "" {
		return r.Content
	}
	raw := []rune(r.RawContent)
	if len(raw) > rawSummaryLimit {
		raw = raw[:rawSummaryLimit]
	}
	return string(raw)
}
