// Package cache provides a read-through result cache for the search
// capability backed by dgraph-io/ristretto.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"goa.design/relay/runtime/relay/tools"
)

// Searcher caches successful results of the wrapped searcher. Failures are
// never cached.
type Searcher struct {
	next tools.Searcher
	c    *ristretto.Cache[string, []tools.Record]
	ttl  time.Duration
}

// DefaultTTL bounds how long search results are reused.
const DefaultTTL = 10 * time.Minute

// New wraps next with a cache holding at most maxCostBytes of result text.
func New(next tools.Searcher, maxCostBytes int64, ttl time.Duration) (*Searcher, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = 8 << 20
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []tools.Record]{
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Searcher{next: next, c: c, ttl: ttl}, nil
}

// Search implements tools.Searcher.
func (s *Searcher) Search(ctx context.Context, query string, maxResults int) ([]tools.Record, error) {
	key := cacheKey(query, maxResults)
	if recs, ok := s.c.Get(key); ok {
		return clone(recs), nil
	}
	recs, err := s.next.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	s.c.SetWithTTL(key, clone(recs), cost(recs), s.ttl)
	return recs, nil
}

// Wait blocks until pending writes are visible to readers.
func (s *Searcher) Wait() { s.c.Wait() }

// Close releases the cache.
func (s *Searcher) Close() { s.c.Close() }

func cacheKey(query string, n int) string {
	return strconv.Itoa(n) + "|" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func cost(recs []tools.Record) int64 {
	var n int64 = 1
	for _, r := range recs {
		n += int64(len(r.Title) + len(r.URL) + len(r.Summary))
	}
	return n
}

func clone(recs []tools.Record) []tools.Record {
	return append([]tools.Record(nil), recs...)
}
