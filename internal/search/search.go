// Package search wraps the external search engines behind one port.
// Perplexity answers a whole query batch in a single call; Tavily runs
// each query in parallel and can return raw page content alongside the
// snippet.
package search

import (
	"context"
	"math/rand"
	"strings"

	"prospector/internal/types"
)

// Engine names as recorded in worker history and audit events.
const (
	EnginePerplexity = "perplexity"
	EngineTavily     = "tavily"
)

// MinResultsPerQuery is the floor applied when a result budget is split
// across a query batch.
const MinResultsPerQuery = 3

// Searcher executes a query batch against one engine. maxResults caps
// results per query; the second return value is the request cost in USD.
type Searcher interface {
	Name() string
	Search(ctx context.Context, queries []string, maxResults int) ([]types.SearchResult, float64, error)
}

// Picker selects an engine for each worker iteration.
type Picker struct {
	engines []Searcher
	rng     *rand.Rand
}

// NewPicker builds a picker over the configured engines. With two
// engines each iteration is a coin flip, which keeps per-engine yield
// data flowing for the planner.
func NewPicker(seed int64, engines ...Searcher) *Picker {
	return &Picker{
		engines: engines,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Pick returns one engine uniformly at random. Returns nil when no
// engine is configured.
func (p *Picker) Pick() Searcher {
	if len(p.engines) == 0 {
		return nil
	}
	return p.engines[p.rng.Intn(len(p.engines))]
}

// Engines returns the configured engines.
func (p *Picker) Engines() []Searcher { return p.engines }

// ResultsPerQuery splits a total result budget across a query batch,
// never dropping below MinResultsPerQuery.
func ResultsPerQuery(totalBudget, queryCount int) int {
	if queryCount <= 0 {
		queryCount = 1
	}
	per := totalBudget / queryCount
	if per < MinResultsPerQuery {
		per = MinResultsPerQuery
	}
	return per
}

// usableURL drops results whose URL a fetcher cannot act on.
func usableURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
