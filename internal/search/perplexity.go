package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"prospector/internal/llm"
	"prospector/internal/logging"
	"prospector/internal/types"
)

const perplexityEndpoint = "https://api.perplexity.ai/search"

// PerplexityClient calls the Perplexity Search API. A whole query batch
// goes out as one request and comes back as one result list per query.
type PerplexityClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewPerplexityClient creates a Perplexity search client.
func NewPerplexityClient(apiKey string, timeout time.Duration) (*PerplexityClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("perplexity api key is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PerplexityClient{
		apiKey:   apiKey,
		endpoint: perplexityEndpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Name implements Searcher.
func (c *PerplexityClient) Name() string { return EnginePerplexity }

type perplexitySearchRequest struct {
	Query      []string `json:"query"`
	MaxResults int      `json:"max_results"`
}

type perplexityResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Search implements Searcher with a single batched request. The API
// caps max_results at 20.
func (c *PerplexityClient) Search(ctx context.Context, queries []string, maxResults int) ([]types.SearchResult, float64, error) {
	timer := logging.StartTimer(logging.CategorySearch, "perplexity.Search")
	defer timer.Stop()

	if len(queries) == 0 {
		return nil, 0, nil
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if maxResults > 20 {
		maxResults = 20
	}

	body, err := json.Marshal(perplexitySearchRequest{Query: queries, MaxResults: maxResults})
	if err != nil {
		return nil, 0, fmt.Errorf("perplexity marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("perplexity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("perplexity search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, 0, fmt.Errorf("perplexity returned status %d: %s", resp.StatusCode, string(respBody))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("perplexity read: %w", err)
	}

	results := decodePerplexityResults(raw, queries)
	cost := llm.SearchCost(EnginePerplexity, 1)
	logging.Search("perplexity: %d queries -> %d results (cost $%.5f)", len(queries), len(results), cost)
	return results, cost, nil
}

// decodePerplexityResults handles both response shapes: a nested list
// per query for batched requests, a flat list for a single query. The
// nested lists are positional, so batch i belongs to queries[i].
func decodePerplexityResults(raw []byte, queries []string) []types.SearchResult {
	var out []types.SearchResult
	appendResult := func(r perplexityResult, query string) {
		if !usableURL(r.URL) {
			return
		}
		out = append(out, types.SearchResult{
			Title:        r.Title,
			URL:          r.URL,
			Snippet:      r.Snippet,
			SourceEngine: EnginePerplexity,
			Query:        query,
		})
	}

	var nested struct {
		Results [][]perplexityResult `json:"results"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested.Results) > 0 {
		for i, perQuery := range nested.Results {
			var query string
			if i < len(queries) {
				query = queries[i]
			}
			for _, r := range perQuery {
				appendResult(r, query)
			}
		}
		return out
	}

	var flat struct {
		Results []perplexityResult `json:"results"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil {
		// The flat shape carries no per-query grouping, so it is only
		// attributable when the batch had a single query.
		var query string
		if len(queries) == 1 {
			query = queries[0]
		}
		for _, r := range flat.Results {
			appendResult(r, query)
		}
	}
	return out
}
