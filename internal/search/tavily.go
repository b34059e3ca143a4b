package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"prospector/internal/llm"
	"prospector/internal/logging"
	"prospector/internal/types"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// TavilyClient calls the Tavily Search API. Queries run in parallel,
// one request each; a failed query is logged and skipped rather than
// failing the batch.
type TavilyClient struct {
	apiKey            string
	endpoint          string
	client            *http.Client
	includeRawContent bool
}

// NewTavilyClient creates a Tavily search client. Raw content is
// requested by default so fetch can sometimes be skipped entirely.
func NewTavilyClient(apiKey string, timeout time.Duration) (*TavilyClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("tavily api key is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TavilyClient{
		apiKey:            apiKey,
		endpoint:          tavilyEndpoint,
		client:            &http.Client{Timeout: timeout},
		includeRawContent: true,
	}, nil
}

// Name implements Searcher.
func (c *TavilyClient) Name() string { return EngineTavily }

type tavilySearchRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilySearchResponse struct {
	Results []struct {
		Title      string `json:"title"`
		URL        string `json:"url"`
		Content    string `json:"content"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
}

// Search implements Searcher with one parallel request per query.
func (c *TavilyClient) Search(ctx context.Context, queries []string, maxResults int) ([]types.SearchResult, float64, error) {
	timer := logging.StartTimer(logging.CategorySearch, "tavily.Search")
	defer timer.Stop()

	if len(queries) == 0 {
		return nil, 0, nil
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	perQuery := make([][]types.SearchResult, len(queries))
	var mu sync.Mutex
	requests := 0

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			results, err := c.searchOne(gctx, q, maxResults)
			if err != nil {
				logging.Search("tavily query failed, skipping %q: %v", q, err)
				return nil
			}
			perQuery[i] = results
			mu.Lock()
			requests++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var out []types.SearchResult
	for _, results := range perQuery {
		out = append(out, results...)
	}
	cost := llm.SearchCost(EngineTavily, requests)
	logging.Search("tavily: %d queries -> %d results (cost $%.5f)", len(queries), len(out), cost)
	return out, cost, nil
}

func (c *TavilyClient) searchOne(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	body, err := json.Marshal(tavilySearchRequest{
		Query:             query,
		MaxResults:        maxResults,
		IncludeRawContent: c.includeRawContent,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tavily returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed tavilySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("tavily decode: %w", err)
	}

	var out []types.SearchResult
	for _, r := range parsed.Results {
		if !usableURL(r.URL) {
			continue
		}
		out = append(out, types.SearchResult{
			Title:        r.Title,
			URL:          r.URL,
			Snippet:      r.Content,
			SourceEngine: EngineTavily,
			Query:        query,
			RawContent:   r.RawContent,
		})
	}
	return out, nil
}
