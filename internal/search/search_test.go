package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newPerplexity(t *testing.T, handler http.HandlerFunc) *PerplexityClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewPerplexityClient("test-key", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	c.endpoint = srv.URL
	return c
}

func newTavily(t *testing.T, handler http.HandlerFunc) *TavilyClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewTavilyClient("test-key", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	c.endpoint = srv.URL
	return c
}

func TestPerplexityBatchedRequest(t *testing.T) {
	var calls int32
	c := newPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req perplexitySearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Query) != 2 {
			t.Errorf("query batch size = %d, want 2", len(req.Query))
		}
		if req.MaxResults != 5 {
			t.Errorf("max_results = %d, want 5", req.MaxResults)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": [][]map[string]string{
				{{"title": "A", "url": "https://a.example", "snippet": "about A"}},
				{{"title": "B", "url": "https://b.example", "snippet": "about B"},
					{"title": "bad", "url": "", "snippet": "no url"}},
			},
		})
	})

	results, cost, err := c.Search(context.Background(), []string{"q1", "q2"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("API calls = %d, want 1 for a batch", calls)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (empty URL dropped)", len(results))
	}
	for _, r := range results {
		if r.SourceEngine != EnginePerplexity {
			t.Errorf("source = %q", r.SourceEngine)
		}
	}
	// Nested batches are positional: batch i belongs to queries[i].
	if results[0].Query != "q1" {
		t.Errorf("results[0].Query = %q, want q1", results[0].Query)
	}
	if results[1].Query != "q2" {
		t.Errorf("results[1].Query = %q, want q2", results[1].Query)
	}
	if cost <= 0 {
		t.Errorf("cost = %v, want > 0", cost)
	}
}

func TestPerplexityCapsMaxResults(t *testing.T) {
	c := newPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		var req perplexitySearchRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.MaxResults != 20 {
			t.Errorf("max_results = %d, want capped at 20", req.MaxResults)
		}
		w.Write([]byte(`{"results": []}`))
	})
	if _, _, err := c.Search(context.Background(), []string{"q"}, 50); err != nil {
		t.Fatal(err)
	}
}

func TestPerplexityFlatResponse(t *testing.T) {
	c := newPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [{"title":"A","url":"https://a.example","snippet":"s"}]}`))
	})
	results, _, err := c.Search(context.Background(), []string{"only"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].URL != "https://a.example" {
		t.Errorf("results = %+v", results)
	}
	if results[0].Query != "only" {
		t.Errorf("single-query flat result Query = %q, want %q", results[0].Query, "only")
	}
}

func TestPerplexityFlatMultiQueryUnattributed(t *testing.T) {
	c := newPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [{"title":"A","url":"https://a.example","snippet":"s"}]}`))
	})
	results, _, err := c.Search(context.Background(), []string{"q1", "q2"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	// A flat list with several queries cannot be attributed; guessing
	// would credit the wrong query.
	if len(results) != 1 || results[0].Query != "" {
		t.Errorf("results = %+v, want one result with empty Query", results)
	}
}

func TestPerplexityErrorStatus(t *testing.T) {
	c := newPerplexity(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	if _, _, err := c.Search(context.Background(), []string{"q"}, 5); err == nil {
		t.Fatal("want error on non-200 status")
	}
}

func TestTavilyParallelPerQuery(t *testing.T) {
	var calls int32
	c := newTavily(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req tavilySearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if !req.IncludeRawContent {
			t.Error("include_raw_content not set")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"title": req.Query, "url": "https://" + req.Query + ".example",
					"content": "snippet", "raw_content": "full page text"},
			},
		})
	})

	results, cost, err := c.Search(context.Background(), []string{"q1", "q2", "q3"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("API calls = %d, want one per query", calls)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].RawContent == "" {
		t.Error("raw content not propagated")
	}
	// The handler echoes the query as the title, so each result must
	// carry its own query.
	for _, r := range results {
		if r.Query != r.Title {
			t.Errorf("result for %q attributed to query %q", r.Title, r.Query)
		}
	}
	if cost <= 0 {
		t.Errorf("cost = %v, want > 0", cost)
	}
}

func TestTavilyFailedQuerySkipped(t *testing.T) {
	var calls int32
	c := newTavily(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"results": [{"title":"ok","url":"https://ok.example","content":"s"}]}`))
	})

	results, _, err := c.Search(context.Background(), []string{"bad", "good"}, 5)
	if err != nil {
		t.Fatalf("batch must not fail on one bad query: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want the surviving query's 1", len(results))
	}
}

func TestPickerCoversBothEngines(t *testing.T) {
	a := &PerplexityClient{apiKey: "k"}
	b := &TavilyClient{apiKey: "k"}
	p := NewPicker(42, a, b)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[p.Pick().Name()] = true
	}
	if !seen[EnginePerplexity] || !seen[EngineTavily] {
		t.Errorf("picker never chose one engine: %v", seen)
	}
}

func TestResultsPerQuery(t *testing.T) {
	cases := []struct {
		budget, queries, want int
	}{
		{20, 4, 5},
		{20, 10, 3},
		{5, 0, 5},
		{2, 1, 3},
	}
	for _, tc := range cases {
		if got := ResultsPerQuery(tc.budget, tc.queries); got != tc.want {
			t.Errorf("ResultsPerQuery(%d, %d) = %d, want %d", tc.budget, tc.queries, got, tc.want)
		}
	}
}
