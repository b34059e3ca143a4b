// Package scoring rates discovered links for queue prioritization.
// Scoring only runs under queue pressure; below the pressure threshold
// links enter the personal queue in discovery order unscored.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"prospector/internal/llm"
	"prospector/internal/logging"
	"prospector/internal/types"
)

const (
	// DefaultBatchSize is how many links share one scoring call.
	DefaultBatchSize = 8

	// DefaultConcurrency bounds in-flight scoring calls.
	DefaultConcurrency = 3

	// NeutralScore is assigned when scoring fails; the link stays
	// eligible without jumping the queue.
	NeutralScore = 5

	maxContextChars = 500
)

const scoringPrompt = `You are evaluating whether discovered web links are relevant to a research query.

Research Query: %s

Rate each link's relevance on a scale of 0-10:
- 0-2: Completely irrelevant (e.g., social media, ads, navigation)
- 3-4: Tangentially related (e.g., general background when looking for specific assets)
- 5-6: Somewhat relevant (e.g., related area but different target)
- 7-8: Highly relevant (e.g., same target or indication, different asset)
- 9-10: Extremely relevant (e.g., directly discusses assets matching the query)

Links:
%s

Output a JSON array, one element per link in the same order:
[{"url": "...", "score": 8, "reasoning": "short justification"}]`

// Scorer scores candidate links with an LLM. Scores are cached by URL
// for the lifetime of the scorer, so re-discovered links cost nothing.
type Scorer struct {
	llm       llm.Client
	model     string
	batchSize int
	sem       chan struct{}

	mu    sync.Mutex
	cache map[string]cachedScore
}

type cachedScore struct {
	score     int
	reasoning string
}

// Options tunes a Scorer.
type Options struct {
	Model       string
	BatchSize   int
	Concurrency int
}

// New builds a Scorer.
func New(llmClient llm.Client, opts Options) *Scorer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Scorer{
		llm:       llmClient,
		model:     opts.Model,
		batchSize: opts.BatchSize,
		sem:       make(chan struct{}, opts.Concurrency),
		cache:     map[string]cachedScore{},
	}
}

// ScoreLinks scores all candidates against the research query, serving
// repeats from cache. Input order is preserved. A failed batch falls
// back to the neutral score rather than erroring.
func (s *Scorer) ScoreLinks(ctx context.Context, links []types.CandidateLink, researchQuery string) []types.CandidateLink {
	timer := logging.StartTimer(logging.CategoryScorer, "ScoreLinks")
	defer timer.StopWithInfo(fmt.Sprintf("%d links", len(links)))

	out := make([]types.CandidateLink, len(links))
	var toScore []int
	for i, link := range links {
		out[i] = link
		s.mu.Lock()
		hit, ok := s.cache[link.URL]
		s.mu.Unlock()
		if ok {
			out[i].Score = hit.score
			out[i].Reasoning = hit.reasoning
			out[i].Cached = true
			continue
		}
		toScore = append(toScore, i)
	}

	var wg sync.WaitGroup
	for start := 0; start < len(toScore); start += s.batchSize {
		end := start + s.batchSize
		if end > len(toScore) {
			end = len(toScore)
		}
		batch := toScore[start:end]

		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-ctx.Done():
				for _, idx := range batch {
					out[idx].Score = NeutralScore
					out[idx].Reasoning = "Scoring error: " + ctx.Err().Error()
				}
				return
			}
			s.scoreBatch(ctx, out, batch, researchQuery)
		}()
	}
	wg.Wait()

	cached := len(links) - len(toScore)
	logging.Scorer("scored %d links (%d cached)", len(links), cached)
	return out
}

type scoredLink struct {
	URL       string `json:"url"`
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

func (s *Scorer) scoreBatch(ctx context.Context, out []types.CandidateLink, batch []int, researchQuery string) {
	var b strings.Builder
	for n, idx := range batch {
		link := out[idx]
		context := link.Context
		if len(context) > maxContextChars {
			context = context[:maxContextChars]
		}
		fmt.Fprintf(&b, "%d. URL: %s\n   Anchor Text: %s\n   Surrounding Context: %s\n",
			n+1, link.URL, orNA(link.AnchorText), orNA(context))
	}
	prompt := fmt.Sprintf(scoringPrompt, researchQuery, b.String())

	response, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		logging.Scorer("batch scoring failed: %v", err)
		for _, idx := range batch {
			out[idx].Score = NeutralScore
			out[idx].Reasoning = "Scoring error: " + err.Error()
		}
		return
	}

	var scored []scoredLink
	if uerr := json.Unmarshal([]byte(llm.CleanJSONResponse(response)), &scored); uerr != nil {
		logging.Scorer("batch scoring parse failed: %v", uerr)
		for _, idx := range batch {
			out[idx].Score = NeutralScore
			out[idx].Reasoning = "Scoring error: " + uerr.Error()
		}
		return
	}

	byURL := make(map[string]scoredLink, len(scored))
	for _, sl := range scored {
		byURL[sl.URL] = sl
	}

	cost := llm.EstimateCallCost(s.model, prompt, response)
	perLink := cost / float64(len(batch))
	for n, idx := range batch {
		sl, ok := byURL[out[idx].URL]
		if !ok && n < len(scored) {
			// Positional fallback when the model rewrote URLs.
			sl, ok = scored[n], true
		}
		if !ok {
			out[idx].Score = NeutralScore
			out[idx].Reasoning = "Scoring error: missing from response"
			continue
		}
		out[idx].Score = clampScore(sl.Score)
		out[idx].Reasoning = sl.Reasoning
		out[idx].Cost = perLink

		s.mu.Lock()
		s.cache[out[idx].URL] = cachedScore{score: out[idx].Score, reasoning: sl.Reasoning}
		s.mu.Unlock()
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
