// Package worker runs one exploration iteration for one worker: search,
// queue composition, globally-deduplicated fetching, entity accounting,
// and link triage. An iteration receives a cloned WorkerState and
// returns a WorkerResult delta; it never mutates shared state.
package worker

import (
	"context"
	"fmt"
	"sort"

	"prospector/internal/dedup"
	"prospector/internal/fetch"
	"prospector/internal/linkfilter"
	"prospector/internal/logging"
	"prospector/internal/scoring"
	"prospector/internal/search"
	"prospector/internal/store"
	"prospector/internal/types"
)

// productiveNovelty splits PRODUCTIVE from DECLINING at end of
// iteration.
const productiveNovelty = 0.1

// highValueEntityCount marks a page URL worth feeding back to the
// planner as a lead.
const highValueEntityCount = 2

// highValueLinkScore marks a scored link as a planner lead.
const highValueLinkScore = 8

// Fetcher is the page-level port an iteration drives.
type Fetcher interface {
	Batch(ctx context.Context, targets []fetch.Target, topic string) []types.PageResult
}

// LinkScorer rates candidate links under queue pressure.
type LinkScorer interface {
	ScoreLinks(ctx context.Context, links []types.CandidateLink, researchQuery string) []types.CandidateLink
}

// Ports bundles the shared collaborators every iteration uses.
type Ports struct {
	Engines *search.Picker
	Fetcher Fetcher
	Scorer  LinkScorer
	Dedup   dedup.Store
	Store   store.SessionStore
	Filter  *linkfilter.Filter

	// MaxSearchResults is the total per-engine result budget split
	// across the query pool.
	MaxSearchResults int
}

// Runner executes worker iterations.
type Runner struct {
	ports Ports
}

// NewRunner builds a Runner over the shared ports.
func NewRunner(ports Ports) *Runner {
	if ports.MaxSearchResults <= 0 {
		ports.MaxSearchResults = 5
	}
	return &Runner{ports: ports}
}

// RunIteration performs one full iteration for the given worker clone.
// topic is the session's research topic, used for extraction and link
// scoring context.
func (r *Runner) RunIteration(ctx context.Context, w *types.WorkerState, topic string) (*types.WorkerResult, error) {
	timer := logging.StartTimer(logging.CategoryWorker, "RunIteration")
	defer timer.StopWithInfo(w.ID)

	result := &types.WorkerResult{
		WorkerID:         w.ID,
		QueryStatsDelta:  map[string]*types.QueryStats{},
		DomainStatsDelta: map[string]types.DomainStats{},
	}

	// Query pool and per-query result budget.
	queries := w.QueryPool()
	if len(queries) == 0 {
		result.Status = types.WorkerExhausted
		return result, nil
	}
	perQuery := search.ResultsPerQuery(r.ports.MaxSearchResults, len(queries))

	// Engine pick. A search failure degrades to an empty result set.
	engine := r.ports.Engines.Pick()
	if engine == nil {
		return nil, fmt.Errorf("worker %s: no search engine configured", w.ID)
	}
	result.EngineUsed = engine.Name()

	searchResults, searchCost, err := engine.Search(ctx, queries, perQuery)
	if err != nil {
		logging.Worker("%s: search via %s failed, continuing with empty results: %v", w.ID, engine.Name(), err)
		searchResults = nil
	}
	result.Cost += searchCost

	attributed := map[string]int{}
	for _, sr := range searchResults {
		if sr.Query != "" {
			attributed[sr.Query]++
		}
	}
	for _, q := range queries {
		qs := &types.QueryStats{
			Runs:     1,
			Results:  attributed[q],
			ByEngine: map[string]int{engine.Name(): 1},
		}
		if len(attributed) == 0 {
			// Engine could not attribute results to queries; fall back
			// to an even split.
			qs.Results = len(searchResults) / len(queries)
		}
		result.QueryStatsDelta[q] = qs
	}

	// Queue composition: search URLs first, then personal-queue entries
	// preferring domains this worker has not explored yet.
	rawContent := map[string]string{}
	var urlQueue []string
	seen := map[string]bool{}
	for _, sr := range searchResults {
		if seen[sr.URL] {
			continue
		}
		seen[sr.URL] = true
		urlQueue = append(urlQueue, sr.URL)
		if sr.RawContent != "" {
			rawContent[sr.URL] = sr.RawContent
		}
	}

	budget := w.PageBudget
	if budget <= 0 {
		budget = 50
	}
	remainingQueue := append([]string{}, w.PersonalQueue...)
	for _, preferUnexplored := range []bool{true, false} {
		if len(urlQueue) >= budget {
			break
		}
		kept := remainingQueue[:0]
		for _, u := range remainingQueue {
			unexplored := !w.ExploredDomains[linkfilter.Domain(u)]
			if len(urlQueue) < budget && unexplored == preferUnexplored && !seen[u] {
				seen[u] = true
				urlQueue = append(urlQueue, u)
				result.ConsumedURLs = append(result.ConsumedURLs, u)
			} else {
				kept = append(kept, u)
			}
		}
		remainingQueue = kept
	}
	if len(urlQueue) > budget {
		urlQueue = urlQueue[:budget]
	}

	// Global-visit gating: only the caller whose mark wins fetches the
	// URL.
	var gated []string
	for _, u := range urlQueue {
		novel, derr := r.ports.Dedup.MarkURLVisited(ctx, u, w.ResearchID)
		if derr != nil {
			logging.Worker("%s: dedup check failed for %s: %v", w.ID, u, derr)
			continue
		}
		if !novel {
			continue
		}
		gated = append(gated, u)
		domain := linkfilter.Domain(u)
		if domain != "" && !w.ExploredDomains[domain] {
			w.ExploredDomains[domain] = true
			result.NewDomains = append(result.NewDomains, domain)
		}
	}

	// Batch fetch and extract.
	targets := make([]fetch.Target, len(gated))
	for i, u := range gated {
		targets[i] = fetch.Target{URL: u, RawContent: rawContent[u]}
	}
	pages := r.ports.Fetcher.Batch(ctx, targets, topic)

	var outlinks []string
	outlinkSeen := map[string]bool{}
	for _, page := range pages {
		result.PagesFetched++
		if page.Failed {
			logging.WorkerDebug("%s: page failed, skipping %s: %s", w.ID, page.URL, page.Err)
			continue
		}
		result.Cost += page.Cost

		sourceDomain := linkfilter.Domain(page.URL)
		for _, en := range page.Entities {
			result.EntitiesFound++
			result.ExtractedData = append(result.ExtractedData, en)

			novel, derr := r.ports.Dedup.MarkEntityKnown(ctx, en.CanonicalName, en.Attributes)
			if derr != nil {
				logging.Worker("%s: entity dedup failed for %s: %v", w.ID, en.CanonicalName, derr)
			} else if novel {
				result.NewEntities++
			}

			ds := result.DomainStatsDelta[sourceDomain]
			ds.EntitiesFound++
			result.DomainStatsDelta[sourceDomain] = ds
		}
		if len(page.Entities) >= highValueEntityCount {
			result.HighValueURLs = append(result.HighValueURLs, page.URL)
		}

		for _, link := range page.Outlinks {
			if !outlinkSeen[link] {
				outlinkSeen[link] = true
				outlinks = append(outlinks, link)
			}
		}
	}

	// Link handling against the post-consumption queue size.
	r.handleLinks(ctx, w, result, outlinks, len(remainingQueue), topic)

	// Metrics and status.
	result.NoveltyRate = float64(result.NewEntities) / float64(max(result.PagesFetched, 1))
	if result.NoveltyRate > productiveNovelty {
		result.Status = types.WorkerProductive
	} else {
		result.Status = types.WorkerDeclining
	}
	for _, qs := range result.QueryStatsDelta {
		qs.NewEntities = result.NewEntities / len(queries)
	}

	// Mid-iteration checkpoint for external observers. Last-writer-wins
	// with the orchestrator's end-of-iteration write.
	if r.ports.Store != nil {
		if serr := r.ports.Store.UpdateWorkerMetrics(ctx, w.ResearchID, w.ID,
			w.PagesFetched+result.PagesFetched, w.EntitiesFound+result.EntitiesFound); serr != nil {
			logging.Worker("%s: metrics checkpoint failed: %v", w.ID, serr)
		}
	}

	logging.Worker("%s: %d pages, %d entities (%d new), novelty %.3f, %d links queued",
		w.ID, result.PagesFetched, result.EntitiesFound, result.NewEntities,
		result.NoveltyRate, len(result.DiscoveredLinks))
	return result, nil
}

// handleLinks filters outlinks, optionally scores them under queue
// pressure, and appends the accepted ones to the result.
func (r *Runner) handleLinks(ctx context.Context, w *types.WorkerState, result *types.WorkerResult, outlinks []string, queueSize int, topic string) {
	capacity := linkfilter.MaxQueueSize - queueSize
	if capacity <= 0 || len(outlinks) == 0 {
		return
	}

	var candidates []types.CandidateLink
	for _, link := range outlinks {
		if r.ports.Filter.ShouldReject(link) {
			continue
		}
		visited, derr := r.ports.Dedup.IsURLVisited(ctx, link, w.ResearchID)
		if derr != nil {
			logging.WorkerDebug("%s: visit check failed for %s: %v", w.ID, link, derr)
			continue
		}
		if visited {
			continue
		}
		candidates = append(candidates, types.CandidateLink{URL: link})
	}
	if len(candidates) == 0 {
		return
	}

	pressure := linkfilter.QueuePressure(queueSize)
	if pressure > 0.5 && r.ports.Scorer != nil {
		scored := r.ports.Scorer.ScoreLinks(ctx, candidates, topic)
		for _, link := range scored {
			result.Cost += link.Cost
			if link.Score >= highValueLinkScore {
				result.HighValueURLs = append(result.HighValueURLs, link.URL)
			}
		}
		scored = scoring.AdjustByDomainYield(scored, mergedLinkPerf(w, result))
		sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
		candidates = scored
	}
	if len(candidates) > capacity {
		candidates = candidates[:capacity]
	}

	for _, link := range candidates {
		domain := linkfilter.Domain(link.URL)
		ds := result.DomainStatsDelta[domain]
		ds.LinksAdded++
		result.DomainStatsDelta[domain] = ds
		result.DiscoveredLinks = append(result.DiscoveredLinks, link.URL)
	}
}

// mergedLinkPerf overlays this iteration's domain deltas onto the
// worker's historical link performance for yield adjustment.
func mergedLinkPerf(w *types.WorkerState, result *types.WorkerResult) map[string]*types.DomainStats {
	merged := make(map[string]*types.DomainStats, len(w.LinkPerformance)+len(result.DomainStatsDelta))
	for domain, stats := range w.LinkPerformance {
		s := *stats
		merged[domain] = &s
	}
	for domain, delta := range result.DomainStatsDelta {
		if existing, ok := merged[domain]; ok {
			existing.LinksAdded += delta.LinksAdded
			existing.EntitiesFound += delta.EntitiesFound
		} else {
			d := delta
			merged[domain] = &d
		}
	}
	return merged
}
