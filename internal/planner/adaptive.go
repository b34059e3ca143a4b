package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"prospector/internal/llm"
	"prospector/internal/logging"
	"prospector/internal/types"
)

const adaptivePlanningPrompt = `You are steering a fleet of parallel discovery workers mid-run. Decide which workers to kill, which to spawn, and which queries to evolve.

**Decision principles:**
- Kill workers whose novelty has collapsed and whose queue is empty; their strategy is exhausted.
- Spawn workers only for concrete leads the fleet has surfaced (new code-name families, companies, regions, source classes), never duplicates of a live strategy.
- Evolve queries for workers that are productive but plateauing; fold in discovered code names and owners.
- Respect the budget reserve; do not spawn more workers than remaining budget supports.

**Current state (iteration %d):**
- Total entities discovered: %d
- Active workers: %d
- Fleet novelty: mean %.3f, stddev %.3f

**Worker metrics:**
%s

**Recent entities (last 10):**
%s

**Query constraints:**
%s

Output JSON only:
{
  "decisions": {
    "spawn_workers": [
      {"worker_id": "worker_N", "strategy": "...", "strategy_description": "...", "queries": ["..."], "page_budget": 50}
    ],
    "kill_workers": ["worker_id"],
    "update_queries": {"worker_id": ["new query 1", "new query 2"]}
  },
  "gaps": [{"kind": "coverage hole", "priority": "high", "evidence": ["why this gap exists"]}],
  "reasoning": "Brief explanation of the decisions"
}`

type workerMetrics struct {
	ID                  string                       `json:"id"`
	Strategy            string                       `json:"strategy"`
	Status              types.WorkerStatus           `json:"status"`
	PagesFetched        int                          `json:"pages_fetched"`
	EntitiesFound       int                          `json:"entities_found"`
	NewEntities         int                          `json:"new_entities"`
	NoveltyRate         float64                      `json:"novelty_rate"`
	QueryHistory        []string                     `json:"query_history"`
	QueryPerformance    map[string]*types.QueryStats `json:"query_performance"`
	UniqueDomains       int                          `json:"unique_domains"`
	SearchEngineHistory []string                     `json:"search_engine_history"`
	QueueLength         int                          `json:"queue_length"`
}

type recentEntity struct {
	Name     string   `json:"name"`
	Target   string   `json:"target"`
	Owner    string   `json:"owner"`
	Stage    string   `json:"stage"`
	Mentions int      `json:"mentions"`
	Aliases  []string `json:"aliases"`
}

type adaptiveResponse struct {
	Decisions struct {
		SpawnWorkers []struct {
			WorkerID            string   `json:"worker_id"`
			Strategy            string   `json:"strategy"`
			StrategyDescription string   `json:"strategy_description"`
			Queries             []string `json:"queries"`
			PageBudget          int      `json:"page_budget"`
		} `json:"spawn_workers"`
		KillWorkers   []string            `json:"kill_workers"`
		UpdateQueries map[string][]string `json:"update_queries"`
	} `json:"decisions"`
	Gaps []struct {
		Kind     string   `json:"kind"`
		Priority string   `json:"priority"`
		Evidence []string `json:"evidence"`
	} `json:"gaps"`
	Reasoning string `json:"reasoning"`
}

// AdaptivePlan reviews the fleet after an iteration and returns the
// plan with spawn/kill/query decisions applied. Any failure returns
// the current plan unchanged.
func (p *Planner) AdaptivePlan(ctx context.Context, state *types.ResearchState) (*types.ResearchPlan, float64) {
	timer := logging.StartTimer(logging.CategoryPlanner, "AdaptivePlan")
	defer timer.Stop()

	if state.Plan == nil {
		return nil, 0
	}

	prompt := p.buildAdaptivePrompt(state)
	response, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		logging.Planner("adaptive planning call failed, keeping plan: %v", err)
		return state.Plan, 0
	}
	cost := llm.EstimateCallCost(p.model, prompt, response)

	var parsed adaptiveResponse
	if uerr := json.Unmarshal([]byte(llm.RecoverJSON(response)), &parsed); uerr != nil {
		logging.Planner("adaptive plan unparseable, keeping plan: %v", uerr)
		return state.Plan, cost
	}

	updated := *state.Plan
	updated.SpawnWorkers = nil
	for i, spawn := range parsed.Decisions.SpawnWorkers {
		id := spawn.WorkerID
		if id == "" {
			id = fmt.Sprintf("worker_spawn_%d_%d", state.IterationCount, i+1)
		}
		budget := spawn.PageBudget
		if budget <= 0 {
			budget = 50
		}
		updated.SpawnWorkers = append(updated.SpawnWorkers, types.WorkerSpec{
			WorkerID:            id,
			Strategy:            spawn.Strategy,
			StrategyDescription: spawn.StrategyDescription,
			ExampleQueries:      spawn.Queries,
			PageBudget:          budget,
		})
	}
	updated.WorkersToKill = parsed.Decisions.KillWorkers
	updated.UpdatedQueries = parsed.Decisions.UpdateQueries
	updated.Gaps = nil
	for _, gap := range parsed.Gaps {
		updated.Gaps = append(updated.Gaps, types.Gap{
			Kind:     gap.Kind,
			Priority: gap.Priority,
			Evidence: joinEvidence(gap.Evidence),
		})
	}
	if parsed.Reasoning != "" {
		updated.Reasoning = parsed.Reasoning
	}

	logging.Planner("adaptive plan: spawn %d, kill %d, update %d query sets",
		len(updated.SpawnWorkers), len(updated.WorkersToKill), len(updated.UpdatedQueries))
	return &updated, cost
}

func (p *Planner) buildAdaptivePrompt(state *types.ResearchState) string {
	var metrics []workerMetrics
	var noveltyRates []float64
	active := 0
	for _, id := range sortedWorkerIDs(state) {
		w := state.Workers[id]
		novelty := float64(w.NewEntities) / float64(max(w.PagesFetched, 1))
		noveltyRates = append(noveltyRates, novelty)
		if w.Status.Runnable() {
			active++
		}
		metrics = append(metrics, workerMetrics{
			ID:                  w.ID,
			Strategy:            w.Strategy,
			Status:              w.Status,
			PagesFetched:        w.PagesFetched,
			EntitiesFound:       w.EntitiesFound,
			NewEntities:         w.NewEntities,
			NoveltyRate:         novelty,
			QueryHistory:        w.QueryHistory,
			QueryPerformance:    w.QueryPerformance,
			UniqueDomains:       len(w.ExploredDomains),
			SearchEngineHistory: w.SearchEngineHistory,
			QueueLength:         len(w.PersonalQueue),
		})
	}

	meanNovelty, _ := stats.Mean(noveltyRates)
	stddevNovelty, _ := stats.StandardDeviation(noveltyRates)

	var recent []recentEntity
	for _, name := range state.RecentEntities(10) {
		en := state.KnownEntities[name]
		if en == nil {
			continue
		}
		aliases := en.Aliases
		if len(aliases) > 5 {
			aliases = aliases[:5]
		}
		recent = append(recent, recentEntity{
			Name:     name,
			Target:   en.Attributes[types.AttrTarget],
			Owner:    en.Attributes[types.AttrOwner],
			Stage:    en.Attributes[types.AttrProductStage],
			Mentions: en.MentionCount,
			Aliases:  aliases,
		})
	}

	metricsJSON, _ := json.MarshalIndent(metrics, "", "  ")
	recentJSON, _ := json.MarshalIndent(recent, "", "  ")
	constraintsJSON, _ := json.MarshalIndent(state.Plan.QueryAnalysis, "", "  ")

	return fmt.Sprintf(adaptivePlanningPrompt,
		state.IterationCount,
		len(state.KnownEntities),
		active,
		meanNovelty,
		stddevNovelty,
		string(metricsJSON),
		string(recentJSON),
		string(constraintsJSON))
}

func sortedWorkerIDs(state *types.ResearchState) []string {
	ids := make([]string, 0, len(state.Workers))
	for id := range state.Workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func joinEvidence(parts []string) string {
	return strings.Join(parts, ", ")
}
