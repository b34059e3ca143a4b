// Package planner turns a research topic into worker strategies and
// adapts the worker fleet between iterations. Planning failures never
// stop a session: initial planning degrades to a single broad worker
// and adaptive planning leaves the current plan untouched.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"prospector/internal/llm"
	"prospector/internal/logging"
	"prospector/internal/types"
)

// Fallback plan parameters used when the model response cannot be
// parsed.
const (
	fallbackStrategy   = "broad_fallback"
	fallbackPageBudget = 30
	fallbackReservePct = 0.5
)

// Planner drives initial and adaptive planning through an LLM.
type Planner struct {
	llm   llm.Client
	model string
}

// New builds a Planner.
func New(llmClient llm.Client, model string) *Planner {
	return &Planner{llm: llmClient, model: model}
}

const initialPlanningPrompt = `You are an entity discovery planner. Analyze the user's query and prepare for parallel web exploration to find matching entities in an unknown corpus.

**System Rationale:**
*   **Forced Diversity:** We spawn multiple workers with *non-overlapping* strategies to prevent "echo chambers" where everyone searches the same terms.
*   **Late Binding:** We generate synonyms *now* (Discovery Phase) to maximize recall, but verify constraints *later* (Verification Phase) to maximize precision.
*   **Echo Chambers:** If all workers use the same top-level synonyms, we waste budget on duplicate results. Divergent strategies (e.g., one checking conferences, one checking regional patents) yield higher novelty.

Query: %s

Perform the following analysis:

1. **Query Structure Analysis:** Parse the query into the target entity type; hard constraints (MUST match), soft constraints (preferred), geographic constraints, semantic constraints; and modality, development stage, indication, geography where specified.

2. **Comprehensive Synonym Generation:** Generate synonyms for all query components using domain knowledge and ontologies (ChEMBL, MeSH, UniProt, DrugBank): target names with abbreviations and gene symbols, indication names with clinical codes, cross-lingual variants when a geographic constraint is present, and chemical variants (salt forms, stereoisomers, prodrugs) for small molecules.

3. **Initial Worker Spawn Strategy:**
   - Simple query (single target, no geography): spawn 1 worker, reserve 70%% budget.
   - Geographic constraint present: spawn 2 workers (broad English + target-language), reserve 60%%.
   - Highly specific query (multiple constraints): spawn 2-3 workers with diverse strategies, reserve 50-60%%.
   For each worker, specify a unique non-overlapping strategy, query templates using actual synonyms, and a page budget (typically 40-50 pages per iteration).

Output as JSON matching this schema:
{
  "query_analysis": {
    "target": "string",
    "constraints": {"hard": [], "soft": [], "geographic": [], "semantic": []},
    "modality": "string or null",
    "stage": "string or null",
    "indication": "string or null",
    "geography": "string or null"
  },
  "synonyms": {"target": [], "indication": [], "cross_lingual": [], "chemical": []},
  "initial_workers": [
    {"worker_id": "worker_1", "strategy": "broad_english_search", "strategy_description": "...", "example_queries": ["..."], "page_budget": 50}
  ],
  "budget_reserve_pct": 60,
  "reasoning": "Brief explanation of why this initial strategy was chosen"
}

**Important guidelines:**
- Be comprehensive with synonyms - these are critical for discovery
- Ensure worker strategies do NOT overlap (forced diversity)
- Typical initial spawn: 1-3 workers (not more)
- Reserve 50-70%% budget for adaptive spawning during execution
- Query templates should use actual synonyms generated, not placeholders`

// InitialPlan produces the opening plan for a topic. A response that
// cannot be parsed yields the broad fallback plan instead of an error;
// the returned cost covers the call either way.
func (p *Planner) InitialPlan(ctx context.Context, topic string) (*types.ResearchPlan, float64, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "InitialPlan")
	defer timer.Stop()

	prompt := fmt.Sprintf(initialPlanningPrompt, topic)
	response, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		logging.Planner("initial planning call failed, using fallback: %v", err)
		return fallbackPlan(topic), 0, nil
	}
	cost := llm.EstimateCallCost(p.model, prompt, response)

	var plan types.ResearchPlan
	cleaned := llm.RecoverJSON(response)
	if uerr := json.Unmarshal([]byte(cleaned), &plan); uerr != nil || len(plan.InitialWorkers) == 0 {
		logging.Planner("initial plan unparseable, using fallback: %v", uerr)
		return fallbackPlan(topic), cost, nil
	}

	// The schema quotes the reserve in percent; normalize to a fraction.
	if plan.BudgetReservePct > 1 {
		plan.BudgetReservePct /= 100
	}
	for i := range plan.InitialWorkers {
		if plan.InitialWorkers[i].WorkerID == "" {
			plan.InitialWorkers[i].WorkerID = fmt.Sprintf("worker_%d", i+1)
		}
		if plan.InitialWorkers[i].PageBudget <= 0 {
			plan.InitialWorkers[i].PageBudget = 50
		}
	}
	logging.Planner("initial plan: %d workers, reserve %.0f%%", len(plan.InitialWorkers), plan.BudgetReservePct*100)
	return &plan, cost, nil
}

func fallbackPlan(topic string) *types.ResearchPlan {
	return &types.ResearchPlan{
		QueryAnalysis: types.QueryAnalysis{Target: "Unknown"},
		InitialWorkers: []types.WorkerSpec{{
			WorkerID:            "worker_1",
			Strategy:            fallbackStrategy,
			StrategyDescription: "Broad search due to planning failure",
			ExampleQueries:      []string{topic},
			PageBudget:          fallbackPageBudget,
		}},
		BudgetReservePct: fallbackReservePct,
		Reasoning:        "Fallback due to JSON parsing error in planning.",
	}
}
