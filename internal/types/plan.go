package types

// Constraints split the parsed query into hard requirements and softer
// preferences. Hard constraints gate verification; the rest steer search.
type Constraints struct {
	Hard       []string `json:"hard"`
	Soft       []string `json:"soft"`
	Geographic []string `json:"geographic"`
	Semantic   []string `json:"semantic"`
}

// QueryAnalysis is the planner's parse of the research topic.
type QueryAnalysis struct {
	Target      string      `json:"target"`
	Constraints Constraints `json:"constraints"`
	Modality    string      `json:"modality,omitempty"`
	Stage       string      `json:"stage,omitempty"`
	Indication  string      `json:"indication,omitempty"`
	Geography   string      `json:"geography,omitempty"`
}

// Synonyms holds the recall-maximizing expansions generated at plan time.
type Synonyms struct {
	Target       []string `json:"target"`
	Indication   []string `json:"indication"`
	CrossLingual []string `json:"cross_lingual"`
	Chemical     []string `json:"chemical"`
}

// WorkerSpec is a planner-proposed worker: a distinct source-class strategy
// with seed queries and a per-iteration page budget.
type WorkerSpec struct {
	WorkerID            string   `json:"worker_id"`
	Strategy            string   `json:"strategy"`
	StrategyDescription string   `json:"strategy_description"`
	ExampleQueries      []string `json:"example_queries"`
	PageBudget          int      `json:"page_budget"`
}

// Gap is a coverage hole the adaptive planner or verifier identified.
type Gap struct {
	Kind     string `json:"kind"`
	Priority string `json:"priority"`
	Evidence string `json:"evidence"`
}

// ResearchPlan is the planner output. Initial invocations populate the
// analysis, synonyms and initial workers; adaptive invocations add the
// spawn/kill/update decision fields.
type ResearchPlan struct {
	QueryAnalysis    QueryAnalysis `json:"query_analysis"`
	Synonyms         Synonyms      `json:"synonyms"`
	InitialWorkers   []WorkerSpec  `json:"initial_workers"`
	BudgetReservePct float64       `json:"budget_reserve_pct"`
	Reasoning        string        `json:"reasoning"`

	SpawnWorkers   []WorkerSpec        `json:"spawn_workers,omitempty"`
	WorkersToKill  []string            `json:"workers_to_kill,omitempty"`
	UpdatedQueries map[string][]string `json:"updated_queries,omitempty"`
	Gaps           []Gap               `json:"gaps,omitempty"`
}

// VerificationResult is the verifier's verdict on one entity.
type VerificationResult struct {
	CanonicalName   string             `json:"canonical_name"`
	Status          VerificationStatus `json:"status"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	MissingFields   []string           `json:"missing_fields"`
	Confidence      float64            `json:"confidence"`
	Explanation     string             `json:"explanation"`
	Cost            float64            `json:"-"`
}
