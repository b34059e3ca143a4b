package types

// WorkerStatus tracks how productive an exploration thread is.
type WorkerStatus string

const (
	WorkerActive     WorkerStatus = "ACTIVE"
	WorkerProductive WorkerStatus = "PRODUCTIVE"
	WorkerDeclining  WorkerStatus = "DECLINING"
	WorkerExhausted  WorkerStatus = "EXHAUSTED"
	WorkerDeadEnd    WorkerStatus = "DEAD_END"
)

// Runnable reports whether a worker in this status should receive an
// iteration in the next fan-out round.
func (s WorkerStatus) Runnable() bool {
	switch s {
	case WorkerActive, WorkerProductive, WorkerDeclining:
		return true
	}
	return false
}

// QueryStats accumulates per-query performance used by the adaptive planner.
type QueryStats struct {
	Runs        int            `json:"runs"`
	Results     int            `json:"results"`
	NewEntities int            `json:"new_entities"`
	ByEngine    map[string]int `json:"by_engine,omitempty"`
}

// DomainStats accumulates per-domain link yield for adaptive re-scoring.
type DomainStats struct {
	LinksAdded    int `json:"links_added"`
	EntitiesFound int `json:"entities_found"`
}

// WorkerState is one running exploration thread. Workers receive value
// copies; only the orchestrator mutates the authoritative map entry.
type WorkerState struct {
	ID         string       `json:"id"`
	ResearchID string       `json:"research_id"`
	Strategy   string       `json:"strategy"`
	Queries    []string     `json:"queries"`
	Status     WorkerStatus `json:"status"`

	PagesFetched  int `json:"pages_fetched"`
	EntitiesFound int `json:"entities_found"`
	NewEntities   int `json:"new_entities"`
	PageBudget    int `json:"page_budget"`

	// PersonalQueue is the FIFO of URLs scheduled for this worker, bounded
	// by MaxQueueSize at the link-add step.
	PersonalQueue   []string        `json:"personal_queue"`
	ExploredDomains map[string]bool `json:"explored_domains"`

	QueryHistory        []string                `json:"query_history"`
	QueryPerformance    map[string]*QueryStats  `json:"query_performance"`
	SearchEngineHistory []string                `json:"search_engine_history"`
	LinkPerformance     map[string]*DomainStats `json:"link_performance"`

	// LowNoveltyStreak counts consecutive iterations below the kill
	// threshold; the planner uses it together with an empty queue.
	LowNoveltyStreak int `json:"low_novelty_streak"`
}

// NewWorkerState builds an ACTIVE worker from a planner spec.
func NewWorkerState(researchID string, spec WorkerSpec) *WorkerState {
	return &WorkerState{
		ID:               spec.WorkerID,
		ResearchID:       researchID,
		Strategy:         spec.Strategy,
		Queries:          append([]string{}, spec.ExampleQueries...),
		Status:           WorkerActive,
		PageBudget:       spec.PageBudget,
		PersonalQueue:    []string{},
		ExploredDomains:  map[string]bool{},
		QueryPerformance: map[string]*QueryStats{},
		LinkPerformance:  map[string]*DomainStats{},
	}
}

// Clone returns a deep copy safe to hand to a concurrently running
// iteration.
func (w *WorkerState) Clone() *WorkerState {
	c := *w
	c.Queries = append([]string{}, w.Queries...)
	c.PersonalQueue = append([]string{}, w.PersonalQueue...)
	c.QueryHistory = append([]string{}, w.QueryHistory...)
	c.SearchEngineHistory = append([]string{}, w.SearchEngineHistory...)
	c.ExploredDomains = make(map[string]bool, len(w.ExploredDomains))
	for k, v := range w.ExploredDomains {
		c.ExploredDomains[k] = v
	}
	c.QueryPerformance = make(map[string]*QueryStats, len(w.QueryPerformance))
	for k, v := range w.QueryPerformance {
		qs := *v
		if v.ByEngine != nil {
			qs.ByEngine = make(map[string]int, len(v.ByEngine))
			for e, n := range v.ByEngine {
				qs.ByEngine[e] = n
			}
		}
		c.QueryPerformance[k] = &qs
	}
	c.LinkPerformance = make(map[string]*DomainStats, len(w.LinkPerformance))
	for k, v := range w.LinkPerformance {
		ds := *v
		c.LinkPerformance[k] = &ds
	}
	return &c
}

// QueryPool returns the free-text queries to search this iteration,
// falling back to the strategy label when none are configured.
func (w *WorkerState) QueryPool() []string {
	if len(w.Queries) > 0 {
		return w.Queries
	}
	if w.Strategy != "" {
		return []string{w.Strategy}
	}
	return nil
}

// WorkerResult is the delta one iteration returns to the orchestrator.
// The iteration never mutates shared state directly.
type WorkerResult struct {
	WorkerID      string       `json:"worker_id"`
	PagesFetched  int          `json:"pages_fetched"`
	EntitiesFound int          `json:"entities_found"`
	NewEntities   int          `json:"new_entities"`
	NoveltyRate   float64      `json:"novelty_rate"`
	Status        WorkerStatus `json:"status"`

	ExtractedData   []ExtractedEntity `json:"extracted_data"`
	DiscoveredLinks []string          `json:"discovered_links"`
	ConsumedURLs    []string          `json:"consumed_urls"`
	Cost            float64           `json:"cost"`

	EngineUsed       string                 `json:"engine_used"`
	QueryStatsDelta  map[string]*QueryStats `json:"query_stats_delta,omitempty"`
	DomainStatsDelta map[string]DomainStats `json:"domain_stats_delta,omitempty"`
	NewDomains       []string               `json:"new_domains,omitempty"`
	HighValueURLs    []string               `json:"high_value_urls,omitempty"`
}

// ExtractedEntity is one raw observation from a fetched page, before it is
// merged into the knowledge base.
type ExtractedEntity struct {
	CanonicalName string            `json:"canonical_name"`
	Aliases       []string          `json:"aliases"`
	Attributes    map[string]string `json:"attributes"`
	Evidence      []string          `json:"evidence"`
	SourceURL     string            `json:"source_url"`
	Timestamp     string            `json:"timestamp"`
}
