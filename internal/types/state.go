package types

import (
	"fmt"
	"sort"
	"time"
)

// SessionStatus is the externally visible lifecycle of a research session.
type SessionStatus string

const (
	SessionInitialized         SessionStatus = "initialized"
	SessionRunning             SessionStatus = "running"
	SessionVerificationPending SessionStatus = "verification_pending"
	SessionCompleted           SessionStatus = "completed"
	SessionFailed              SessionStatus = "failed"
)

// ResearchState is the root aggregate for one session. It is owned by a
// single orchestrator; workers only ever see value copies of their own
// WorkerState, and all mutation happens in the aggregation step between
// fan-out rounds.
type ResearchState struct {
	ID     string        `json:"id"`
	Topic  string        `json:"topic"`
	Status SessionStatus `json:"status"`

	KnownEntities map[string]*Entity      `json:"known_entities"`
	VisitedURLs   map[string]bool         `json:"visited_urls"`
	Workers       map[string]*WorkerState `json:"workers"`
	Plan          *ResearchPlan           `json:"plan,omitempty"`

	IterationCount int      `json:"iteration_count"`
	Logs           []string `json:"logs"`
	TotalCost      float64  `json:"total_cost"`

	DiscoveredCodeNames []string `json:"discovered_code_names"`
	DiscoveredCompanies []string `json:"discovered_companies"`
	HighValueURLs       []string `json:"high_value_urls"`
}

// NewResearchState initializes an empty session for a topic.
func NewResearchState(id, topic string) *ResearchState {
	return &ResearchState{
		ID:            id,
		Topic:         topic,
		Status:        SessionInitialized,
		KnownEntities: map[string]*Entity{},
		VisitedURLs:   map[string]bool{},
		Workers:       map[string]*WorkerState{},
	}
}

// AppendLog adds a timestamped line to the session's textual trace.
func (s *ResearchState) AppendLog(format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	s.Logs = append(s.Logs, line)
}

// RunnableWorkers returns the ids of workers eligible for the next
// fan-out round, in stable order.
func (s *ResearchState) RunnableWorkers() []string {
	var ids []string
	for id, w := range s.Workers {
		if w.Status.Runnable() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Entity returns the entity for the canonical name, creating it on first
// observation.
func (s *ResearchState) Entity(canonicalName string) *Entity {
	if en, ok := s.KnownEntities[canonicalName]; ok {
		return en
	}
	en := NewEntity(canonicalName)
	s.KnownEntities[canonicalName] = en
	return en
}

// RecentEntities returns up to n most recently added canonical names for
// planner context. Map order is not meaningful, so names sort for
// determinism.
func (s *ResearchState) RecentEntities(n int) []string {
	names := make([]string, 0, len(s.KnownEntities))
	for name := range s.KnownEntities {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > n {
		names = names[len(names)-n:]
	}
	return names
}

// SessionSummary is one row of a session listing.
type SessionSummary struct {
	ID          string        `json:"id"`
	Topic       string        `json:"topic"`
	Status      SessionStatus `json:"status"`
	EntityCount int           `json:"entities_count"`
	TotalCost   float64       `json:"total_cost"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SearchResult is one record returned by a search engine. Query names
// the query that produced it when the engine can attribute results;
// empty otherwise.
type SearchResult struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Snippet      string `json:"snippet"`
	SourceEngine string `json:"source"`
	Query        string `json:"query,omitempty"`
	RawContent   string `json:"raw_content,omitempty"`
}

// PageResult is the fetch+extract outcome for one URL.
type PageResult struct {
	URL      string            `json:"url"`
	Entities []ExtractedEntity `json:"entities"`
	Outlinks []string          `json:"outlinks"`
	IsPDF    bool              `json:"is_pdf"`
	PDFPath  string            `json:"pdf_path,omitempty"`
	Markdown string            `json:"markdown,omitempty"`
	Failed   bool              `json:"failed"`
	Err      string            `json:"error,omitempty"`
	Cost     float64           `json:"cost"`
}

// CandidateLink is an outlink considered for a worker's personal queue.
type CandidateLink struct {
	URL        string  `json:"url"`
	AnchorText string  `json:"anchor_text"`
	Context    string  `json:"context"`
	Score      int     `json:"score"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Cached     bool    `json:"cached"`
	Cost       float64 `json:"-"`
}
