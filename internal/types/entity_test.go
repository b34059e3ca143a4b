package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddAliasSuppressesCanonicalAndDuplicates(t *testing.T) {
	en := NewEntity("BMS-986158")

	en.AddAlias("BMS-986158")
	en.AddAlias("bms-986158")
	if len(en.Aliases) != 0 {
		t.Fatalf("canonical name must not become an alias, got %v", en.Aliases)
	}

	en.AddAlias("BET inhibitor 158")
	en.AddAlias("bet inhibitor 158")
	en.AddAlias("  ")
	if len(en.Aliases) != 1 {
		t.Fatalf("expected 1 alias, got %v", en.Aliases)
	}
}

func TestMergeAttributesFillOnly(t *testing.T) {
	tests := []struct {
		name     string
		existing map[string]string
		incoming map[string]string
		want     map[string]string
	}{
		{
			name:     "fills missing slot",
			existing: map[string]string{},
			incoming: map[string]string{AttrTarget: "CDK12"},
			want:     map[string]string{AttrTarget: "CDK12"},
		},
		{
			name:     "fills Unknown slot",
			existing: map[string]string{AttrOwner: "Unknown"},
			incoming: map[string]string{AttrOwner: "Acme Pharma"},
			want:     map[string]string{AttrOwner: "Acme Pharma"},
		},
		{
			name:     "never overwrites populated slot",
			existing: map[string]string{AttrProductStage: "Preclinical"},
			incoming: map[string]string{AttrProductStage: "Phase 1"},
			want:     map[string]string{AttrProductStage: "Preclinical"},
		},
		{
			name:     "ignores Unknown and empty incoming values",
			existing: map[string]string{},
			incoming: map[string]string{AttrModality: "Unknown", AttrGeography: ""},
			want:     map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			en := NewEntity("X")
			en.Attributes = tt.existing
			en.MergeAttributes(tt.incoming)
			if diff := cmp.Diff(tt.want, en.Attributes); diff != "" {
				t.Errorf("attributes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAddEvidenceDeduplicates(t *testing.T) {
	en := NewEntity("X")

	ev := EvidenceSnippet{SourceURL: "https://a.example/p", Content: "X inhibits CDK12", Timestamp: "2026-01-01"}
	if !en.AddEvidence(ev) {
		t.Fatal("first evidence should append")
	}
	if en.AddEvidence(ev) {
		t.Fatal("identical (url, content) must not append")
	}

	// Same content from a different URL is distinct evidence.
	other := ev
	other.SourceURL = "https://b.example/q"
	if !en.AddEvidence(other) {
		t.Fatal("same content from new source should append")
	}
	if len(en.Evidence) != 2 {
		t.Fatalf("expected 2 evidence items, got %d", len(en.Evidence))
	}
}

func TestObserveAccumulatesMentions(t *testing.T) {
	en := NewEntity("BMS-986158")

	for i, url := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		en.Observe(ExtractedEntity{
			CanonicalName: "BMS-986158",
			Attributes:    map[string]string{AttrTarget: "CDK12/13"},
			Evidence:      []string{"snippet " + string(rune('a'+i))},
			SourceURL:     url,
		})
	}

	if en.MentionCount != 3 {
		t.Errorf("mention count = %d, want 3", en.MentionCount)
	}
	if len(en.Evidence) != 3 {
		t.Errorf("evidence count = %d, want 3", len(en.Evidence))
	}
	if len(en.Aliases) != 0 {
		t.Errorf("aliases = %v, want none", en.Aliases)
	}
	if en.MentionCount < len(en.Evidence) {
		t.Error("mention count must be >= distinct evidence count")
	}
}

func TestWorkerCloneIsIndependent(t *testing.T) {
	w := NewWorkerState("r1", WorkerSpec{
		WorkerID:       "worker_1",
		Strategy:       "broad_english",
		ExampleQueries: []string{"CDK12 inhibitor"},
		PageBudget:     50,
	})
	w.PersonalQueue = []string{"https://a.example"}
	w.ExploredDomains["a.example"] = true
	w.QueryPerformance["CDK12 inhibitor"] = &QueryStats{Runs: 1, ByEngine: map[string]int{"perplexity": 1}}
	w.LinkPerformance["a.example"] = &DomainStats{LinksAdded: 2}

	c := w.Clone()
	c.PersonalQueue = append(c.PersonalQueue, "https://b.example")
	c.ExploredDomains["b.example"] = true
	c.QueryPerformance["CDK12 inhibitor"].Runs = 99
	c.LinkPerformance["a.example"].LinksAdded = 99

	if len(w.PersonalQueue) != 1 {
		t.Error("clone mutated original personal queue")
	}
	if w.ExploredDomains["b.example"] {
		t.Error("clone mutated original explored domains")
	}
	if w.QueryPerformance["CDK12 inhibitor"].Runs != 1 {
		t.Error("clone shares query performance entries")
	}
	if w.LinkPerformance["a.example"].LinksAdded != 2 {
		t.Error("clone shares link performance entries")
	}
}

func TestRunnableWorkersOrderAndFilter(t *testing.T) {
	s := NewResearchState("r1", "topic")
	s.Workers["b"] = &WorkerState{ID: "b", Status: WorkerProductive}
	s.Workers["a"] = &WorkerState{ID: "a", Status: WorkerDeclining}
	s.Workers["c"] = &WorkerState{ID: "c", Status: WorkerDeadEnd}
	s.Workers["d"] = &WorkerState{ID: "d", Status: WorkerExhausted}

	got := s.RunnableWorkers()
	want := []string{"a", "b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("runnable workers (-want +got):\n%s", diff)
	}
}
