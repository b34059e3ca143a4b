package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"prospector/internal/store"
	"prospector/internal/types"
)

type stubLLM struct {
	response string
	err      error
	prompt   string
}

func (s *stubLLM) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.response, s.err
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, _, user string) (string, error) {
	return s.Complete(ctx, user)
}

func sampleEntity() *types.Entity {
	en := types.NewEntity("BMS-986158")
	en.AddAlias("BMS 986158")
	en.Attributes[types.AttrTarget] = "CDK12/13"
	en.Attributes[types.AttrModality] = "Small Molecule"
	en.Attributes[types.AttrOwner] = types.AttributeUnknown
	en.AddEvidence(types.EvidenceSnippet{
		SourceURL: "https://clinicaltrials.gov/NCT03",
		Content:   "BMS-986158 is a CDK12/13 inhibitor in phase 1",
		Timestamp: "2026-01-01T00:00:00Z",
	})
	return en
}

func analysis() types.QueryAnalysis {
	return types.QueryAnalysis{
		Target: "CDK12 inhibitors",
		Constraints: types.Constraints{
			Hard: []string{"CDK12 target", "small molecule"},
		},
		Modality: "small molecule",
	}
}

func TestVerifyEntityVerified(t *testing.T) {
	mock := &stubLLM{response: `{
		"canonical_name": "BMS-986158",
		"status": "VERIFIED",
		"missing_fields": [],
		"confidence": 92,
		"explanation": "All hard constraints supported by registry evidence"
	}`}
	mem := store.NewMemoryStore()
	v := New(mock, "gemini-1.5-flash", mem)
	en := sampleEntity()

	result := v.VerifyEntity(context.Background(), en, analysis())
	if result.Status != types.StatusVerified {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Confidence != 92 {
		t.Errorf("confidence = %v", result.Confidence)
	}
	if result.Cost <= 0 {
		t.Errorf("cost = %v", result.Cost)
	}
	if en.VerificationStatus != types.StatusVerified {
		t.Error("verdict not written back to entity")
	}
	if stored := mem.Entity("BMS-986158"); stored == nil || stored.VerificationStatus != types.StatusVerified {
		t.Error("verdict not persisted through the store")
	}

	for _, want := range []string{"BMS-986158", "CDK12/13", "clinical", "Trust Hierarchy"} {
		if !strings.Contains(mock.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestVerifyEntityRejected(t *testing.T) {
	mock := &stubLLM{response: `{
		"canonical_name": "AB-001",
		"status": "REJECTED",
		"rejection_reason": "evidence shows an antibody, small molecule required",
		"missing_fields": [],
		"confidence": 95,
		"explanation": "Hard constraint contradiction"
	}`}
	v := New(mock, "gemini-1.5-flash", nil)
	en := types.NewEntity("AB-001")

	result := v.VerifyEntity(context.Background(), en, analysis())
	if result.Status != types.StatusRejected {
		t.Fatalf("status = %s", result.Status)
	}
	if en.RejectionReason == "" {
		t.Error("rejection reason not written back")
	}
}

func TestVerifyEntityUncertainOnCallFailure(t *testing.T) {
	v := New(&stubLLM{err: errors.New("overloaded")}, "gemini-1.5-flash", nil)
	en := sampleEntity()

	result := v.VerifyEntity(context.Background(), en, analysis())
	if result.Status != types.StatusUncertain {
		t.Errorf("status = %s, want UNCERTAIN on failure", result.Status)
	}
}

func TestVerifyEntityUncertainOnGarbage(t *testing.T) {
	v := New(&stubLLM{response: "not json"}, "gemini-1.5-flash", nil)
	result := v.VerifyEntity(context.Background(), sampleEntity(), analysis())
	if result.Status != types.StatusUncertain {
		t.Errorf("status = %s", result.Status)
	}
}

func TestNeedsGapFill(t *testing.T) {
	cases := []struct {
		name   string
		result types.VerificationResult
		want   bool
	}{
		{"uncertain missing owner", types.VerificationResult{Status: types.StatusUncertain, MissingFields: []string{"owner"}}, true},
		{"uncertain missing stage", types.VerificationResult{Status: types.StatusUncertain, MissingFields: []string{"stage"}}, true},
		{"uncertain missing geography only", types.VerificationResult{Status: types.StatusUncertain, MissingFields: []string{"geography"}}, false},
		{"uncertain nothing missing", types.VerificationResult{Status: types.StatusUncertain}, false},
		{"verified", types.VerificationResult{Status: types.StatusVerified, MissingFields: []string{"owner"}}, false},
		{"rejected", types.VerificationResult{Status: types.StatusRejected, MissingFields: []string{"owner"}}, false},
	}
	for _, tc := range cases {
		if got := NeedsGapFill(tc.result); got != tc.want {
			t.Errorf("%s: NeedsGapFill = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestGapQueriesForOwner(t *testing.T) {
	en := types.NewEntity("E")
	result := types.VerificationResult{
		Status:        types.StatusUncertain,
		MissingFields: []string{"owner"},
	}

	queries := GapQueries(en, result)
	want := []string{
		`"E" developer owner company`,
		`who developed "E"`,
	}
	if len(queries) != len(want) {
		t.Fatalf("queries = %v, want %v", queries, want)
	}
	for i := range want {
		if queries[i] != want[i] {
			t.Errorf("query %d = %q, want %q", i, queries[i], want[i])
		}
	}
}

func TestGapQueriesCoverAllP0Fields(t *testing.T) {
	en := types.NewEntity("X-7")
	result := types.VerificationResult{
		Status:        types.StatusUncertain,
		MissingFields: []string{"target", "owner", "product_stage"},
	}

	queries := GapQueries(en, result)
	if len(queries) != 6 {
		t.Fatalf("queries = %d, want 2 per missing field", len(queries))
	}
	joined := strings.Join(queries, "\n")
	for _, want := range []string{"target", "developed", "phase"} {
		if !strings.Contains(joined, want) {
			t.Errorf("queries missing %q coverage: %v", want, queries)
		}
	}
}
