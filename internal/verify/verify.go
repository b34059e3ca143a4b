// Package verify classifies discovered entities against the plan's
// hard constraints and derives targeted gap-fill queries for entities
// missing critical metadata.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"prospector/internal/llm"
	"prospector/internal/logging"
	"prospector/internal/store"
	"prospector/internal/types"
)

// P0Fields are the critical metadata fields. An UNCERTAIN verdict with
// one of these missing qualifies the entity for a gap-fill round.
var P0Fields = []string{types.AttrTarget, types.AttrOwner, types.AttrProductStage}

// Verifier audits entities with an LLM and writes verdicts back
// through the session store.
type Verifier struct {
	llm   llm.Client
	model string
	store store.SessionStore
}

// New builds a Verifier. The store may be nil in tests; verdicts are
// then only returned, not persisted.
func New(llmClient llm.Client, model string, sessionStore store.SessionStore) *Verifier {
	return &Verifier{llm: llmClient, model: model, store: sessionStore}
}

const verificationPrompt = `You are a strict auditor. Your job is to verify whether a discovered asset matches specific research constraints.

### Asset to Verify
Name: %s
Aliases: %s
Current Attributes: %s

### Evidence Snippets
%s

### Constraints (MUST MATCH)
%s

### Evidence Trust Hierarchy
Weigh conflicting evidence by source tier, highest first:
1. Regulatory filings and official registries (FDA, EMA, ClinicalTrials.gov, patent offices)
2. Company-official pages and peer-reviewed publications
3. Secondary news and vendor databases
4. Blogs, forums, social media
Within the same tier, prefer the most recent evidence, then the claim supported by more sources.

### Rules
1. **Strictness**: If the evidence explicitly contradicts a hard constraint (e.g. "Antibody" when "Small Molecule" is required), REJECT it.
2. **Uncertainty**: If the evidence is insufficient to confirm a hard constraint OR if critical metadata (target, owner, product_stage) is missing, mark as UNCERTAIN and list the missing fields.
3. **Verification**: Only mark as VERIFIED if all hard constraints are supported by evidence AND critical metadata is present.

Output JSON only:
{
  "canonical_name": "%s",
  "status": "VERIFIED | UNCERTAIN | REJECTED",
  "rejection_reason": "string or null",
  "missing_fields": ["target", "owner", "product_stage"],
  "confidence": 85,
  "explanation": "Reasoning for the decision"
}`

// VerifyEntity audits one entity. The verdict is written back onto the
// entity and persisted so external readers see it before the final
// checkpoint. LLM failure yields a terminal UNCERTAIN verdict rather
// than an error.
func (v *Verifier) VerifyEntity(ctx context.Context, entity *types.Entity, analysis types.QueryAnalysis) types.VerificationResult {
	timer := logging.StartTimer(logging.CategoryVerifier, "VerifyEntity")
	defer timer.StopWithInfo(entity.CanonicalName)

	prompt := v.buildPrompt(entity, analysis)
	response, err := v.llm.Complete(ctx, prompt)
	if err != nil {
		logging.Verifier("verification call failed for %s: %v", entity.CanonicalName, err)
		return v.apply(ctx, entity, types.VerificationResult{
			CanonicalName: entity.CanonicalName,
			Status:        types.StatusUncertain,
			Explanation:   "verification unavailable: " + err.Error(),
		})
	}

	result := types.VerificationResult{CanonicalName: entity.CanonicalName}
	if uerr := json.Unmarshal([]byte(llm.RecoverJSON(response)), &result); uerr != nil {
		logging.Verifier("verdict unparseable for %s: %v", entity.CanonicalName, uerr)
		result = types.VerificationResult{
			CanonicalName: entity.CanonicalName,
			Status:        types.StatusUncertain,
			Explanation:   "verdict unparseable",
		}
	}
	if result.CanonicalName == "" {
		result.CanonicalName = entity.CanonicalName
	}
	switch result.Status {
	case types.StatusVerified, types.StatusUncertain, types.StatusRejected:
	default:
		result.Status = types.StatusUncertain
	}
	result.Cost = llm.EstimateCallCost(v.model, prompt, response)
	return v.apply(ctx, entity, result)
}

// apply writes the verdict onto the entity and persists it.
func (v *Verifier) apply(ctx context.Context, entity *types.Entity, result types.VerificationResult) types.VerificationResult {
	entity.VerificationStatus = result.Status
	entity.RejectionReason = result.RejectionReason
	entity.ConfidenceScore = result.Confidence
	if v.store != nil {
		if err := v.store.SaveEntity(ctx, entity); err != nil {
			logging.Verifier("failed to persist verdict for %s: %v", entity.CanonicalName, err)
		}
	}
	logging.Verifier("%s -> %s (confidence %.0f)", entity.CanonicalName, result.Status, result.Confidence)
	return result
}

func (v *Verifier) buildPrompt(entity *types.Entity, analysis types.QueryAnalysis) string {
	var evidence strings.Builder
	for _, ev := range entity.Evidence {
		fmt.Fprintf(&evidence, "- [%s] (%s) %s\n", ev.Timestamp, ev.SourceURL, ev.Content)
	}
	if evidence.Len() == 0 {
		evidence.WriteString("(no evidence collected)\n")
	}

	attrsJSON, _ := json.Marshal(entity.Attributes)
	constraintsJSON, _ := json.MarshalIndent(analysis, "", "  ")

	return fmt.Sprintf(verificationPrompt,
		entity.CanonicalName,
		strings.Join(entity.Aliases, ", "),
		string(attrsJSON),
		evidence.String(),
		string(constraintsJSON),
		entity.CanonicalName)
}

// NeedsGapFill reports whether the verdict warrants a gap-fill round:
// UNCERTAIN with at least one P0 field missing.
func NeedsGapFill(result types.VerificationResult) bool {
	if result.Status != types.StatusUncertain {
		return false
	}
	for _, missing := range result.MissingFields {
		if strings.EqualFold(missing, "stage") {
			return true
		}
		for _, p0 := range P0Fields {
			if strings.EqualFold(missing, p0) {
				return true
			}
		}
	}
	return false
}

// GapQueries assembles targeted queries for each missing P0 field.
// Pure string assembly, no LLM involved.
func GapQueries(entity *types.Entity, result types.VerificationResult) []string {
	name := entity.CanonicalName
	var queries []string
	for _, missing := range result.MissingFields {
		switch strings.ToLower(missing) {
		case types.AttrOwner:
			queries = append(queries,
				fmt.Sprintf("%q developer owner company", name),
				fmt.Sprintf("who developed %q", name))
		case types.AttrTarget:
			queries = append(queries,
				fmt.Sprintf("%q mechanism of action target", name),
				fmt.Sprintf("what does %q target", name))
		case types.AttrProductStage, "stage":
			queries = append(queries,
				fmt.Sprintf("%q clinical trial phase development stage", name),
				fmt.Sprintf("%q preclinical OR \"phase 1\" OR \"phase 2\"", name))
		}
	}
	return queries
}
