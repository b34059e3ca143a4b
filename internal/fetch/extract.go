package fetch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"prospector/internal/types"
)

// genericTerms are rejected as canonical names. The extraction model
// occasionally returns a class or placeholder instead of a named asset.
var genericTerms = map[string]bool{
	"none":       true,
	"unknown":    true,
	"n/a":        true,
	"inhibitor":  true,
	"inhibitors": true,
	"molecule":   true,
	"molecules":  true,
	"asset":      true,
	"assets":     true,
}

// maxCanonicalLen rejects sentence-like extractions posing as names.
const maxCanonicalLen = 100

// evidenceFallbackLen is how much page text stands in as evidence when
// the model returns no verbatim excerpt.
const evidenceFallbackLen = 500

// extractionInstruction is the topic-aware system prompt for entity
// extraction. Extraction is broad on inclusion and strict on identity:
// only named assets with concrete identifiers come back, and constraint
// filtering is deferred to verification.
const extractionInstruction = `You are extracting SPECIFIC named assets from source text.

RESEARCH CONTEXT: The user is researching: "%s"

I. WHAT IS AN ASSET?

An ASSET is a specific named item under development (NOT a target, NOT a category, NOT a disease) with:
1. A concrete identifier: code name (e.g. "BMS-986158"), chemical name (e.g. "trastuzumab deruxtecan"), or patent designation (e.g. "Compound 7a from CN112345678A")
2. Evidence it exists: mentioned in patents, trials, press releases, pipeline pages, or publications

DO EXTRACT: named compounds (dinaciclib, olaparib), development codes (BMS-986158, ISM9274, SR-4835), research codes (Compound 7f, YJZ5118).
DO NOT EXTRACT: target proteins (CDK12, PARP, HER2), generic classes (CDK12 inhibitors, small molecules), diseases (TNBC, breast cancer), companies (Pfizer), mechanisms (DNA damage response), hypotheticals with no identifier.

CRITICAL: if the text only mentions a target or a class without naming a specific asset, return nothing for it.

II. INCLUSION (BROAD): extract any asset RELATED to the research topic, even with missing metadata. Do NOT filter by stage or geography; constraints are checked later.

III. ATTRIBUTE INFERENCE (apply, do not be lazy):
- target: "X inhibitor" -> target = "X"; "binds/targets Y" -> target = "Y"; else "Unknown"
- modality: "small molecule"/"oral drug"/"inhibitor" -> "Small Molecule"; "antibody"/"mAb" -> "Antibody"; "ADC" -> "ADC"; "PROTAC"/"degrader" -> "PROTAC"; "CAR-T"/"cell therapy" -> "Cell Therapy"
- product_stage: "preclinical"/"in vitro"/"in vivo" -> "Preclinical"; "Phase 1/2/3" as written; "IND-enabling" -> "IND-Enabling"; "approved"/"marketed" -> "Approved"; "discontinued" -> "Discontinued"
- owner: company named with the asset, patent assignee, author affiliation, or inferred from code prefix (e.g. "BMS-" -> Bristol Myers Squibb)
- geography: country named with the asset; ChiCTR trial -> "China"
- indication: disease named with the asset
"Unknown" is acceptable only when the text genuinely lacks the information.

IV. OUTPUT

Return a JSON array. Each element:
{
  "canonical_name": "...",
  "aliases": ["..."],
  "target": "...",
  "modality": "...",
  "product_stage": "...",
  "indication": "...",
  "geography": "...",
  "owner": "...",
  "evidence_excerpt": "verbatim excerpt from the text naming the asset"
}

The evidence_excerpt MUST be copied verbatim from the source text so the result is auditable. Return [] if no specific named assets are found.`

// ExtractionInstruction renders the extraction prompt for a topic.
func ExtractionInstruction(topic string) string {
	return fmt.Sprintf(extractionInstruction, topic)
}

// extractedAsset is the wire shape the extraction model returns.
type extractedAsset struct {
	CanonicalName   string   `json:"canonical_name"`
	Aliases         []string `json:"aliases"`
	Target          string   `json:"target"`
	Modality        string   `json:"modality"`
	ProductStage    string   `json:"product_stage"`
	Indication      string   `json:"indication"`
	Geography       string   `json:"geography"`
	Owner           string   `json:"owner"`
	EvidenceExcerpt string   `json:"evidence_excerpt"`
}

// ParseExtraction converts the model response into extracted entities,
// dropping generic and sentence-length canonical names. pageText feeds
// the evidence fallback when the model omitted an excerpt.
func ParseExtraction(response, sourceURL, pageText string) []types.ExtractedEntity {
	var assets []extractedAsset
	if err := json.Unmarshal([]byte(response), &assets); err != nil {
		// Single-object responses happen; tolerate them.
		var one extractedAsset
		if err := json.Unmarshal([]byte(response), &one); err != nil {
			return nil
		}
		assets = []extractedAsset{one}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var out []types.ExtractedEntity
	for _, asset := range assets {
		canonical := strings.TrimSpace(asset.CanonicalName)
		if canonical == "" || genericTerms[strings.ToLower(canonical)] {
			continue
		}
		if len(canonical) > maxCanonicalLen {
			continue
		}

		excerpt := strings.TrimSpace(asset.EvidenceExcerpt)
		if excerpt == "" {
			excerpt = pageText
			if len(excerpt) > evidenceFallbackLen {
				excerpt = excerpt[:evidenceFallbackLen]
			}
		}

		var aliases []string
		for _, a := range asset.Aliases {
			if a = strings.TrimSpace(a); a != "" {
				aliases = append(aliases, a)
			}
		}

		out = append(out, types.ExtractedEntity{
			CanonicalName: canonical,
			Aliases:       aliases,
			Attributes: map[string]string{
				types.AttrTarget:       asset.Target,
				types.AttrModality:     asset.Modality,
				types.AttrProductStage: asset.ProductStage,
				types.AttrIndication:   asset.Indication,
				types.AttrGeography:    asset.Geography,
				types.AttrOwner:        asset.Owner,
			},
			Evidence:  []string{excerpt},
			SourceURL: sourceURL,
			Timestamp: now,
		})
	}
	return out
}
