// Package types holds the shared data model for the discovery engine:
// entities with their evidence, worker state, research plans, and the
// root ResearchState aggregate.
package types

import "strings"

// VerificationStatus classifies an entity after the verification pass.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "UNVERIFIED"
	StatusVerified   VerificationStatus = "VERIFIED"
	StatusUncertain  VerificationStatus = "UNCERTAIN"
	StatusRejected   VerificationStatus = "REJECTED"
)

// Attribute keys recognized on an entity. Values are short strings;
// "" or "Unknown" means not yet known.
const (
	AttrTarget        = "target"
	AttrModality      = "modality"
	AttrProductStage  = "product_stage"
	AttrIndication    = "indication"
	AttrGeography     = "geography"
	AttrOwner         = "owner"
	AttrDrugClass     = "drug_class"
	AttrClinicalPhase = "clinical_phase"
)

// AttributeUnknown is the sentinel value for a slot that has not been
// resolved yet. Merges may fill such slots but never overwrite a real value.
const AttributeUnknown = "Unknown"

// EvidenceSnippet is a verbatim excerpt supporting an entity. Immutable.
// Two snippets are the same evidence iff source URL and content match.
type EvidenceSnippet struct {
	SourceURL string `json:"source_url"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Key returns the dedup identity of the snippet.
func (e EvidenceSnippet) Key() string {
	return e.SourceURL + "\x00" + e.Content
}

// Entity is a candidate discovered asset keyed by its canonical name.
type Entity struct {
	CanonicalName      string             `json:"canonical_name"`
	Aliases            []string           `json:"aliases"`
	Attributes         map[string]string  `json:"attributes"`
	Evidence           []EvidenceSnippet  `json:"evidence"`
	MentionCount       int                `json:"mention_count"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	RejectionReason    string             `json:"rejection_reason,omitempty"`
	ConfidenceScore    float64            `json:"confidence_score"`
}

// NewEntity returns an empty entity for the given canonical name.
func NewEntity(canonicalName string) *Entity {
	return &Entity{
		CanonicalName:      canonicalName,
		Aliases:            []string{},
		Attributes:         map[string]string{},
		Evidence:           []EvidenceSnippet{},
		VerificationStatus: StatusUnverified,
	}
}

// AttributeKnown reports whether the slot holds a real value, not the
// empty/"Unknown" sentinel.
func AttributeKnown(v string) bool {
	return v != "" && !strings.EqualFold(v, AttributeUnknown)
}

// AddAlias records an alias. The canonical name itself and duplicates
// (case-insensitive) are suppressed.
func (en *Entity) AddAlias(alias string) {
	alias = strings.TrimSpace(alias)
	if alias == "" || strings.EqualFold(alias, en.CanonicalName) {
		return
	}
	for _, a := range en.Aliases {
		if strings.EqualFold(a, alias) {
			return
		}
	}
	en.Aliases = append(en.Aliases, alias)
}

// MergeAttributes applies the fill-only merge policy: an incoming real
// value may land only in a missing or "Unknown" slot. Populated slots are
// never overwritten. Returns true if any slot changed.
func (en *Entity) MergeAttributes(attrs map[string]string) bool {
	if en.Attributes == nil {
		en.Attributes = map[string]string{}
	}
	changed := false
	for k, v := range attrs {
		if !AttributeKnown(v) {
			continue
		}
		if !AttributeKnown(en.Attributes[k]) {
			en.Attributes[k] = v
			changed = true
		}
	}
	return changed
}

// AddEvidence appends a snippet unless the same (source URL, content) pair
// is already present. Returns true if appended.
func (en *Entity) AddEvidence(ev EvidenceSnippet) bool {
	if ev.Content == "" {
		return false
	}
	for _, existing := range en.Evidence {
		if existing.SourceURL == ev.SourceURL && existing.Content == ev.Content {
			return false
		}
	}
	en.Evidence = append(en.Evidence, ev)
	return true
}

// Observe merges one extracted observation into the entity: aliases are
// unioned, attributes merged fill-only, evidence deduplicated, and the
// mention count incremented once per observation.
func (en *Entity) Observe(obs ExtractedEntity) {
	for _, a := range obs.Aliases {
		en.AddAlias(a)
	}
	en.MergeAttributes(obs.Attributes)
	for _, snippet := range obs.Evidence {
		en.AddEvidence(EvidenceSnippet{
			SourceURL: obs.SourceURL,
			Content:   snippet,
			Timestamp: obs.Timestamp,
		})
	}
	en.MentionCount++
}
