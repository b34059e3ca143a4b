package scoring

import (
	"prospector/internal/linkfilter"
	"prospector/internal/types"
)

const (
	// yieldSampleMin is how many links a domain must have contributed
	// before its yield moves scores.
	yieldSampleMin = 5

	yieldBoostRatio   = 0.30
	yieldPenaltyRatio = 0.05

	yieldBoost   = 2
	yieldPenalty = -2
)

// DomainAdjustment returns the score delta earned by a domain's
// historical yield: entities produced per link followed. Domains with
// too few links contribute no signal.
func DomainAdjustment(stats types.DomainStats) int {
	if stats.LinksAdded < yieldSampleMin {
		return 0
	}
	ratio := float64(stats.EntitiesFound) / float64(stats.LinksAdded)
	switch {
	case ratio > yieldBoostRatio:
		return yieldBoost
	case ratio < yieldPenaltyRatio:
		return yieldPenalty
	}
	return 0
}

// AdjustByDomainYield applies per-domain yield deltas to scored links.
// Scores stay clamped to 0-10.
func AdjustByDomainYield(links []types.CandidateLink, perf map[string]*types.DomainStats) []types.CandidateLink {
	if len(perf) == 0 {
		return links
	}
	out := make([]types.CandidateLink, len(links))
	for i, link := range links {
		out[i] = link
		stats, ok := perf[linkfilter.Domain(link.URL)]
		if !ok || stats == nil {
			continue
		}
		if delta := DomainAdjustment(*stats); delta != 0 {
			out[i].Score = clampScore(link.Score + delta)
		}
	}
	return out
}
