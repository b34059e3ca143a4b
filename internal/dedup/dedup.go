// Package dedup guarantees at-most-once exploration of a URL and a single
// canonical identity for an entity across concurrent workers. The mark
// operations are the serializing point: their boolean return is "this call
// was the novel one", and race losers get false.
package dedup

import "context"

// Store is the shared deduplication port. All operations are safe under
// arbitrary concurrent callers.
type Store interface {
	// IsURLVisited checks whether a URL was already visited within a
	// research session.
	IsURLVisited(ctx context.Context, url, researchID string) (bool, error)

	// MarkURLVisited marks a URL visited. Returns true iff this call
	// transitioned the URL from unvisited to visited.
	MarkURLVisited(ctx context.Context, url, researchID string) (bool, error)

	// IsEntityKnown checks the global knowledge base for a canonical name.
	IsEntityKnown(ctx context.Context, canonicalName string) (bool, error)

	// MarkEntityKnown inserts an entity if absent, merging attributes
	// fill-only into existing rows. Returns true iff newly inserted,
	// independent of merges.
	MarkEntityKnown(ctx context.Context, canonicalName string, attributes map[string]string) (bool, error)
}
