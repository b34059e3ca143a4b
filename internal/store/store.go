// Package store persists research sessions, entities, and evidence. The
// orchestrator checkpoints through SessionStore between iterations;
// workers and the verifier write incremental progress so external readers
// never wait for the final checkpoint.
package store

import (
	"context"

	"prospector/internal/types"
)

// SessionStore is the persistence port for research state.
type SessionStore interface {
	// SaveSession upserts the full state by state.ID.
	SaveSession(ctx context.Context, state *types.ResearchState) error

	// GetSession loads a state by session id; nil when not found.
	GetSession(ctx context.Context, id string) (*types.ResearchState, error)

	// ListSessions returns recent sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]types.SessionSummary, error)

	// SaveEntity upserts by canonical name, appending only evidence whose
	// (source_url, content) pair is new.
	SaveEntity(ctx context.Context, entity *types.Entity) error

	// SaveEntitiesBatch persists a set of entities.
	SaveEntitiesBatch(ctx context.Context, entities []*types.Entity) error

	// UpdateWorkerMetrics records mid-iteration worker progress.
	// Last-writer-wins with the orchestrator checkpoint is acceptable.
	UpdateWorkerMetrics(ctx context.Context, researchID, workerID string, pagesFetched, entitiesFound int) error
}
