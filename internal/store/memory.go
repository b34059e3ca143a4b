package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"prospector/internal/types"
)

// MemoryStore is an in-process SessionStore used in tests and dry runs.
// Sessions are deep-copied through JSON so callers cannot alias the
// stored state.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]string
	updated  map[string]time.Time
	entities map[string]*types.Entity
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]string{},
		updated:  map[string]time.Time{},
		entities: map[string]*types.Entity{},
	}
}

// SaveSession implements SessionStore.
func (m *MemoryStore) SaveSession(_ context.Context, state *types.ResearchState) error {
	dump, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[state.ID] = string(dump)
	m.updated[state.ID] = time.Now().UTC()
	return nil
}

// GetSession implements SessionStore.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*types.ResearchState, error) {
	m.mu.Lock()
	dump, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var state types.ResearchState
	if err := json.Unmarshal([]byte(dump), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListSessions implements SessionStore.
func (m *MemoryStore) ListSessions(_ context.Context, limit int) ([]types.SessionSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.SessionSummary
	for id, dump := range m.sessions {
		var state types.ResearchState
		if err := json.Unmarshal([]byte(dump), &state); err != nil {
			continue
		}
		out = append(out, types.SessionSummary{
			ID:          id,
			Topic:       state.Topic,
			Status:      state.Status,
			EntityCount: len(state.KnownEntities),
			TotalCost:   state.TotalCost,
			UpdatedAt:   m.updated[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveEntity implements SessionStore.
func (m *MemoryStore) SaveEntity(_ context.Context, entity *types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entity
	m.entities[entity.CanonicalName] = &cp
	return nil
}

// SaveEntitiesBatch implements SessionStore.
func (m *MemoryStore) SaveEntitiesBatch(ctx context.Context, entities []*types.Entity) error {
	for _, entity := range entities {
		if err := m.SaveEntity(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// UpdateWorkerMetrics implements SessionStore. Progress rows are not
// retained in memory; the final checkpoint carries the same data.
func (m *MemoryStore) UpdateWorkerMetrics(_ context.Context, _, _ string, _, _ int) error {
	return nil
}

// Entity returns the stored entity, or nil.
func (m *MemoryStore) Entity(canonicalName string) *types.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entities[canonicalName]
}
