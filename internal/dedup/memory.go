package dedup

import (
	"context"
	"sync"

	"prospector/internal/logging"
	"prospector/internal/types"
)

// MemoryStore is an in-process Store. It backs tests and serves as the
// fast cache tier in front of the sqlite store.
type MemoryStore struct {
	mu       sync.Mutex
	urls     map[string]bool
	entities map[string]map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		urls:     map[string]bool{},
		entities: map[string]map[string]string{},
	}
}

func urlKey(url, researchID string) string {
	return researchID + "\x00" + url
}

// IsURLVisited implements Store.
func (m *MemoryStore) IsURLVisited(_ context.Context, url, researchID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.urls[urlKey(url, researchID)], nil
}

// MarkURLVisited implements Store.
func (m *MemoryStore) MarkURLVisited(_ context.Context, url, researchID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := urlKey(url, researchID)
	if m.urls[key] {
		return false, nil
	}
	m.urls[key] = true
	return true, nil
}

// IsEntityKnown implements Store.
func (m *MemoryStore) IsEntityKnown(_ context.Context, canonicalName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entities[canonicalName]
	return ok, nil
}

// MarkEntityKnown implements Store.
func (m *MemoryStore) MarkEntityKnown(_ context.Context, canonicalName string, attributes map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.entities[canonicalName]
	if !ok {
		attrs := map[string]string{}
		for k, v := range attributes {
			if types.AttributeKnown(v) {
				attrs[k] = v
			}
		}
		m.entities[canonicalName] = attrs
		return true, nil
	}
	for k, v := range attributes {
		if !types.AttributeKnown(v) {
			continue
		}
		if !types.AttributeKnown(existing[k]) {
			existing[k] = v
		}
	}
	return false, nil
}

// EntityAttributes returns a copy of the stored attributes.
func (m *MemoryStore) EntityAttributes(canonicalName string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs, ok := m.entities[canonicalName]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// CachedStore fronts an authoritative Store with a best-effort in-process
// membership cache. Reads are cache-aside, writes are write-through; the
// authoritative layer always defines truth for the mark return value.
type CachedStore struct {
	cache *MemoryStore
	auth  Store
}

// NewCachedStore wraps an authoritative store with a memory cache.
func NewCachedStore(auth Store) *CachedStore {
	return &CachedStore{cache: NewMemoryStore(), auth: auth}
}

// IsURLVisited implements Store with a cache fast path.
func (c *CachedStore) IsURLVisited(ctx context.Context, url, researchID string) (bool, error) {
	if hit, _ := c.cache.IsURLVisited(ctx, url, researchID); hit {
		return true, nil
	}
	visited, err := c.auth.IsURLVisited(ctx, url, researchID)
	if err != nil {
		return false, err
	}
	if visited {
		if _, cerr := c.cache.MarkURLVisited(ctx, url, researchID); cerr != nil {
			logging.Dedup("cache populate failed for %s: %v", url, cerr)
		}
	}
	return visited, nil
}

// MarkURLVisited implements Store. The authoritative insert decides the
// return value; the cache is updated regardless.
func (c *CachedStore) MarkURLVisited(ctx context.Context, url, researchID string) (bool, error) {
	novel, err := c.auth.MarkURLVisited(ctx, url, researchID)
	if err != nil {
		return false, err
	}
	if _, cerr := c.cache.MarkURLVisited(ctx, url, researchID); cerr != nil {
		logging.Dedup("cache write-through failed for %s: %v", url, cerr)
	}
	return novel, nil
}

// IsEntityKnown implements Store with a cache fast path.
func (c *CachedStore) IsEntityKnown(ctx context.Context, canonicalName string) (bool, error) {
	if known, _ := c.cache.IsEntityKnown(ctx, canonicalName); known {
		return true, nil
	}
	known, err := c.auth.IsEntityKnown(ctx, canonicalName)
	if err != nil {
		return false, err
	}
	if known {
		if _, cerr := c.cache.MarkEntityKnown(ctx, canonicalName, nil); cerr != nil {
			logging.Dedup("cache populate failed for entity %s: %v", canonicalName, cerr)
		}
	}
	return known, nil
}

// MarkEntityKnown implements Store. Attribute merging happens in the
// authoritative layer; the cache only tracks membership.
func (c *CachedStore) MarkEntityKnown(ctx context.Context, canonicalName string, attributes map[string]string) (bool, error) {
	novel, err := c.auth.MarkEntityKnown(ctx, canonicalName, attributes)
	if err != nil {
		return false, err
	}
	if _, cerr := c.cache.MarkEntityKnown(ctx, canonicalName, nil); cerr != nil {
		logging.Dedup("cache write-through failed for entity %s: %v", canonicalName, cerr)
	}
	return novel, nil
}
