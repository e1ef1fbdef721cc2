package store

import (
	"context"
	"sync"
	"time"

	"github.com/spanforge/spanforge/types"
)

// MemoryGateway is an in-memory PersistenceGateway used by tests and the
// default dev mode (no database configured). Safe for concurrent use.
type MemoryGateway struct {
	mu      sync.RWMutex
	records map[memoryKey]*StoredRecord
}

type memoryKey struct {
	kind types.EntityKind
	id   string
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{records: make(map[memoryKey]*StoredRecord)}
}

// Get implements PersistenceGateway.
func (g *MemoryGateway) Get(ctx context.Context, projectID string, kind types.EntityKind, id string) (*StoredRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.records[memoryKey{kind: kind, id: id}]
	if !ok || rec.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// GetAny implements PersistenceGateway.
func (g *MemoryGateway) GetAny(ctx context.Context, kind types.EntityKind, id string) (*StoredRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.records[memoryKey{kind: kind, id: id}]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Upsert implements PersistenceGateway.
func (g *MemoryGateway) Upsert(ctx context.Context, record *StoredRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC()
	stored := record.Clone()
	stored.UpdatedAt = now

	key := memoryKey{kind: record.Kind, id: record.ID}
	if prev, ok := g.records[key]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	g.records[key] = stored
	return nil
}

// Len returns the number of stored records.
func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}
