package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spanforge/spanforge/types"
)

// ErrNotFound is returned by Get and GetAny when no record exists.
var ErrNotFound = types.NewError(types.ErrNotFound, "record not found")

// StoredRecord is the durable state of one reconciled entity. Fields
// holds the merged field map keyed by canonical field name; Stamps holds
// the per-field write stamp that decided the current value. The derived
// columns are recomputed from Fields on every reconcile.
type StoredRecord struct {
	Kind      types.EntityKind
	ID        string
	ProjectID string

	Fields map[string]any
	Stamps map[string]types.FieldStamp

	InternalModelID string
	Usage           types.Usage
	InputCost       *float64
	OutputCost      *float64
	TotalCost       *float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy. Fields and Stamps originate from JSON
// decoding, so a JSON round trip copies them faithfully.
func (r *StoredRecord) Clone() *StoredRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = cloneJSONMap(r.Fields)
	out.Stamps = make(map[string]types.FieldStamp, len(r.Stamps))
	for k, v := range r.Stamps {
		out.Stamps[k] = v
	}
	if r.InputCost != nil {
		c := *r.InputCost
		out.InputCost = &c
	}
	if r.OutputCost != nil {
		c := *r.OutputCost
		out.OutputCost = &c
	}
	if r.TotalCost != nil {
		c := *r.TotalCost
		out.TotalCost = &c
	}
	return &out
}

func cloneJSONMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		// Fields are built from decoded JSON; marshal cannot fail for them.
		panic(fmt.Sprintf("store: unmarshalable fields map: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("store: fields map round trip: %v", err))
	}
	return out
}

// PersistenceGateway is the storage contract the reconciler writes
// through. Upsert must be idempotent and atomic per call.
type PersistenceGateway interface {
	// Get returns the record for (projectID, kind, id), or ErrNotFound.
	Get(ctx context.Context, projectID string, kind types.EntityKind, id string) (*StoredRecord, error)

	// GetAny returns the record for (kind, id) across all projects, or
	// ErrNotFound. Used to detect cross-tenant id collisions.
	GetAny(ctx context.Context, kind types.EntityKind, id string) (*StoredRecord, error)

	// Upsert writes the record, replacing any previous state for its
	// (kind, id) identity.
	Upsert(ctx context.Context, record *StoredRecord) error
}
