package ingest

import (
	"time"

	"github.com/spanforge/spanforge/types"
)

// Envelope is one raw batch item as received on the wire.
type Envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Body      map[string]any `json:"body"`
}

// Dual-phase event vocabulary.
const (
	EventTraceCreate      = "trace-create"
	EventTraceUpdate      = "trace-update"
	EventSpanCreate       = "span-create"
	EventSpanUpdate       = "span-update"
	EventGenerationCreate = "generation-create"
	EventGenerationUpdate = "generation-update"
	EventEventCreate      = "event-create"
	EventScoreCreate      = "score-create"
	EventSDKLog           = "sdk-log"
)

// Legacy event vocabulary. The observation variant is discriminated by
// a type field inside the body.
const (
	EventObservationCreate = "observation-create"
	EventObservationUpdate = "observation-update"
)

// Event is the canonical internal record every envelope normalizes to.
// Fields holds sanitized, canonically named values; times inside Fields
// are UTC RFC3339Nano strings so the map survives JSON round trips.
type Event struct {
	ID         string
	Kind       types.EntityKind
	EntityID   string
	ProjectID  string
	OccurredAt time.Time
	Fields     map[string]any

	// ExternalTrace marks external-id trace addressing; no trace row is
	// synthesized for a dangling reference in that mode.
	ExternalTrace bool

	// RequireExisting marks legacy update addressing: the entity must
	// already exist or the event fails with NOT_FOUND.
	RequireExisting bool

	// LogOnly marks sdk-log events, which count as successes but write
	// no entity state.
	LogOnly bool
}

// Stamp returns the write stamp this event contributes to each field it
// sets.
func (e *Event) Stamp() types.FieldStamp {
	return types.FieldStamp{OccurredAt: e.OccurredAt, EventID: e.ID}
}

// BatchItemSuccess reports one processed envelope.
type BatchItemSuccess struct {
	ID string `json:"id"`
}

// BatchItemError reports one failed envelope.
type BatchItemError struct {
	ID      string `json:"id"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// BatchResult is the multi-status outcome of one batch. The invariant
// len(Successes)+len(Errors) == len(batch) always holds.
type BatchResult struct {
	Successes []BatchItemSuccess `json:"successes"`
	Errors    []BatchItemError   `json:"errors"`
}
