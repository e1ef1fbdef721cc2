package types

import "time"

// EntityKind identifies the canonical entity a normalized event addresses.
type EntityKind string

const (
	KindTrace       EntityKind = "trace"
	KindObservation EntityKind = "observation"
	KindScore       EntityKind = "score"
)

// ObservationKind discriminates the observation variants.
type ObservationKind string

const (
	ObservationSpan       ObservationKind = "SPAN"
	ObservationGeneration ObservationKind = "GENERATION"
	ObservationEvent      ObservationKind = "EVENT"
)

// UsageUnit is the unit a usage payload is measured in.
type UsageUnit string

const (
	UnitTokens       UsageUnit = "TOKENS"
	UnitCharacters   UsageUnit = "CHARACTERS"
	UnitImages       UsageUnit = "IMAGES"
	UnitSeconds      UsageUnit = "SECONDS"
	UnitMilliseconds UsageUnit = "MILLISECONDS"
)

// ValidUsageUnit reports whether s is one of the supported units.
func ValidUsageUnit(s string) bool {
	switch UsageUnit(s) {
	case UnitTokens, UnitCharacters, UnitImages, UnitSeconds, UnitMilliseconds:
		return true
	}
	return false
}

// FieldStamp records the provenance of the value currently held by one
// field of a stored record: the producer-declared event time and the
// event id as a deterministic tie-break. Stamps make the merge
// order-independent; comparing stamps rather than arrival order decides
// which write wins.
type FieldStamp struct {
	OccurredAt time.Time `json:"occurredAt"`
	EventID    string    `json:"eventId"`
}

// Before reports whether s loses to other under last-writer-wins:
// earlier occurredAt loses, ties broken by lexicographic event id.
func (s FieldStamp) Before(other FieldStamp) bool {
	if !s.OccurredAt.Equal(other.OccurredAt) {
		return s.OccurredAt.Before(other.OccurredAt)
	}
	return s.EventID < other.EventID
}

// Usage holds normalized consumption figures for an observation.
// Counts default to zero; Unit is empty when the producer never declared one
// and no model could be matched.
type Usage struct {
	Unit            UsageUnit `json:"unit,omitempty"`
	PromptCount     int       `json:"promptCount"`
	CompletionCount int       `json:"completionCount"`
	TotalCount      int       `json:"totalCount"`
}

// IsZero reports whether no count has been set.
func (u Usage) IsZero() bool {
	return u.PromptCount == 0 && u.CompletionCount == 0 && u.TotalCount == 0
}

// TokenizerConfig parameterizes token counting for a model definition.
// Encoding selects the BPE vocabulary; the overhead fields account for the
// per-message and per-name framing tokens of chat-formatted content.
type TokenizerConfig struct {
	Encoding         string `json:"encoding,omitempty" yaml:"encoding"`
	TokensPerMessage int    `json:"tokensPerMessage,omitempty" yaml:"tokens_per_message"`
	TokensPerName    int    `json:"tokensPerName,omitempty" yaml:"tokens_per_name"`
}

// ModelDefinition is read-only reference data describing one version of a
// known model. MatchPattern is applied case-insensitively to the external
// model name reported by producers; ValidFrom bounds the versions that may
// apply to an observation given its start time (nil matches any time).
type ModelDefinition struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	MatchPattern    string          `json:"matchPattern"`
	ValidFrom       *time.Time      `json:"validFrom,omitempty"`
	Unit            UsageUnit       `json:"unit"`
	TokenizerID     string          `json:"tokenizerId,omitempty"`
	TokenizerConfig TokenizerConfig `json:"tokenizerConfig"`

	// Per-unit prices used for cost derivation. Nil means unpriced.
	InputPrice  *float64 `json:"inputPrice,omitempty"`
	OutputPrice *float64 `json:"outputPrice,omitempty"`
	TotalPrice  *float64 `json:"totalPrice,omitempty"`
}

// Trace is the root record of one logical execution. Entities are created on
// first reference and never deleted by ingestion.
type Trace struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"projectId"`
	Name       string         `json:"name,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Release    string         `json:"release,omitempty"`
	Version    string         `json:"version,omitempty"`
	ExternalID string         `json:"externalId,omitempty"`
	Public     bool           `json:"public,omitempty"`
	Input      any            `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
}

// Observation is a span, generation, or event nested within a trace.
// TraceID and ParentObservationID are immutable once set.
type Observation struct {
	ID                  string          `json:"id"`
	ProjectID           string          `json:"projectId"`
	TraceID             string          `json:"traceId,omitempty"`
	ParentObservationID string          `json:"parentObservationId,omitempty"`
	Kind                ObservationKind `json:"type"`
	Name                string          `json:"name,omitempty"`
	StartTime           *time.Time      `json:"startTime,omitempty"`
	EndTime             *time.Time      `json:"endTime,omitempty"`
	CompletionStartTime *time.Time      `json:"completionStartTime,omitempty"`
	Input               any             `json:"input,omitempty"`
	Output              any             `json:"output,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
	Level               string          `json:"level,omitempty"`
	StatusMessage       string          `json:"statusMessage,omitempty"`
	Version             string          `json:"version,omitempty"`
	ModelName           string          `json:"model,omitempty"`
	ModelParameters     map[string]any  `json:"modelParameters,omitempty"`
	InternalModelID     string          `json:"internalModelId,omitempty"`
	Usage               Usage           `json:"usage"`
	Cost                *float64        `json:"cost,omitempty"`
}

// Score is an evaluation attached to a trace or observation. Re-creation
// with the same id overwrites value-carrying fields (upsert semantics);
// identity fields stay first-writer-wins.
type Score struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"projectId"`
	TraceID       string  `json:"traceId"`
	ObservationID string  `json:"observationId,omitempty"`
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	StringValue   string  `json:"stringValue,omitempty"`
	DataType      string  `json:"dataType,omitempty"`
	Comment       string  `json:"comment,omitempty"`
}
