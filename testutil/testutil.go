// Package testutil provides shared fixtures for ingestion tests:
// deterministic contexts, envelope builders, and a small model
// registry with known prices.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/spanforge/spanforge/ingest"
	"github.com/spanforge/spanforge/types"
)

// Context returns a test context that expires with the test.
func Context(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// BaseTime anchors fixture timestamps so assertions stay deterministic.
var BaseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// At returns BaseTime shifted by the given number of seconds.
func At(sec int) *time.Time {
	t := BaseTime.Add(time.Duration(sec) * time.Second)
	return &t
}

// TraceCreate builds a trace-create envelope.
func TraceCreate(eventID, traceID string, sec int, fields map[string]any) ingest.Envelope {
	body := map[string]any{"id": traceID}
	for k, v := range fields {
		body[k] = v
	}
	return ingest.Envelope{ID: eventID, Type: ingest.EventTraceCreate, Timestamp: At(sec), Body: body}
}

// GenerationCreate builds a generation-create envelope.
func GenerationCreate(eventID, observationID, traceID string, sec int, fields map[string]any) ingest.Envelope {
	body := map[string]any{"id": observationID, "traceId": traceID}
	for k, v := range fields {
		body[k] = v
	}
	return ingest.Envelope{ID: eventID, Type: ingest.EventGenerationCreate, Timestamp: At(sec), Body: body}
}

// ScoreCreate builds a score-create envelope.
func ScoreCreate(eventID, scoreID, traceID, name string, value float64, sec int) ingest.Envelope {
	return ingest.Envelope{
		ID:        eventID,
		Type:      ingest.EventScoreCreate,
		Timestamp: At(sec),
		Body: map[string]any{
			"id": scoreID, "traceId": traceID, "name": name, "value": value,
		},
	}
}

// Models returns a registry fixture with one priced token model and
// one per-second audio model.
func Models() []types.ModelDefinition {
	inputPrice := 0.001
	outputPrice := 0.002
	secondPrice := 0.0001
	return []types.ModelDefinition{
		{
			ID:           "gpt-4-fixture",
			Name:         "gpt-4",
			MatchPattern: "^gpt-4",
			Unit:         types.UnitTokens,
			TokenizerID:  "estimate",
			InputPrice:   &inputPrice,
			OutputPrice:  &outputPrice,
		},
		{
			ID:           "whisper-fixture",
			Name:         "whisper-1",
			MatchPattern: "^whisper",
			Unit:         types.UnitSeconds,
			TotalPrice:   &secondPrice,
		},
	}
}
