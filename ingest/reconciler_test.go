package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spanforge/spanforge/store"
	"github.com/spanforge/spanforge/tokenizer"
	"github.com/spanforge/spanforge/types"
)

func testModels() []types.ModelDefinition {
	inPrice, outPrice := 0.001, 0.002
	return []types.ModelDefinition{
		{
			ID:           "test-model-v1",
			Name:         "test-model",
			MatchPattern: "^test-model",
			Unit:         types.UnitTokens,
			TokenizerID:  "estimate",
			InputPrice:   &inPrice,
			OutputPrice:  &outPrice,
		},
	}
}

func newTestReconciler(t *testing.T, models []types.ModelDefinition) (*Reconciler, *store.MemoryGateway) {
	t.Helper()
	gateway := store.NewMemoryGateway()
	r := NewReconciler(
		gateway,
		store.NewStaticRegistry(models),
		tokenizer.New(),
		16,
		nil,
		zap.NewNop(),
	)
	return r, gateway
}

func normalize(t *testing.T, projectID string, env Envelope) *Event {
	t.Helper()
	ev, err := newNormalizer().Normalize(projectID, env)
	require.NoError(t, err)
	return ev
}

func envTS(sec int) *time.Time {
	ts := time.Date(2026, 3, 1, 10, 0, sec, 0, time.UTC)
	return &ts
}

func TestApplyTraceCreate(t *testing.T) {
	r, gateway := newTestReconciler(t, nil)
	ctx := context.Background()

	ev := normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventTraceCreate, Timestamp: envTS(0),
		Body: map[string]any{"id": "t1", "name": "checkout", "release": "1.0.0"},
	})
	require.NoError(t, r.Apply(ctx, ev))

	got, err := gateway.Get(ctx, "proj-a", types.KindTrace, "t1")
	require.NoError(t, err)
	assert.Equal(t, "checkout", got.Fields["name"])
	assert.Equal(t, "1.0.0", got.Fields["release"])
}

func TestApplyNullNonDestructive(t *testing.T) {
	r, gateway := newTestReconciler(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventTraceCreate, Timestamp: envTS(0),
		Body: map[string]any{"id": "t1", "release": "1.0.0"},
	})))
	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e2", Type: EventTraceUpdate, Timestamp: envTS(1),
		Body: map[string]any{"id": "t1", "release": nil, "name": "checkout"},
	})))

	got, err := gateway.Get(ctx, "proj-a", types.KindTrace, "t1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.Fields["release"])
	assert.Equal(t, "checkout", got.Fields["name"])
}

// an update arriving before its create leaves a placeholder that the
// later create fills in; derived usage converges once model and input
// are both known
func TestOutOfOrderObservation(t *testing.T) {
	r, gateway := newTestReconciler(t, testModels())
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e-update", Type: EventGenerationUpdate, Timestamp: envTS(5),
		Body: map[string]any{"id": "g1", "output": "ok all done here"},
	})))

	// placeholder holds only the updated fields
	mid, err := gateway.Get(ctx, "proj-a", types.KindObservation, "g1")
	require.NoError(t, err)
	assert.Equal(t, "ok all done here", mid.Fields["output"])
	assert.Empty(t, mid.InternalModelID)

	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e-create", Type: EventGenerationCreate, Timestamp: envTS(1),
		Body: map[string]any{
			"id": "g1", "traceId": "t1", "name": "completion",
			"input": "hello world, this is a test", "model": "test-model",
		},
	})))

	got, err := gateway.Get(ctx, "proj-a", types.KindObservation, "g1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Fields["traceId"])
	assert.Equal(t, "completion", got.Fields["name"])
	assert.Equal(t, "hello world, this is a test", got.Fields["input"])
	assert.Equal(t, "ok all done here", got.Fields["output"])

	assert.Equal(t, "test-model-v1", got.InternalModelID)
	assert.Equal(t, types.UnitTokens, got.Usage.Unit)
	assert.Equal(t, 6, got.Usage.PromptCount)     // 27 chars / 4
	assert.Equal(t, 4, got.Usage.CompletionCount) // 16 chars / 4
	assert.Equal(t, 10, got.Usage.TotalCount)

	require.NotNil(t, got.TotalCost)
	assert.InDelta(t, 6*0.001+4*0.002, *got.TotalCost, 1e-9)
}

func TestProvidedUsagePreferredOverTokenizer(t *testing.T) {
	r, gateway := newTestReconciler(t, testModels())
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventGenerationCreate, Timestamp: envTS(0),
		Body: map[string]any{
			"id": "g1", "traceId": "t1", "model": "test-model",
			"input": "some very long prompt that would tokenize differently",
			"usage": map[string]any{"promptTokens": float64(100), "completionTokens": float64(50)},
		},
	})))

	got, err := gateway.Get(ctx, "proj-a", types.KindObservation, "g1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.Usage.PromptCount)
	assert.Equal(t, 50, got.Usage.CompletionCount)
	assert.Equal(t, 150, got.Usage.TotalCount)
}

func TestImplicitTraceCreation(t *testing.T) {
	r, gateway := newTestReconciler(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventSpanCreate, Timestamp: envTS(0),
		Body: map[string]any{"id": "s1", "traceId": "t-dangling"},
	})))

	trace, err := gateway.Get(ctx, "proj-a", types.KindTrace, "t-dangling")
	require.NoError(t, err)
	assert.Equal(t, "proj-a", trace.ProjectID)
	assert.Empty(t, trace.Fields)

	// a later explicit create merges into the synthesized row
	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e2", Type: EventTraceCreate, Timestamp: envTS(1),
		Body: map[string]any{"id": "t-dangling", "name": "late"},
	})))
	trace, err = gateway.Get(ctx, "proj-a", types.KindTrace, "t-dangling")
	require.NoError(t, err)
	assert.Equal(t, "late", trace.Fields["name"])
}

func TestExternalTraceAddressingSkipsSynthesis(t *testing.T) {
	r, gateway := newTestReconciler(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventScoreCreate, Timestamp: envTS(0),
		Body: map[string]any{
			"id": "sc1", "traceId": "ext-123", "traceIdType": "EXTERNAL",
			"name": "acc", "value": float64(1),
		},
	})))

	_, err := gateway.Get(ctx, "proj-a", types.KindTrace, "ext-123")
	assert.ErrorIs(t, err, store.ErrNotFound)

	score, err := gateway.Get(ctx, "proj-a", types.KindScore, "sc1")
	require.NoError(t, err)
	assert.Equal(t, "ext-123", score.Fields["traceId"])
}

func TestCrossTenantProtection(t *testing.T) {
	r, gateway := newTestReconciler(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventTraceCreate, Timestamp: envTS(0),
		Body: map[string]any{"id": "t1", "name": "original"},
	})))

	err := r.Apply(ctx, normalize(t, "proj-b", Envelope{
		ID: "e2", Type: EventTraceCreate, Timestamp: envTS(1),
		Body: map[string]any{"id": "t1", "name": "hijack"},
	}))
	require.Error(t, err)
	assert.Equal(t, types.ErrCrossTenant, types.GetErrorCode(err))

	got, err := gateway.Get(ctx, "proj-a", types.KindTrace, "t1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Fields["name"])
}

func TestCrossTenantImplicitTraceRejected(t *testing.T) {
	r, gateway := newTestReconciler(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventTraceCreate, Timestamp: envTS(0),
		Body: map[string]any{"id": "t1"},
	})))

	err := r.Apply(ctx, normalize(t, "proj-b", Envelope{
		ID: "e2", Type: EventSpanCreate, Timestamp: envTS(1),
		Body: map[string]any{"id": "s1", "traceId": "t1"},
	}))
	require.Error(t, err)
	assert.Equal(t, types.ErrCrossTenant, types.GetErrorCode(err))

	_, err = gateway.GetAny(ctx, types.KindObservation, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequireExistingNotFound(t *testing.T) {
	r, _ := newTestReconciler(t, nil)

	ev := normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventGenerationUpdate, Timestamp: envTS(0),
		Body: map[string]any{"generationId": "g-missing", "output": "x"},
	})
	ev.RequireExisting = true

	err := r.Apply(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestScoreUpsertOverwritesValue(t *testing.T) {
	r, gateway := newTestReconciler(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventScoreCreate, Timestamp: envTS(0),
		Body: map[string]any{"id": "sc1", "traceId": "t1", "name": "acc", "value": float64(0.5)},
	})))
	require.NoError(t, r.Apply(ctx, normalize(t, "proj-a", Envelope{
		ID: "e2", Type: EventScoreCreate, Timestamp: envTS(1),
		Body: map[string]any{"id": "sc1", "traceId": "t1", "name": "acc", "value": float64(0.9)},
	})))

	got, err := gateway.Get(ctx, "proj-a", types.KindScore, "sc1")
	require.NoError(t, err)
	assert.Equal(t, float64(0.9), got.Fields["value"])
}

func TestSDKLogWritesNothing(t *testing.T) {
	r, gateway := newTestReconciler(t, nil)

	ev := normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventSDKLog, Body: map[string]any{"log": "hi"},
	})
	require.NoError(t, r.Apply(context.Background(), ev))
	assert.Equal(t, 0, gateway.Len())
}

func TestUpstreamErrorClassification(t *testing.T) {
	gateway := &failingGateway{}
	r := NewReconciler(gateway, store.NewStaticRegistry(nil), tokenizer.New(), 4, nil, zap.NewNop())

	err := r.Apply(context.Background(), normalize(t, "proj-a", Envelope{
		ID: "e1", Type: EventTraceCreate, Timestamp: envTS(0),
		Body: map[string]any{"id": "t1"},
	}))
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

type failingGateway struct{}

func (f *failingGateway) Get(ctx context.Context, projectID string, kind types.EntityKind, id string) (*store.StoredRecord, error) {
	return nil, errors.New("storage offline")
}

func (f *failingGateway) GetAny(ctx context.Context, kind types.EntityKind, id string) (*store.StoredRecord, error) {
	return nil, errors.New("storage offline")
}

func (f *failingGateway) Upsert(ctx context.Context, record *store.StoredRecord) error {
	return errors.New("storage offline")
}
