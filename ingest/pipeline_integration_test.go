package ingest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spanforge/spanforge/ingest"
	"github.com/spanforge/spanforge/internal/pool"
	"github.com/spanforge/spanforge/store"
	"github.com/spanforge/spanforge/testutil"
	"github.com/spanforge/spanforge/tokenizer"
	"github.com/spanforge/spanforge/types"
)

func newPipeline(t *testing.T) (*ingest.Dispatcher, *store.MemoryGateway) {
	t.Helper()

	gateway := store.NewMemoryGateway()
	registry := store.NewStaticRegistry(testutil.Models())
	reconciler := ingest.NewReconciler(gateway, registry, tokenizer.New(), 16, nil, zap.NewNop())

	workerPool := pool.New(pool.Config{MaxWorkers: 4, QueueSize: 64})
	t.Cleanup(workerPool.Close)

	return ingest.NewDispatcher(ingest.NewNormalizer(zap.NewNop()), reconciler, workerPool, nil, zap.NewNop()), gateway
}

// a full batch spanning trace, generation, and score lands as three
// reconciled entities with derived model, usage, and cost
func TestPipelineFullBatch(t *testing.T) {
	d, gateway := newPipeline(t)
	ctx := testutil.Context(t)

	result := d.Dispatch(ctx, "proj-a", []ingest.Envelope{
		testutil.TraceCreate("e1", "t1", 0, map[string]any{"name": "checkout", "userId": "u1"}),
		testutil.GenerationCreate("e2", "g1", "t1", 1, map[string]any{
			"model": "gpt-4",
			"usage": map[string]any{"promptTokens": float64(100), "completionTokens": float64(50)},
		}),
		testutil.ScoreCreate("e3", "sc1", "t1", "relevance", 0.8, 2),
	})
	require.Empty(t, result.Errors)
	require.Len(t, result.Successes, 3)

	gen, err := gateway.Get(ctx, "proj-a", types.KindObservation, "g1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-fixture", gen.InternalModelID)
	assert.Equal(t, types.UnitTokens, gen.Usage.Unit)
	assert.Equal(t, 150, gen.Usage.TotalCount)
	require.NotNil(t, gen.TotalCost)
	assert.InDelta(t, 100*0.001+50*0.002, *gen.TotalCost, 1e-9)

	score, err := gateway.Get(ctx, "proj-a", types.KindScore, "sc1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, score.Fields["value"])
}

// the generation arriving before its trace synthesizes a minimal trace
// that a later trace-create then fills in
func TestPipelineObservationBeforeTrace(t *testing.T) {
	d, gateway := newPipeline(t)
	ctx := testutil.Context(t)

	first := d.Dispatch(ctx, "proj-a", []ingest.Envelope{
		testutil.GenerationCreate("e1", "g1", "t1", 5, map[string]any{"model": "whisper-1"}),
	})
	require.Empty(t, first.Errors)

	trace, err := gateway.Get(ctx, "proj-a", types.KindTrace, "t1")
	require.NoError(t, err)
	assert.Nil(t, trace.Fields["name"])

	second := d.Dispatch(ctx, "proj-a", []ingest.Envelope{
		testutil.TraceCreate("e2", "t1", 6, map[string]any{"name": "transcribe"}),
	})
	require.Empty(t, second.Errors)

	trace, err = gateway.Get(ctx, "proj-a", types.KindTrace, "t1")
	require.NoError(t, err)
	assert.Equal(t, "transcribe", trace.Fields["name"])

	gen, err := gateway.Get(ctx, "proj-a", types.KindObservation, "g1")
	require.NoError(t, err)
	assert.Equal(t, "whisper-fixture", gen.InternalModelID)
}
