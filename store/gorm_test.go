package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/spanforge/spanforge/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entityRecord{}, &modelDefinitionRow{}))
	return db
}

func TestGormGatewayRoundTrip(t *testing.T) {
	g := NewGormGateway(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	_, err := g.Get(ctx, "proj-a", types.KindObservation, "o1")
	assert.ErrorIs(t, err, ErrNotFound)

	price := 0.002
	record := &StoredRecord{
		Kind:      types.KindObservation,
		ID:        "o1",
		ProjectID: "proj-a",
		Fields: map[string]any{
			"name":    "generate",
			"traceId": "t1",
		},
		Stamps: map[string]types.FieldStamp{
			"name": {OccurredAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), EventID: "evt-9"},
		},
		InternalModelID: "gpt-4o-2024",
		Usage: types.Usage{
			Unit:            types.UnitTokens,
			PromptCount:     12,
			CompletionCount: 34,
			TotalCount:      46,
		},
		TotalCost: &price,
	}
	require.NoError(t, g.Upsert(ctx, record))

	got, err := g.Get(ctx, "proj-a", types.KindObservation, "o1")
	require.NoError(t, err)
	assert.Equal(t, "generate", got.Fields["name"])
	assert.Equal(t, "t1", got.Fields["traceId"])
	assert.Equal(t, "evt-9", got.Stamps["name"].EventID)
	assert.Equal(t, "gpt-4o-2024", got.InternalModelID)
	assert.Equal(t, types.UnitTokens, got.Usage.Unit)
	assert.Equal(t, 46, got.Usage.TotalCount)
	require.NotNil(t, got.TotalCost)
	assert.InDelta(t, 0.002, *got.TotalCost, 1e-9)
	assert.Nil(t, got.InputCost)
}

func TestGormGatewayUpsertConflict(t *testing.T) {
	g := NewGormGateway(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	record := &StoredRecord{
		Kind:      types.KindTrace,
		ID:        "t1",
		ProjectID: "proj-a",
		Fields:    map[string]any{"name": "v1"},
	}
	require.NoError(t, g.Upsert(ctx, record))

	record.Fields["name"] = "v2"
	require.NoError(t, g.Upsert(ctx, record))

	got, err := g.Get(ctx, "proj-a", types.KindTrace, "t1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Fields["name"])

	var count int64
	require.NoError(t, g.db.Model(&entityRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormGatewayGetAnyCrossProject(t *testing.T) {
	g := NewGormGateway(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, g.Upsert(ctx, &StoredRecord{
		Kind: types.KindTrace, ID: "t1", ProjectID: "proj-a",
		Fields: map[string]any{},
	}))

	_, err := g.Get(ctx, "proj-b", types.KindTrace, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := g.GetAny(ctx, types.KindTrace, "t1")
	require.NoError(t, err)
	assert.Equal(t, "proj-a", got.ProjectID)
}
