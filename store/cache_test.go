package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spanforge/spanforge/types"
)

type countingRegistry struct {
	models []types.ModelDefinition
	calls  int
	err    error
}

func (r *countingRegistry) List(ctx context.Context) ([]types.ModelDefinition, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.models, nil
}

func newCacheFixture(t *testing.T, inner ModelRegistry) (*CachedRegistry, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCachedRegistry(inner, client, time.Minute, nil, zap.NewNop()), mr
}

func TestCachedRegistryMissThenHit(t *testing.T) {
	inner := &countingRegistry{models: []types.ModelDefinition{
		{ID: "m1", Name: "gpt-4", MatchPattern: "(?i)^gpt-4", Unit: types.UnitTokens},
	}}
	cached, _ := newCacheFixture(t, inner)
	ctx := context.Background()

	got, err := cached.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, inner.calls)

	got, err = cached.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, 1, inner.calls) // served from cache
}

func TestCachedRegistryTTLExpiry(t *testing.T) {
	inner := &countingRegistry{models: []types.ModelDefinition{{ID: "m1", Name: "x", MatchPattern: "x"}}}
	cached, mr := newCacheFixture(t, inner)
	ctx := context.Background()

	_, err := cached.List(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cached.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedRegistryInvalidate(t *testing.T) {
	inner := &countingRegistry{models: []types.ModelDefinition{{ID: "m1", Name: "x", MatchPattern: "x"}}}
	cached, _ := newCacheFixture(t, inner)
	ctx := context.Background()

	_, err := cached.List(ctx)
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(ctx))

	_, err = cached.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedRegistryInnerErrorPropagates(t *testing.T) {
	inner := &countingRegistry{err: errors.New("db down")}
	cached, _ := newCacheFixture(t, inner)

	_, err := cached.List(context.Background())
	assert.Error(t, err)
}

func TestCachedRegistryFallsBackOnRedisFailure(t *testing.T) {
	inner := &countingRegistry{models: []types.ModelDefinition{{ID: "m1", Name: "x", MatchPattern: "x"}}}
	cached, mr := newCacheFixture(t, inner)

	mr.Close()

	got, err := cached.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, inner.calls)
}
