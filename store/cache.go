package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spanforge/spanforge/internal/metrics"
	"github.com/spanforge/spanforge/types"
)

const registryCacheKey = "spanforge:model-registry"

// CachedRegistry caches the inner registry's list in redis. Model
// definitions change rarely, so a short TTL keeps the matcher off the
// database on the hot path. Cache failures fall back to the inner
// registry and are logged, never surfaced.
type CachedRegistry struct {
	inner     ModelRegistry
	client    *redis.Client
	ttl       time.Duration
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewCachedRegistry wraps inner with a redis cache. collector may be nil.
func NewCachedRegistry(inner ModelRegistry, client *redis.Client, ttl time.Duration, collector *metrics.Collector, logger *zap.Logger) *CachedRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRegistry{
		inner:     inner,
		client:    client,
		ttl:       ttl,
		collector: collector,
		logger:    logger.With(zap.String("component", "registry_cache")),
	}
}

// List implements ModelRegistry.
func (r *CachedRegistry) List(ctx context.Context) ([]types.ModelDefinition, error) {
	data, err := r.client.Get(ctx, registryCacheKey).Bytes()
	if err == nil {
		var models []types.ModelDefinition
		if err := json.Unmarshal(data, &models); err == nil {
			r.recordLookup(true)
			return models, nil
		}
		r.logger.Warn("discarding undecodable registry cache entry", zap.Error(err))
	} else if err != redis.Nil {
		r.logger.Warn("registry cache read failed", zap.Error(err))
	}
	r.recordLookup(false)

	models, err := r.inner.List(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(models); err == nil {
		if err := r.client.Set(ctx, registryCacheKey, data, r.ttl).Err(); err != nil {
			r.logger.Warn("registry cache write failed", zap.Error(err))
		}
	}
	return models, nil
}

// Invalidate drops the cached list, forcing the next List through to
// the inner registry.
func (r *CachedRegistry) Invalidate(ctx context.Context) error {
	return r.client.Del(ctx, registryCacheKey).Err()
}

func (r *CachedRegistry) recordLookup(hit bool) {
	if r.collector != nil {
		r.collector.RecordRegistryCache(hit)
	}
}
