package cache

import (
	"context"
	"log/slog"
	"time"

	"freightwatch/internal/refdata"
	"freightwatch/internal/registry"
)

// Warmer preloads the reference data snapshots so API consumers hit warm
// keys from the first request
type Warmer struct {
	cache    *RedisCache
	registry *registry.Registry
	data     *refdata.Data
	logger   *slog.Logger
}

func NewWarmer(cache *RedisCache, reg *registry.Registry, data *refdata.Data, logger *slog.Logger) *Warmer {
	return &Warmer{
		cache:    cache,
		registry: reg,
		data:     data,
		logger:   logger.With("component", "cache_warmer"),
	}
}

func (w *Warmer) WarmAll(ctx context.Context) {
	start := time.Now()

	if err := w.cache.SetJSON(ctx, KeyGeofences, w.registry.List()); err != nil {
		w.logger.Error("failed to warm geofences", "error", err)
	}
	if err := w.cache.SetJSON(ctx, KeyCorridors, w.data.Corridors); err != nil {
		w.logger.Error("failed to warm corridors", "error", err)
	}

	w.logger.Info("cache warming completed",
		"geofences", w.registry.Count(),
		"corridors", len(w.data.Corridors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
