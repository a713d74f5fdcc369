package engine

import (
	"context"
	"log/slog"
	"time"

	"freightwatch/internal/registry"
	"freightwatch/pkg/geofenceapi"
)

// Refresher polls the external zone-management API and upserts the fetched
// geofences into the registry. File-loaded fences stay in place; the API
// overlays or replaces them by id.
type Refresher struct {
	client   *geofenceapi.Client
	registry *registry.Registry
	interval time.Duration
	logger   *slog.Logger
}

func NewRefresher(client *geofenceapi.Client, reg *registry.Registry, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		client:   client,
		registry: reg,
		interval: interval,
		logger:   logger.With("component", "geofence_refresher"),
	}
}

func (r *Refresher) Run(ctx context.Context) {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	start := time.Now()

	fences, err := r.client.Fetch(ctx)
	if err != nil {
		r.logger.Error("geofence fetch failed", "error", err)
		return
	}

	accepted := 0
	for i := range fences {
		if err := r.registry.Upsert(&fences[i]); err != nil {
			r.logger.Warn("rejected fetched geofence", "geofence_id", fences[i].ID, "error", err)
			continue
		}
		accepted++
	}

	r.logger.Info("geofence refresh completed",
		"fetched", len(fences),
		"accepted", accepted,
		"total", r.registry.Count(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
