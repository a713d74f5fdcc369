package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"freightwatch/internal/engine"
	"freightwatch/internal/registry"
	"freightwatch/internal/store"
)

type HealthHandler struct {
	engine   *engine.Engine
	fleet    *store.FleetStore
	registry *registry.Registry
}

func NewHealthHandler(eng *engine.Engine, fleet *store.FleetStore, reg *registry.Registry) *HealthHandler {
	return &HealthHandler{
		engine:   eng,
		fleet:    fleet,
		registry: reg,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready         bool      `json:"ready"`
	TruckCount    int       `json:"truckCount"`
	GeofenceCount int       `json:"geofenceCount"`
	ServerTime    time.Time `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.engine.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ReadyResponse{
		Ready:         ready,
		TruckCount:    h.fleet.Count(),
		GeofenceCount: h.registry.Count(),
		ServerTime:    time.Now(),
	})
}
