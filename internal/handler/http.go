package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"freightwatch/internal/domain"
	"freightwatch/internal/engine"
	"freightwatch/internal/registry"
	"freightwatch/internal/store"
	"freightwatch/internal/tracker"
)

type HTTPHandler struct {
	fleet     *store.FleetStore
	registry  *registry.Registry
	tracker   *tracker.Tracker
	engine    *engine.Engine
	corridors []domain.Corridor
}

func NewHTTPHandler(fleet *store.FleetStore, reg *registry.Registry, tr *tracker.Tracker, eng *engine.Engine, corridors []domain.Corridor) *HTTPHandler {
	return &HTTPHandler{
		fleet:     fleet,
		registry:  reg,
		tracker:   tr,
		engine:    eng,
		corridors: corridors,
	}
}

type TrucksResponse struct {
	Trucks     []domain.GPSSample `json:"trucks"`
	Count      int                `json:"count"`
	ServerTime time.Time          `json:"serverTime"`
}

func (h *HTTPHandler) ListTrucks(w http.ResponseWriter, r *http.Request) {
	var trucks []domain.GPSSample
	if shipmentID := r.URL.Query().Get("shipmentId"); shipmentID != "" {
		trucks = h.fleet.ForShipment(shipmentID)
	} else {
		trucks = h.fleet.List()
	}

	respondJSON(w, http.StatusOK, TrucksResponse{
		Trucks:     trucks,
		Count:      len(trucks),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) GetTruck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing truck id")
		return
	}

	sample, ok := h.fleet.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "truck not found")
		return
	}

	respondJSON(w, http.StatusOK, sample)
}

// GetTruckLocation answers a point-in-time query against the active
// journey, defaulting to now
func (h *HTTPHandler) GetTruckLocation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing truck id")
		return
	}

	at := time.Now()
	if atStr := r.URL.Query().Get("at"); atStr != "" {
		parsed, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid at parameter: expected RFC3339 timestamp")
			return
		}
		at = parsed
	}

	sample, err := h.engine.LocationAtTime(id, at)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, sample)
}

type GeofencesResponse struct {
	Geofences []*domain.Geofence `json:"geofences"`
	Count     int                `json:"count"`
}

// ListGeofences supports filtering by attribute, e.g. ?attribute=country:KE
func (h *HTTPHandler) ListGeofences(w http.ResponseWriter, r *http.Request) {
	var fences []*domain.Geofence
	if attr := r.URL.Query().Get("attribute"); attr != "" {
		key, value, ok := strings.Cut(attr, ":")
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid attribute filter: expected key:value")
			return
		}
		fences = h.registry.ListByAttribute(key, value)
	} else {
		fences = h.registry.List()
	}

	respondJSON(w, http.StatusOK, GeofencesResponse{Geofences: fences, Count: len(fences)})
}

func (h *HTTPHandler) UpsertGeofence(w http.ResponseWriter, r *http.Request) {
	var g domain.Geofence
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		respondError(w, http.StatusBadRequest, "invalid geofence body: "+err.Error())
		return
	}

	if err := h.registry.Upsert(&g); err != nil {
		if errors.Is(err, domain.ErrInvalidGeometry) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, g)
}

func (h *HTTPHandler) DeleteGeofence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing geofence id")
		return
	}

	h.registry.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

type GeofenceOccupancyResponse struct {
	GeofenceID string   `json:"geofenceId"`
	Trucks     []string `json:"trucks"`
	Count      int      `json:"count"`
}

func (h *HTTPHandler) TrucksInGeofence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.registry.Get(id); !ok {
		respondError(w, http.StatusNotFound, "geofence not found")
		return
	}

	trucks := h.tracker.TrucksInGeofence(id)
	respondJSON(w, http.StatusOK, GeofenceOccupancyResponse{
		GeofenceID: id,
		Trucks:     trucks,
		Count:      len(trucks),
	})
}

type AlertsResponse struct {
	Alerts []domain.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

func (h *HTTPHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	alerts := h.engine.RecentAlerts(limit)
	respondJSON(w, http.StatusOK, AlertsResponse{Alerts: alerts, Count: len(alerts)})
}

func (h *HTTPHandler) AlertStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.AlertStats())
}

type CorridorsResponse struct {
	Corridors []domain.Corridor `json:"corridors"`
	Count     int               `json:"count"`
}

func (h *HTTPHandler) ListCorridors(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CorridorsResponse{Corridors: h.corridors, Count: len(h.corridors)})
}

type StartJourneyRequest struct {
	EntityID   string  `json:"entityId"`
	CorridorID string  `json:"corridorId"`
	SpeedKmh   float64 `json:"speedKmh,omitempty"`
	ShipmentID string  `json:"shipmentId,omitempty"`
}

func (h *HTTPHandler) StartJourney(w http.ResponseWriter, r *http.Request) {
	var req StartJourneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid journey body: "+err.Error())
		return
	}
	if req.EntityID == "" || req.CorridorID == "" {
		respondError(w, http.StatusBadRequest, "entityId and corridorId are required")
		return
	}

	if err := h.engine.StartJourney(req.EntityID, req.CorridorID, req.SpeedKmh, req.ShipmentID); err != nil {
		if errors.Is(err, engine.ErrUnknownCorridor) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *HTTPHandler) StopJourney(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("entityId")
	if !h.engine.StopJourney(id) {
		respondError(w, http.StatusNotFound, "no active journey for "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type JourneysResponse struct {
	Journeys []engine.JourneyInfo `json:"journeys"`
	Count    int                  `json:"count"`
}

func (h *HTTPHandler) ListJourneys(w http.ResponseWriter, r *http.Request) {
	journeys := h.engine.ActiveJourneys()
	respondJSON(w, http.StatusOK, JourneysResponse{Journeys: journeys, Count: len(journeys)})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
