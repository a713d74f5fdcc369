package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"freightwatch/internal/alert"
	"freightwatch/internal/config"
	"freightwatch/internal/domain"
	"freightwatch/internal/engine"
	"freightwatch/internal/registry"
	"freightwatch/internal/simulator"
	"freightwatch/internal/store"
	"freightwatch/internal/tracker"
)

type noOwners struct{}

func (noOwners) DriverFor(string) (string, bool) { return "", false }

type nullBroadcaster struct{}

func (nullBroadcaster) BroadcastGPS(domain.GPSSample)                 {}
func (nullBroadcaster) BroadcastAlert(domain.Alert, alert.Recipients) {}

type fixture struct {
	fleet    *store.FleetStore
	registry *registry.Registry
	tracker  *tracker.Tracker
	engine   *engine.Engine
	mux      *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	corridor := domain.Corridor{
		ID:   "nbo-msa",
		Name: "Nairobi - Mombasa",
		Waypoints: []domain.Waypoint{
			{City: "Nairobi", Latitude: -1.2921, Longitude: 36.8219},
			{City: "Mombasa", Latitude: -4.0435, Longitude: 39.6682},
		},
	}

	cfg := &config.Config{
		TickInterval:      time.Second,
		TruckStaleAfter:   time.Hour,
		BorderStateMaxAge: 24 * time.Hour,
	}

	fleet := store.New(time.Hour)
	reg := registry.New(logger)
	tr := tracker.New(logger)
	eng := engine.New(
		cfg,
		simulator.New(logger, 42),
		fleet,
		tr,
		reg,
		alert.NewPipeline(noOwners{}),
		nullBroadcaster{},
		[]domain.Corridor{corridor},
		logger,
	)

	h := NewHTTPHandler(fleet, reg, tr, eng, []domain.Corridor{corridor})
	health := NewHealthHandler(eng, fleet, reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/trucks", h.ListTrucks)
	mux.HandleFunc("GET /v1/trucks/{id}", h.GetTruck)
	mux.HandleFunc("GET /v1/trucks/{id}/location", h.GetTruckLocation)
	mux.HandleFunc("GET /v1/geofences", h.ListGeofences)
	mux.HandleFunc("POST /v1/geofences", h.UpsertGeofence)
	mux.HandleFunc("DELETE /v1/geofences/{id}", h.DeleteGeofence)
	mux.HandleFunc("GET /v1/geofences/{id}/trucks", h.TrucksInGeofence)
	mux.HandleFunc("GET /v1/corridors", h.ListCorridors)
	mux.HandleFunc("GET /v1/alerts", h.ListAlerts)
	mux.HandleFunc("GET /v1/alerts/stats", h.AlertStats)
	mux.HandleFunc("GET /v1/journeys", h.ListJourneys)
	mux.HandleFunc("POST /v1/journeys", h.StartJourney)
	mux.HandleFunc("DELETE /v1/journeys/{entityId}", h.StopJourney)
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz)

	return &fixture{fleet: fleet, registry: reg, tracker: tr, engine: eng, mux: mux}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func sample(entityID, shipmentID string, lat, lng float64) domain.GPSSample {
	return domain.GPSSample{
		EntityID:   entityID,
		ShipmentID: shipmentID,
		Latitude:   lat,
		Longitude:  lng,
		Timestamp:  time.Now(),
	}
}

func TestListTrucks(t *testing.T) {
	f := newFixture(t)
	f.fleet.Update(sample("truck-1", "ship-1", -1.29, 36.82))
	f.fleet.Update(sample("truck-2", "ship-2", -4.04, 39.67))

	rec := f.do(t, http.MethodGet, "/v1/trucks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp TrucksResponse
	decode(t, rec, &resp)
	if resp.Count != 2 {
		t.Errorf("expected 2 trucks, got %d", resp.Count)
	}

	rec = f.do(t, http.MethodGet, "/v1/trucks?shipmentId=ship-2", "")
	decode(t, rec, &resp)
	if resp.Count != 1 || resp.Trucks[0].EntityID != "truck-2" {
		t.Errorf("shipment filter failed: %+v", resp)
	}
}

func TestGetTruck(t *testing.T) {
	f := newFixture(t)
	f.fleet.Update(sample("truck-1", "", -1.29, 36.82))

	if rec := f.do(t, http.MethodGet, "/v1/trucks/truck-1", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/trucks/truck-9", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestUpsertGeofence(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/geofences", `{
		"id": "gf-yard", "name": "Nairobi Yard", "kind": "circle",
		"center": {"lat": -1.2921, "lng": 36.8219}, "radiusMeters": 5000
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if _, ok := f.registry.Get("gf-yard"); !ok {
		t.Error("geofence not stored")
	}

	rec = f.do(t, http.MethodPost, "/v1/geofences", `{
		"id": "gf-bad", "name": "Bad", "kind": "circle",
		"center": {"lat": 0, "lng": 36}, "radiusMeters": 0
	}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for zero radius, got %d", rec.Code)
	}
	if _, ok := f.registry.Get("gf-bad"); ok {
		t.Error("invalid geofence should not be stored")
	}
}

func TestListGeofencesByAttribute(t *testing.T) {
	f := newFixture(t)
	mustUpsert(t, f.registry, &domain.Geofence{
		ID: "gf-ke", Name: "Kenya Yard", Kind: domain.GeofenceCircle,
		Center: &domain.LatLng{Lat: -1.29, Lng: 36.82}, RadiusMeters: 1000,
		Attributes: map[string]any{"country": "KE"},
	})
	mustUpsert(t, f.registry, &domain.Geofence{
		ID: "gf-tz", Name: "Tanzania Yard", Kind: domain.GeofenceCircle,
		Center: &domain.LatLng{Lat: -6.79, Lng: 39.21}, RadiusMeters: 1000,
		Attributes: map[string]any{"country": "TZ"},
	})

	rec := f.do(t, http.MethodGet, "/v1/geofences?attribute=country:KE", "")
	var resp GeofencesResponse
	decode(t, rec, &resp)
	if resp.Count != 1 || resp.Geofences[0].ID != "gf-ke" {
		t.Errorf("attribute filter failed: %+v", resp)
	}

	if rec := f.do(t, http.MethodGet, "/v1/geofences?attribute=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed filter, got %d", rec.Code)
	}
}

func TestTrucksInGeofence(t *testing.T) {
	f := newFixture(t)
	fence := &domain.Geofence{
		ID: "gf-yard", Name: "Nairobi Yard", Kind: domain.GeofenceCircle,
		Center: &domain.LatLng{Lat: -1.2921, Lng: 36.8219}, RadiusMeters: 5000,
	}
	mustUpsert(t, f.registry, fence)
	f.tracker.Update("truck-1", domain.Position{Latitude: -1.2921, Longitude: 36.8219, Timestamp: time.Now()},
		[]*domain.Geofence{fence}, "")

	rec := f.do(t, http.MethodGet, "/v1/geofences/gf-yard/trucks", "")
	var resp GeofenceOccupancyResponse
	decode(t, rec, &resp)
	if resp.Count != 1 || resp.Trucks[0] != "truck-1" {
		t.Errorf("unexpected occupancy: %+v", resp)
	}

	if rec := f.do(t, http.MethodGet, "/v1/geofences/gf-none/trucks", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestJourneyLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/journeys", `{"entityId": "truck-1", "corridorId": "nbo-msa"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var list JourneysResponse
	decode(t, f.do(t, http.MethodGet, "/v1/journeys", ""), &list)
	if list.Count != 1 || list.Journeys[0].EntityID != "truck-1" {
		t.Errorf("unexpected journeys: %+v", list)
	}
	if list.Journeys[0].ShipmentID == "" {
		t.Error("shipment id should be generated when omitted")
	}

	if rec := f.do(t, http.MethodDelete, "/v1/journeys/truck-1", ""); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/v1/journeys/truck-1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat delete, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/journeys", `{"entityId": "truck-1", "corridorId": "nowhere"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown corridor, got %d", rec.Code)
	}
}

func TestGetTruckLocation(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.StartJourney("truck-1", "nbo-msa", 60, ""); err != nil {
		t.Fatal(err)
	}

	at := time.Now().Add(30 * time.Minute).Format(time.RFC3339)
	rec := f.do(t, http.MethodGet, "/v1/trucks/truck-1/location?at="+at, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var s domain.GPSSample
	decode(t, rec, &s)
	if s.EntityID != "truck-1" {
		t.Errorf("unexpected sample: %+v", s)
	}

	if rec := f.do(t, http.MethodGet, "/v1/trucks/truck-1/location?at=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad timestamp, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/trucks/truck-9/location", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown truck, got %d", rec.Code)
	}
}

func TestAlertsEndpoints(t *testing.T) {
	f := newFixture(t)
	f.engine.RaiseAlert(domain.AlertIdleTimeout, "truck-1", "ship-1", nil)

	var resp AlertsResponse
	decode(t, f.do(t, http.MethodGet, "/v1/alerts", ""), &resp)
	if resp.Count != 1 || resp.Alerts[0].Kind != domain.AlertIdleTimeout {
		t.Errorf("unexpected alerts: %+v", resp)
	}

	var stats alert.Stats
	decode(t, f.do(t, http.MethodGet, "/v1/alerts/stats", ""), &stats)
	if stats.Total != 1 || stats.BySeverity["critical"] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if rec := f.do(t, http.MethodGet, "/v1/alerts?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before first tick, got %d", rec.Code)
	}
	var ready ReadyResponse
	decode(t, rec, &ready)
	if ready.Ready {
		t.Error("ready flag should be false")
	}
}

func mustUpsert(t *testing.T, reg *registry.Registry, g *domain.Geofence) {
	t.Helper()
	if err := reg.Upsert(g); err != nil {
		t.Fatal(err)
	}
}
