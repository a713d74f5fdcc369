// Package tracker detects geofence boundary crossings by diffing an
// entity's region membership set across successive position samples.
package tracker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"freightwatch/internal/domain"
	"freightwatch/internal/geo"
)

// State is the per-entity membership double-buffer. Created lazily on the
// first sample for an entity and shifted on every update.
type State struct {
	EntityID   string
	Current    map[string]struct{}
	Previous   map[string]struct{}
	LastUpdate time.Time

	// names remembers display names of fences the entity has been inside,
	// so an exit can still be labelled after the fence list changed
	names map[string]string
}

// Tracker owns the border-crossing state for one fleet. Instantiate one
// per deployment (or per test); there is no package-level state.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*State
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Tracker {
	return &Tracker{
		states: make(map[string]*State),
		logger: logger.With("component", "border_tracker"),
		now:    time.Now,
	}
}

// Update computes the entity's fresh membership set, emits one event per
// fence entered or exited since the previous recorded sample, and shifts
// the state buffers. An unknown entity gets a zero state implicitly. An
// empty fence list still shifts state to the empty set, so fences
// introduced later trigger proper entered events.
//
// No dwell-time debounce is applied: a sample oscillating across a
// boundary fires an event per transition.
func (t *Tracker) Update(entityID string, pos domain.Position, fences []*domain.Geofence, shipmentID string) []domain.GeofenceEvent {
	fresh := make(map[string]struct{}, len(fences))
	nameByID := make(map[string]string, len(fences))
	for _, g := range fences {
		inside, err := contains(g, pos)
		if err != nil {
			t.logger.Warn("skipping geofence with bad geometry", "geofence_id", g.ID, "error", err)
			continue
		}
		nameByID[g.ID] = g.Name
		if inside {
			fresh[g.ID] = struct{}{}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[entityID]
	if !ok {
		state = &State{
			EntityID: entityID,
			Current:  make(map[string]struct{}),
			Previous: make(map[string]struct{}),
			names:    make(map[string]string),
		}
		t.states[entityID] = state
	}

	// shift the double-buffer, then diff against the set recorded on the
	// previous call
	state.Previous = state.Current
	state.Current = fresh
	state.LastUpdate = t.now()

	ts := pos.Timestamp
	if ts.IsZero() {
		ts = state.LastUpdate
	}

	var events []domain.GeofenceEvent
	for _, id := range sortedKeys(fresh) {
		if _, was := state.Previous[id]; !was {
			state.names[id] = nameByID[id]
			events = append(events, t.event(id, nameByID[id], entityID, shipmentID, domain.EventEntered, pos, ts))
		}
	}
	for _, id := range sortedKeys(state.Previous) {
		if _, still := fresh[id]; !still {
			name, ok := nameByID[id]
			if !ok {
				name = state.names[id]
			}
			delete(state.names, id)
			events = append(events, t.event(id, name, entityID, shipmentID, domain.EventExited, pos, ts))
		}
	}
	return events
}

func (t *Tracker) event(geofenceID, name, entityID, shipmentID string, kind domain.EventKind, pos domain.Position, ts time.Time) domain.GeofenceEvent {
	t.logger.Info("border crossing",
		"entity_id", entityID,
		"geofence_id", geofenceID,
		"kind", kind,
	)
	return domain.GeofenceEvent{
		GeofenceID:   geofenceID,
		GeofenceName: name,
		EntityID:     entityID,
		ShipmentID:   shipmentID,
		Kind:         kind,
		Location:     pos,
		Timestamp:    ts,
	}
}

func contains(g *domain.Geofence, pos domain.Position) (bool, error) {
	p := domain.LatLng{Lat: pos.Latitude, Lng: pos.Longitude}
	switch g.Kind {
	case domain.GeofenceCircle:
		return geo.PointInCircle(p, *g.Center, g.RadiusMeters)
	case domain.GeofencePolygon:
		return geo.PointInPolygon(p, g.Rings)
	default:
		return false, domain.ErrInvalidGeometry
	}
}

// TrucksInGeofence scans current membership for entities inside the fence
func (t *Tracker) TrucksInGeofence(geofenceID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for entityID, state := range t.states {
		if _, ok := state.Current[geofenceID]; ok {
			ids = append(ids, entityID)
		}
	}
	sort.Strings(ids)
	return ids
}

// PruneStale removes entities whose last update is older than maxAge and
// returns the number removed
func (t *Tracker) PruneStale(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	removed := 0
	for id, state := range t.states {
		if state.LastUpdate.Before(cutoff) {
			delete(t.states, id)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Info("pruned stale border states", "count", removed)
	}
	return removed
}

// Reset drops the state for one entity
func (t *Tracker) Reset(entityID string) {
	t.mu.Lock()
	delete(t.states, entityID)
	t.mu.Unlock()
}

// ResetAll drops every entity's state
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	t.states = make(map[string]*State)
	t.mu.Unlock()
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
