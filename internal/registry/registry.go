// Package registry holds validated geofence definitions. A geofence is
// either valid and stored or rejected and absent; partially valid input
// never enters the registry.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"freightwatch/internal/domain"
)

type Registry struct {
	mu     sync.RWMutex
	fences map[string]*domain.Geofence
	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		fences: make(map[string]*domain.Geofence),
		logger: logger.With("component", "geofence_registry"),
	}
}

// Validate enforces the data model invariants: a polygon geofence needs at
// least three distinct vertices per ring, a circle needs a center and a
// positive radius.
func Validate(g *domain.Geofence) error {
	if g.ID == "" {
		return fmt.Errorf("%w: missing id", domain.ErrInvalidGeometry)
	}
	switch g.Kind {
	case domain.GeofencePolygon:
		if len(g.Rings) == 0 {
			return fmt.Errorf("%w: polygon %q has no rings", domain.ErrInvalidGeometry, g.ID)
		}
		for i, ring := range g.Rings {
			if distinctVertices(ring) < 3 {
				return fmt.Errorf("%w: polygon %q ring %d has fewer than 3 distinct vertices", domain.ErrInvalidGeometry, g.ID, i)
			}
		}
	case domain.GeofenceCircle:
		if g.Center == nil {
			return fmt.Errorf("%w: circle %q has no center", domain.ErrInvalidGeometry, g.ID)
		}
		if g.RadiusMeters <= 0 {
			return fmt.Errorf("%w: circle %q radius must be positive", domain.ErrInvalidGeometry, g.ID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidGeometry, g.Kind)
	}
	return nil
}

func distinctVertices(ring []domain.LatLng) int {
	seen := make(map[domain.LatLng]struct{}, len(ring))
	for _, v := range ring {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// Upsert validates and stores a deep copy of g. Concurrent upserts to the
// same id are last-write-wins; the registry keeps no version history.
func (r *Registry) Upsert(g *domain.Geofence) error {
	if err := Validate(g); err != nil {
		return err
	}

	r.mu.Lock()
	r.fences[g.ID] = g.Clone()
	r.mu.Unlock()

	r.logger.Debug("geofence upserted", "id", g.ID, "name", g.Name, "kind", g.Kind)
	return nil
}

func (r *Registry) Get(id string) (*domain.Geofence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.fences[id]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.fences, id)
	r.mu.Unlock()
}

// List returns all stored geofences. The returned copies are safe to read
// during a tick without holding the registry lock.
func (r *Registry) List() []*domain.Geofence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Geofence, 0, len(r.fences))
	for _, g := range r.fences {
		result = append(result, g.Clone())
	}
	return result
}

// ListByAttribute returns geofences whose attribute under key formats
// equal to value
func (r *Registry) ListByAttribute(key string, value any) []*domain.Geofence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Geofence
	want := fmt.Sprint(value)
	for _, g := range r.fences {
		if v, ok := g.Attributes[key]; ok && fmt.Sprint(v) == want {
			result = append(result, g.Clone())
		}
	}
	return result
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fences)
}
