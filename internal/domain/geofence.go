package domain

import "time"

// GeofenceKind distinguishes circular from polygonal regions
type GeofenceKind string

const (
	GeofenceCircle  GeofenceKind = "circle"
	GeofencePolygon GeofenceKind = "polygon"
)

// LatLng is a bare WGS-84 coordinate pair
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geofence is a named geographic region. Instances are validated by the
// registry before storage and treated as immutable afterwards: updates
// replace the whole value, never mutate it in place.
type Geofence struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Kind         GeofenceKind   `json:"kind"`
	Rings        [][]LatLng     `json:"rings,omitempty"`
	Center       *LatLng        `json:"center,omitempty"`
	RadiusMeters float64        `json:"radiusMeters,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// Clone returns a deep copy so stored geofences stay immutable
func (g *Geofence) Clone() *Geofence {
	c := *g
	if g.Center != nil {
		center := *g.Center
		c.Center = &center
	}
	if g.Rings != nil {
		c.Rings = make([][]LatLng, len(g.Rings))
		for i, ring := range g.Rings {
			c.Rings[i] = append([]LatLng(nil), ring...)
		}
	}
	if g.Attributes != nil {
		c.Attributes = make(map[string]any, len(g.Attributes))
		for k, v := range g.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// EventKind marks a boundary transition direction
type EventKind string

const (
	EventEntered EventKind = "entered"
	EventExited  EventKind = "exited"
)

// GeofenceEvent records a single boundary transition for one entity.
// Produced only by the border-crossing tracker.
type GeofenceEvent struct {
	GeofenceID   string    `json:"geofenceId"`
	GeofenceName string    `json:"geofenceName"`
	EntityID     string    `json:"entityId"`
	ShipmentID   string    `json:"shipmentId,omitempty"`
	Kind         EventKind `json:"kind"`
	Location     Position  `json:"location"`
	Timestamp    time.Time `json:"timestamp"`
}
