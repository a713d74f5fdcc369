package domain

// Waypoint is a named point along a freight corridor
type Waypoint struct {
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Corridor is an ordered polyline of waypoints describing a freight route.
// Reference data: curated externally, read-only here.
type Corridor struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Waypoints []Waypoint `json:"waypoints"`
}

// Validate rejects corridors too short to simulate
func (c *Corridor) Validate() error {
	if len(c.Waypoints) < 2 {
		return ErrCorridorTooShort
	}
	return nil
}

// JourneyState tracks a simulated vehicle's progress along a corridor.
// Owned by the journey simulator; mutated only on ticks.
type JourneyState struct {
	EntityID        string  `json:"entityId"`
	CorridorID      string  `json:"corridorId"`
	WaypointIndex   int     `json:"waypointIndex"`
	SegmentProgress float64 `json:"segmentProgress"`
	SpeedKmh        float64 `json:"speedKmh"`
}
