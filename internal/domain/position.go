package domain

import (
	"fmt"
	"math"
	"time"
)

// Position is a timestamped GPS fix
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks coordinate ranges
func (p Position) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %.5f out of range [-90,90]", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %.5f out of range [-180,180]", p.Longitude)
	}
	return nil
}

// Round5 rounds a coordinate to five decimal places, the wire precision
// used for all emitted lat/lng values (~1.1 m at the equator).
func Round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

// GPSSample is one telemetry reading emitted for a tracked entity
type GPSSample struct {
	EntityID         string    `json:"entityId"`
	ShipmentID       string    `json:"shipmentId,omitempty"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	AccuracyMeters   float64   `json:"accuracyMeters,omitempty"`
	HeadingDegrees   float64   `json:"headingDegrees"`
	SpeedKmh         float64   `json:"speedKmh"`
	AltitudeMeters   float64   `json:"altitudeMeters,omitempty"`
	BatteryPercent   float64   `json:"batteryPercent,omitempty"`
	IsOfflineBacklog bool      `json:"isOfflineBacklog"`
	Timestamp        time.Time `json:"timestamp"`
}

// Position returns the sample's location as a Position
func (s *GPSSample) Position() Position {
	return Position{Latitude: s.Latitude, Longitude: s.Longitude, Timestamp: s.Timestamp}
}
