package domain

import "time"

// AlertKind discriminates alert triggers
type AlertKind string

const (
	AlertGeofenceEntered AlertKind = "geofence_entered"
	AlertGeofenceExited  AlertKind = "geofence_exited"
	AlertSpeedViolation  AlertKind = "speed_violation"
	AlertIdleTimeout     AlertKind = "idle_timeout"
	AlertOffline         AlertKind = "offline"
)

// Severity orders alerts for routing and display
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Role identifies a recipient class for alert routing
type Role string

const (
	RoleFleetManager Role = "fleet_manager"
	RoleDispatcher   Role = "dispatcher"
	RoleAdmin        Role = "admin"
	RoleDriver       Role = "driver"
)

// Alert is a severity-classified notification derived from a tracker event
// or an externally supplied trigger. Only IsRead and AcknowledgedAt change
// after creation.
type Alert struct {
	ID             string     `json:"id"`
	Kind           AlertKind  `json:"kind"`
	Severity       Severity   `json:"severity"`
	GeofenceID     string     `json:"geofenceId,omitempty"`
	EntityID       string     `json:"entityId"`
	ShipmentID     string     `json:"shipmentId,omitempty"`
	Message        string     `json:"message"`
	Location       *Position  `json:"location,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	IsRead         bool       `json:"isRead"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}
