// Package alert classifies tracker events into severity-graded,
// role-routed alerts and decides where they are broadcast.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"freightwatch/internal/domain"
)

// severityTable is the fixed kind-to-severity policy
var severityTable = map[domain.AlertKind]domain.Severity{
	domain.AlertGeofenceEntered: domain.SeverityMedium,
	domain.AlertGeofenceExited:  domain.SeverityLow,
	domain.AlertSpeedViolation:  domain.SeverityHigh,
	domain.AlertOffline:         domain.SeverityHigh,
	domain.AlertIdleTimeout:     domain.SeverityCritical,
}

// SeverityFor returns the fixed severity for an alert kind
func SeverityFor(kind domain.AlertKind) domain.Severity {
	if s, ok := severityTable[kind]; ok {
		return s
	}
	return domain.SeverityLow
}

// OwnershipResolver maps an entity to its driver's user id. Ownership
// lives outside this core; the zero resolver is acceptable and simply
// routes no driver.
type OwnershipResolver interface {
	DriverFor(entityID string) (string, bool)
}

// Recipients names who should see an alert
type Recipients struct {
	Roles   []domain.Role `json:"roles"`
	UserIDs []string      `json:"userIds"`
}

type Pipeline struct {
	owners OwnershipResolver
}

func NewPipeline(owners OwnershipResolver) *Pipeline {
	return &Pipeline{owners: owners}
}

// FromGeofenceEvent is the only constructor for geofence alerts
func (p *Pipeline) FromGeofenceEvent(ev domain.GeofenceEvent) domain.Alert {
	kind := domain.AlertGeofenceEntered
	if ev.Kind == domain.EventExited {
		kind = domain.AlertGeofenceExited
	}

	loc := ev.Location
	a := domain.Alert{
		ID:         uuid.New().String(),
		Kind:       kind,
		Severity:   SeverityFor(kind),
		GeofenceID: ev.GeofenceID,
		EntityID:   ev.EntityID,
		ShipmentID: ev.ShipmentID,
		Location:   &loc,
		CreatedAt:  ev.Timestamp,
	}
	a.Message = FormatMessage(a, ev.GeofenceName)
	return a
}

// NewAlert builds an alert for externally supplied triggers (speed
// violations, offline detection, idle timeouts)
func (p *Pipeline) NewAlert(kind domain.AlertKind, entityID, shipmentID string, loc *domain.Position, at time.Time) domain.Alert {
	a := domain.Alert{
		ID:         uuid.New().String(),
		Kind:       kind,
		Severity:   SeverityFor(kind),
		EntityID:   entityID,
		ShipmentID: shipmentID,
		Location:   loc,
		CreatedAt:  at,
	}
	a.Message = FormatMessage(a, "")
	return a
}

// FormatMessage renders the deterministic, locale-neutral message for an
// alert. regionName may be empty for non-geofence kinds.
func FormatMessage(a domain.Alert, regionName string) string {
	if regionName == "" {
		regionName = a.GeofenceID
	}
	switch a.Kind {
	case domain.AlertGeofenceEntered:
		return fmt.Sprintf("%s entered %s", a.EntityID, regionName)
	case domain.AlertGeofenceExited:
		return fmt.Sprintf("%s exited %s", a.EntityID, regionName)
	case domain.AlertSpeedViolation:
		return fmt.Sprintf("%s exceeded the speed limit", a.EntityID)
	case domain.AlertIdleTimeout:
		return fmt.Sprintf("%s has been idle beyond the allowed window", a.EntityID)
	case domain.AlertOffline:
		return fmt.Sprintf("%s stopped reporting", a.EntityID)
	default:
		return fmt.Sprintf("%s: %s", a.EntityID, a.Kind)
	}
}

// Recipients resolves who receives an alert: the operations roles always,
// the driver only when the entity belongs to them.
func (p *Pipeline) Recipients(a domain.Alert) Recipients {
	r := Recipients{
		Roles: []domain.Role{domain.RoleFleetManager, domain.RoleDispatcher, domain.RoleAdmin},
	}
	if p.owners != nil {
		if userID, ok := p.owners.DriverFor(a.EntityID); ok {
			r.Roles = append(r.Roles, domain.RoleDriver)
			r.UserIDs = append(r.UserIDs, userID)
		}
	}
	return r
}

// BroadcastRooms lists the pub/sub rooms an alert is published to
func BroadcastRooms(a domain.Alert) []string {
	rooms := []string{"truck:" + a.EntityID}
	if a.ShipmentID != "" {
		rooms = append(rooms, "shipment:"+a.ShipmentID)
	}
	return rooms
}

// GroupBySeverity buckets a collection by severity
func GroupBySeverity(alerts []domain.Alert) map[domain.Severity][]domain.Alert {
	grouped := make(map[domain.Severity][]domain.Alert)
	for _, a := range alerts {
		grouped[a.Severity] = append(grouped[a.Severity], a)
	}
	return grouped
}

// FilterForRole keeps the alerts whose recipient roles intersect the given
// roles
func (p *Pipeline) FilterForRole(alerts []domain.Alert, roles []domain.Role) []domain.Alert {
	roleSet := make(map[domain.Role]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	var result []domain.Alert
	for _, a := range alerts {
		for _, r := range p.Recipients(a).Roles {
			if _, ok := roleSet[r]; ok {
				result = append(result, a)
				break
			}
		}
	}
	return result
}

// Stats summarizes an alert collection
type Stats struct {
	Total      int                      `json:"total"`
	Unread     int                      `json:"unread"`
	BySeverity map[string]int           `json:"bySeverity"`
	ByKind     map[domain.AlertKind]int `json:"byKind"`
}

func ComputeStats(alerts []domain.Alert) Stats {
	s := Stats{
		Total:      len(alerts),
		BySeverity: make(map[string]int),
		ByKind:     make(map[domain.AlertKind]int),
	}
	for _, a := range alerts {
		s.BySeverity[a.Severity.String()]++
		s.ByKind[a.Kind]++
		if !a.IsRead {
			s.Unread++
		}
	}
	return s
}
