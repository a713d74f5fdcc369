package alert

import (
	"testing"
	"time"

	"freightwatch/internal/domain"
)

type mapOwners map[string]string

func (m mapOwners) DriverFor(entityID string) (string, bool) {
	id, ok := m[entityID]
	return id, ok
}

func geofenceEvent(kind domain.EventKind) domain.GeofenceEvent {
	return domain.GeofenceEvent{
		GeofenceID:   "gf-namanga",
		GeofenceName: "Namanga Border",
		EntityID:     "truck-1",
		ShipmentID:   "ship-9",
		Kind:         kind,
		Location:     domain.Position{Latitude: -2.545, Longitude: 36.79},
		Timestamp:    time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestSeverityTable(t *testing.T) {
	cases := map[domain.AlertKind]domain.Severity{
		domain.AlertGeofenceEntered: domain.SeverityMedium,
		domain.AlertGeofenceExited:  domain.SeverityLow,
		domain.AlertSpeedViolation:  domain.SeverityHigh,
		domain.AlertOffline:         domain.SeverityHigh,
		domain.AlertIdleTimeout:     domain.SeverityCritical,
	}
	for kind, want := range cases {
		if got := SeverityFor(kind); got != want {
			t.Errorf("%s: expected %s, got %s", kind, want, got)
		}
	}
}

func TestFromGeofenceEvent(t *testing.T) {
	p := NewPipeline(nil)

	entered := p.FromGeofenceEvent(geofenceEvent(domain.EventEntered))
	if entered.Kind != domain.AlertGeofenceEntered || entered.Severity != domain.SeverityMedium {
		t.Errorf("unexpected entered alert: %+v", entered)
	}
	if entered.Message != "truck-1 entered Namanga Border" {
		t.Errorf("unexpected message: %q", entered.Message)
	}
	if entered.ID == "" {
		t.Error("alert must get an id")
	}
	if entered.Location == nil || entered.Location.Latitude != -2.545 {
		t.Errorf("alert should carry the event location, got %+v", entered.Location)
	}
	if !entered.CreatedAt.Equal(geofenceEvent(domain.EventEntered).Timestamp) {
		t.Errorf("alert should inherit the event timestamp")
	}

	exited := p.FromGeofenceEvent(geofenceEvent(domain.EventExited))
	if exited.Kind != domain.AlertGeofenceExited || exited.Severity != domain.SeverityLow {
		t.Errorf("unexpected exited alert: %+v", exited)
	}
	if exited.Message != "truck-1 exited Namanga Border" {
		t.Errorf("unexpected message: %q", exited.Message)
	}
}

func TestRecipients(t *testing.T) {
	opsRoles := map[domain.Role]bool{
		domain.RoleFleetManager: true,
		domain.RoleDispatcher:   true,
		domain.RoleAdmin:        true,
	}

	p := NewPipeline(mapOwners{"truck-1": "user-7"})
	a := p.FromGeofenceEvent(geofenceEvent(domain.EventEntered))

	r := p.Recipients(a)
	for role := range opsRoles {
		found := false
		for _, got := range r.Roles {
			if got == role {
				found = true
			}
		}
		if !found {
			t.Errorf("missing role %s", role)
		}
	}
	if len(r.UserIDs) != 1 || r.UserIDs[0] != "user-7" {
		t.Errorf("expected owning driver user-7, got %v", r.UserIDs)
	}

	// entity without an owning driver routes no driver
	b := a
	b.EntityID = "truck-2"
	r = p.Recipients(b)
	if len(r.UserIDs) != 0 {
		t.Errorf("expected no driver users, got %v", r.UserIDs)
	}
	for _, role := range r.Roles {
		if role == domain.RoleDriver {
			t.Error("driver role must not be included without ownership")
		}
	}
}

func TestBroadcastRooms(t *testing.T) {
	p := NewPipeline(nil)
	a := p.FromGeofenceEvent(geofenceEvent(domain.EventEntered))

	rooms := BroadcastRooms(a)
	if len(rooms) != 2 || rooms[0] != "truck:truck-1" || rooms[1] != "shipment:ship-9" {
		t.Errorf("unexpected rooms: %v", rooms)
	}

	a.ShipmentID = ""
	rooms = BroadcastRooms(a)
	if len(rooms) != 1 || rooms[0] != "truck:truck-1" {
		t.Errorf("expected only the truck room, got %v", rooms)
	}
}

func TestGroupAndStats(t *testing.T) {
	p := NewPipeline(nil)
	now := time.Now()

	alerts := []domain.Alert{
		p.FromGeofenceEvent(geofenceEvent(domain.EventEntered)),
		p.FromGeofenceEvent(geofenceEvent(domain.EventExited)),
		p.NewAlert(domain.AlertIdleTimeout, "truck-3", "", nil, now),
	}
	alerts[1].IsRead = true

	grouped := GroupBySeverity(alerts)
	if len(grouped[domain.SeverityMedium]) != 1 || len(grouped[domain.SeverityLow]) != 1 || len(grouped[domain.SeverityCritical]) != 1 {
		t.Errorf("unexpected grouping: %v", grouped)
	}

	stats := ComputeStats(alerts)
	if stats.Total != 3 || stats.Unread != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.BySeverity["critical"] != 1 || stats.BySeverity["medium"] != 1 {
		t.Errorf("unexpected severity counts: %v", stats.BySeverity)
	}
}

func TestFilterForRole(t *testing.T) {
	p := NewPipeline(mapOwners{"truck-1": "user-7"})
	alerts := []domain.Alert{
		p.FromGeofenceEvent(geofenceEvent(domain.EventEntered)),
		p.NewAlert(domain.AlertOffline, "truck-2", "", nil, time.Now()),
	}

	if got := p.FilterForRole(alerts, []domain.Role{domain.RoleDispatcher}); len(got) != 2 {
		t.Errorf("dispatcher should see all alerts, got %d", len(got))
	}

	// a driver only sees alerts for entities they own
	got := p.FilterForRole(alerts, []domain.Role{domain.RoleDriver})
	if len(got) != 1 || got[0].EntityID != "truck-1" {
		t.Errorf("driver should see only owned alerts, got %+v", got)
	}

	if got := p.FilterForRole(alerts, nil); len(got) != 0 {
		t.Errorf("no roles should see nothing, got %d", len(got))
	}
}
