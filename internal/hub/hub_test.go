package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"freightwatch/internal/alert"
	"freightwatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func recv(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Envelope{}
	}
}

func expectSilence(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRoomIsolation(t *testing.T) {
	h := runHub(t)

	a := NewClient("conn-a", "user-a", nil, 8)
	b := NewClient("conn-b", "user-b", nil, 8)
	h.Register(a)
	h.Register(b)
	h.Subscribe(a, []string{RoomTruck("A")})
	h.Subscribe(b, []string{RoomTruck("B")})

	h.Publish([]string{RoomTruck("B")}, "gps", map[string]string{"entityId": "B"})

	env := recv(t, b)
	if env.Type != "gps" {
		t.Errorf("expected gps, got %q", env.Type)
	}
	expectSilence(t, a)
}

func TestOverlappingRoomsDeliverOnce(t *testing.T) {
	h := runHub(t)

	c := NewClient("conn-1", "user-1", nil, 8)
	h.Register(c)
	h.Subscribe(c, []string{RoomFleet, RoomShipment("s1")})

	h.BroadcastGPS(domain.GPSSample{EntityID: "truck-1", ShipmentID: "s1"})

	if env := recv(t, c); env.Type != "gps" {
		t.Errorf("expected gps, got %q", env.Type)
	}
	expectSilence(t, c)
}

func TestBroadcastGPSWithoutShipment(t *testing.T) {
	h := runHub(t)

	fleet := NewClient("conn-1", "user-1", nil, 8)
	ship := NewClient("conn-2", "user-2", nil, 8)
	h.Register(fleet)
	h.Register(ship)
	h.Subscribe(fleet, []string{RoomFleet})
	h.Subscribe(ship, []string{RoomShipment("s1")})

	h.BroadcastGPS(domain.GPSSample{EntityID: "truck-1"})

	if env := recv(t, fleet); env.Type != "gps" {
		t.Errorf("expected gps, got %q", env.Type)
	}
	expectSilence(t, ship)
}

func TestBroadcastAlertReachesPersonalRoom(t *testing.T) {
	h := runHub(t)

	driver := NewClient("conn-1", "user-7", []domain.Role{domain.RoleDriver}, 8)
	truckWatcher := NewClient("conn-2", "user-2", nil, 8)
	h.Register(driver)
	h.Register(truckWatcher)
	h.Subscribe(driver, []string{RoomUser("user-7")})
	h.Subscribe(truckWatcher, []string{RoomTruck("truck-1")})

	a := domain.Alert{ID: "a1", Kind: domain.AlertGeofenceEntered, EntityID: "truck-1"}
	h.BroadcastAlert(a, alert.Recipients{UserIDs: []string{"user-7"}})

	if env := recv(t, driver); env.Type != "alert" {
		t.Errorf("driver expected alert, got %q", env.Type)
	}
	if env := recv(t, truckWatcher); env.Type != "alert" {
		t.Errorf("watcher expected alert, got %q", env.Type)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := runHub(t)

	c := NewClient("conn-1", "user-1", nil, 8)
	h.Register(c)
	h.Subscribe(c, []string{RoomTruck("A")})
	h.Unsubscribe(c, []string{RoomTruck("A")})

	h.Publish([]string{RoomTruck("A")}, "gps", nil)
	expectSilence(t, c)

	if c.HasRoom(RoomTruck("A")) {
		t.Error("client still reports membership")
	}
}

func TestDisconnectReleasesRooms(t *testing.T) {
	h := runHub(t)

	c := NewClient("conn-1", "user-1", nil, 8)
	h.Register(c)
	h.Subscribe(c, []string{RoomTruck("A"), RoomFleet})

	h.Unregister(c)

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 0 || h.RoomCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("rooms not released: clients=%d rooms=%d", h.ClientCount(), h.RoomCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Send is closed on unregister
	if _, ok := <-c.Send; ok {
		t.Error("expected closed send channel")
	}
}

// A client that disconnects right after connecting must still release its
// memberships: registration is synchronous, so the unregister can never be
// handled before the hub knows the client.
func TestImmediateDisconnectReleasesRooms(t *testing.T) {
	h := runHub(t)

	c := NewClient("conn-1", "user-7", nil, 8)
	h.Register(c)
	h.Subscribe(c, []string{RoomUser("user-7")})
	h.Unregister(c)

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 0 || h.RoomCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("room membership leaked: clients=%d rooms=%d", h.ClientCount(), h.RoomCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := <-c.Send; ok {
		t.Error("expected closed send channel")
	}
}

func TestSplitRoom(t *testing.T) {
	kind, id := SplitRoom(RoomShipment("s1"))
	if kind != "shipment" || id != "s1" {
		t.Errorf("got %q %q", kind, id)
	}
	kind, id = SplitRoom(RoomFleet)
	if kind != "fleet" || id != "" {
		t.Errorf("got %q %q", kind, id)
	}
}
