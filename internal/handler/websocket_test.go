package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"freightwatch/internal/auth"
	"freightwatch/internal/domain"
	"freightwatch/internal/hub"
	"freightwatch/internal/store"
)

func startWSServer(t *testing.T) (*httptest.Server, *hub.Hub, *store.FleetStore, *auth.HMACVerifier) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	wsHub := hub.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go wsHub.Run(ctx)
	t.Cleanup(cancel)

	fleet := store.New(time.Hour)
	verifier := auth.NewHMACVerifier("test-secret")
	wsHandler := NewWSHandler(wsHub, fleet, verifier, 2*time.Second, logger)

	srv := httptest.NewServer(http.HandlerFunc(wsHandler.ServeWS))
	t.Cleanup(srv.Close)

	return srv, wsHub, fleet, verifier
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := WSMessage{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		msg.Payload = data
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatal(err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestWebSocketAuthFlow(t *testing.T) {
	srv, wsHub, fleet, verifier := startWSServer(t)

	fleet.Update(domain.GPSSample{
		EntityID:  "truck-1",
		Latitude:  -1.29,
		Longitude: 36.82,
		Timestamp: time.Now(),
	})

	conn := dial(t, srv)
	token := verifier.Sign("user-7", []domain.Role{domain.RoleDispatcher})
	sendMsg(t, conn, "auth", AuthPayload{Token: token})

	msg := readMsg(t, conn)
	if msg.Type != "auth_ok" {
		t.Fatalf("expected auth_ok, got %q", msg.Type)
	}
	var ok AuthOKPayload
	if err := json.Unmarshal(msg.Payload, &ok); err != nil {
		t.Fatal(err)
	}
	if ok.UserID != "user-7" {
		t.Errorf("unexpected identity: %+v", ok)
	}

	sendMsg(t, conn, "subscribe", SubscribePayload{Rooms: []string{hub.RoomFleet}})
	msg = readMsg(t, conn)
	if msg.Type != "snapshot" {
		t.Fatalf("expected snapshot, got %q", msg.Type)
	}
	var snap SnapshotPayload
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Trucks) != 1 || snap.Trucks[0].EntityID != "truck-1" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	wsHub.BroadcastGPS(domain.GPSSample{EntityID: "truck-2", Timestamp: time.Now()})
	msg = readMsg(t, conn)
	if msg.Type != "gps" {
		t.Errorf("expected gps broadcast, got %q", msg.Type)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv, _, _, _ := startWSServer(t)

	conn := dial(t, srv)
	sendMsg(t, conn, "auth", AuthPayload{Token: "garbage"})

	msg := readMsg(t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected error message, got %q", msg.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("connection should be closed after auth failure")
	}
}

func TestWebSocketRequiresAuthFirst(t *testing.T) {
	srv, _, _, _ := startWSServer(t)

	conn := dial(t, srv)
	sendMsg(t, conn, "subscribe", SubscribePayload{Rooms: []string{hub.RoomFleet}})

	msg := readMsg(t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected error message, got %q", msg.Type)
	}
}

func TestWebSocketDropsSilentConnection(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	wsHub := hub.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go wsHub.Run(ctx)
	t.Cleanup(cancel)

	verifier := auth.NewHMACVerifier("test-secret")
	wsHandler := NewWSHandler(wsHub, store.New(time.Hour), verifier, 200*time.Millisecond, logger)

	srv := httptest.NewServer(http.HandlerFunc(wsHandler.ServeWS))
	t.Cleanup(srv.Close)

	conn := dial(t, srv)

	// send nothing; the server must give up once the auth window elapses
	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()

	for {
		if _, _, err := conn.Read(readCtx); err != nil {
			if readCtx.Err() != nil {
				t.Fatal("connection still open after the auth timeout")
			}
			return
		}
	}
}

func TestWebSocketPing(t *testing.T) {
	srv, _, _, verifier := startWSServer(t)

	conn := dial(t, srv)
	sendMsg(t, conn, "auth", AuthPayload{Token: verifier.Sign("user-1", nil)})
	if msg := readMsg(t, conn); msg.Type != "auth_ok" {
		t.Fatalf("expected auth_ok, got %q", msg.Type)
	}

	sendMsg(t, conn, "ping", nil)
	if msg := readMsg(t, conn); msg.Type != "pong" {
		t.Errorf("expected pong, got %q", msg.Type)
	}
}
