package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"freightwatch/internal/auth"
	"freightwatch/internal/domain"
	"freightwatch/internal/hub"
	"freightwatch/internal/store"
)

type WSHandler struct {
	hub         *hub.Hub
	fleet       *store.FleetStore
	verifier    auth.TokenVerifier
	authTimeout time.Duration
	logger      *slog.Logger
}

func NewWSHandler(h *hub.Hub, fleet *store.FleetStore, verifier auth.TokenVerifier, authTimeout time.Duration, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:         h,
		fleet:       fleet,
		verifier:    verifier,
		authTimeout: authTimeout,
		logger:      logger,
	}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type AuthOKPayload struct {
	UserID string        `json:"userId"`
	Roles  []domain.Role `json:"roles"`
}

type SubscribePayload struct {
	Rooms []string `json:"rooms"`
}

type SnapshotPayload struct {
	Trucks []domain.GPSSample `json:"trucks"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	identity, err := h.authenticate(ctx, conn)
	if err != nil {
		h.logger.Debug("websocket auth rejected", "error", err)
		h.send(ctx, conn, WSMessage{Type: "error"}, ErrorPayload{Message: "authentication failed"})
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), identity.Subject, identity.Roles, 256)

	h.hub.Register(client)
	h.hub.Subscribe(client, []string{hub.RoomUser(identity.Subject)})

	h.send(ctx, conn, WSMessage{Type: "auth_ok"}, AuthOKPayload{
		UserID: identity.Subject,
		Roles:  identity.Roles,
	})

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

// authenticate waits for the mandatory first message carrying a token.
// Anything else, or silence past the deadline, closes the connection.
func (h *WSHandler) authenticate(ctx context.Context, conn *websocket.Conn) (auth.Identity, error) {
	authCtx, cancel := context.WithTimeout(ctx, h.authTimeout)
	defer cancel()

	_, data, err := conn.Read(authCtx)
	if err != nil {
		return auth.Identity{}, err
	}

	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return auth.Identity{}, err
	}
	if msg.Type != "auth" {
		return auth.Identity{}, domain.ErrAuthenticationFailed
	}

	var payload AuthPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return auth.Identity{}, err
	}

	return h.verifier.Verify(payload.Token)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			var payload SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if len(payload.Rooms) > 0 {
				h.hub.Subscribe(client, payload.Rooms)
				h.sendSnapshot(client, payload.Rooms)
			}

		case "unsubscribe":
			var payload SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if len(payload.Rooms) > 0 {
				h.hub.Unsubscribe(client, payload.Rooms)
			}

		case "ping":
			h.enqueue(client, WSMessage{Type: "pong"}, nil)
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// sendSnapshot delivers the current positions for the freshly joined rooms
// so clients render immediately instead of waiting for the next tick
func (h *WSHandler) sendSnapshot(client *hub.Client, rooms []string) {
	trucks := h.fleet.SnapshotForRooms(rooms)
	h.enqueue(client, WSMessage{Type: "snapshot"}, SnapshotPayload{Trucks: trucks})
}

func (h *WSHandler) enqueue(client *hub.Client, msg WSMessage, payload any) {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Payload = data
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case client.Send <- data:
	default:
		h.logger.Debug("client buffer full, dropping message", "client_id", client.ID, "type", msg.Type)
	}
}

// send writes directly on the connection, used before the write loop starts
func (h *WSHandler) send(ctx context.Context, conn *websocket.Conn, msg WSMessage, payload any) {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Payload = data
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn.Write(writeCtx, websocket.MessageText, data)
}
