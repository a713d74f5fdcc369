// Package hub is the realtime distribution layer: authenticated clients
// join named rooms and receive GPS samples and alerts published into
// them. Delivery is at-most-once and best-effort; nothing is persisted or
// replayed, a slow subscriber is skipped rather than allowed to stall the
// publisher.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"freightwatch/internal/alert"
	"freightwatch/internal/domain"
)

// Client is one authenticated connection and the set of rooms it joined
type Client struct {
	ID     string
	UserID string
	Roles  []domain.Role
	Send   chan []byte

	rooms map[string]struct{}
	mu    sync.RWMutex
}

func NewClient(id, userID string, roles []domain.Role, bufferSize int) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Roles:  roles,
		Send:   make(chan []byte, bufferSize),
		rooms:  make(map[string]struct{}),
	}
}

func (c *Client) HasRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) addRooms(rooms []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rooms {
		c.rooms[r] = struct{}{}
	}
}

func (c *Client) removeRooms(rooms []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rooms {
		delete(c.rooms, r)
	}
}

func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Envelope is the wire message shape pushed to subscribers
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type publication struct {
	rooms []string
	data  []byte
}

type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	roomClients map[string]map[*Client]struct{}

	unregister chan *Client
	publishCh  chan publication

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		roomClients: make(map[string]map[*Client]struct{}),
		unregister:  make(chan *Client, 16),
		publishCh:   make(chan publication, 256),
		logger:      logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.unregister:
			h.removeClient(client)

		case pub := <-h.publishCh:
			h.fanout(pub)
		}
	}
}

// Subscribe adds the client to rooms. Membership is additive; a client
// may belong to any number of rooms at once.
func (h *Hub) Subscribe(client *Client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.addRooms(rooms)
	for _, room := range rooms {
		if h.roomClients[room] == nil {
			h.roomClients[room] = make(map[*Client]struct{})
		}
		h.roomClients[room][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.removeRooms(rooms)
	for _, room := range rooms {
		h.dropFromRoom(client, room)
	}
}

// Publish delivers an event to every current member of the given rooms,
// at most once per client even when rooms overlap. The handoff is
// non-blocking: if the publish queue is full the event is dropped.
func (h *Hub) Publish(rooms []string, eventType string, payload any) {
	if len(rooms) == 0 {
		return
	}
	data, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal publication", "type", eventType, "error", err)
		return
	}

	select {
	case h.publishCh <- publication{rooms: rooms, data: data}:
	default:
		h.logger.Warn("publish queue full, dropping event", "type", eventType, "rooms", rooms)
	}
}

// BroadcastGPS publishes a sample to the fleet room and, when the sample
// belongs to a shipment, to that shipment's room
func (h *Hub) BroadcastGPS(sample domain.GPSSample) {
	rooms := []string{RoomFleet}
	if sample.ShipmentID != "" {
		rooms = append(rooms, RoomShipment(sample.ShipmentID))
	}
	h.Publish(rooms, "gps", sample)
}

// BroadcastAlert publishes an alert to its broadcast rooms plus each
// recipient's personal room
func (h *Hub) BroadcastAlert(a domain.Alert, rec alert.Recipients) {
	rooms := alert.BroadcastRooms(a)
	for _, userID := range rec.UserIDs {
		rooms = append(rooms, RoomUser(userID))
	}
	h.Publish(rooms, "alert", a)
}

// Register is synchronous so the client is known to the hub before any
// subscribe or unregister can be observed. A disconnect that races the
// connect can therefore never be processed ahead of the registration and
// leave room memberships behind.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client registered", "client_id", client.ID, "user_id", client.UserID)
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roomClients)
}

func (h *Hub) fanout(pub publication) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := make(map[*Client]struct{})
	for _, room := range pub.rooms {
		for client := range h.roomClients[room] {
			if _, done := delivered[client]; done {
				continue
			}
			delivered[client] = struct{}{}

			select {
			case client.Send <- pub.data:
			default:
				h.logger.Debug("client send buffer full, dropping", "client_id", client.ID)
			}
		}
	}
}

// removeClient releases every room membership; no state survives the
// connection
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	for _, room := range client.Rooms() {
		h.dropFromRoom(client, room)
	}
	delete(h.clients, client)
	close(client.Send)
	h.logger.Debug("client unregistered", "client_id", client.ID, "remaining", len(h.clients))
}

// dropFromRoom assumes h.mu is held
func (h *Hub) dropFromRoom(client *Client, room string) {
	if h.roomClients[room] == nil {
		return
	}
	delete(h.roomClients[room], client)
	if len(h.roomClients[room]) == 0 {
		delete(h.roomClients, room)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
	h.roomClients = make(map[string]map[*Client]struct{})
}
