package handlers

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
)

// Event is one server-to-client push, named per the realtime contract
// (new_session, session_assigned, new_message, typing, seen, transferred,
// ended, agent_status_changed).
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Client is one live websocket connection carrying a verified principal for
// its whole lifetime. Send is drained by the connection's write pump;
// delivery is best-effort: an event to a full buffer is dropped rather than
// blocking the fan-out, and an event racing the disconnect is dropped rather
// than hitting the closed channel.
type Client struct {
	ID   string
	User *models.User
	Conn *websocket.Conn
	Send chan interface{}

	mu     sync.Mutex
	closed bool
}

// deliver and closeSend share c.mu: a broadcast may hold a room snapshot
// taken before the client unregistered, so the closed flag is checked under
// the same lock that closes the channel.
func (c *Client) deliver(event interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- event:
	default:
		log.Printf("client %s send buffer full, dropping event", c.ID)
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Room is the live set of connections subscribed to one session's events.
type Room struct {
	SessionID uint

	mu      sync.RWMutex
	clients map[string]*Client
}

func newRoom(sessionID uint) *Room {
	return &Room{
		SessionID: sessionID,
		clients:   make(map[string]*Client),
	}
}

func (r *Room) add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = client
}

func (r *Room) remove(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, client.ID)
}

func (r *Room) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Size reports the current number of joined connections.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Hub owns the session->room table and the connection registry. It is a
// constructor dependency of the broker, never a package singleton, so tests
// can drive it with fake connections.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uint]*Room
	byID   map[string]*Client
	byUser map[uint]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[uint]*Room),
		byID:   make(map[string]*Client),
		byUser: make(map[uint]map[string]*Client),
	}
}

// Register adds a connection and returns how many connections the principal
// now has. The first connection of an agent drives the presence connect
// event.
func (h *Hub) Register(client *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[client.ID] = client
	conns := h.byUser[client.User.ID]
	if conns == nil {
		conns = make(map[string]*Client)
		h.byUser[client.User.ID] = conns
	}
	conns[client.ID] = client
	return len(conns)
}

// Unregister removes a connection from the registry and every room, closes
// its send channel, and returns how many connections the principal still
// has. Zero means the last tab closed and presence should go offline.
func (h *Hub) Unregister(client *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byID[client.ID]; !ok {
		return len(h.byUser[client.User.ID])
	}
	delete(h.byID, client.ID)
	for _, room := range h.rooms {
		room.remove(client)
	}
	conns := h.byUser[client.User.ID]
	delete(conns, client.ID)
	if len(conns) == 0 {
		delete(h.byUser, client.User.ID)
	}
	client.closeSend()
	return len(conns)
}

// JoinRoom subscribes the connection to a session's events. Idempotent; room
// access is permissive at join time, commands are authorized individually.
func (h *Hub) JoinRoom(sessionID uint, client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = newRoom(sessionID)
		h.rooms[sessionID] = room
	}
	h.mu.Unlock()
	room.add(client)
}

// Room returns the live room for a session, or nil when nobody is joined.
func (h *Hub) Room(sessionID uint) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[sessionID]
}

// CloseRoom tears the room down after a session ends. Connections stay open;
// they just stop receiving events for this session.
func (h *Hub) CloseRoom(sessionID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, sessionID)
}

// BroadcastRoom fans an event out to every connection currently joined to
// the session's room. Best-effort: a connection mid-disconnect may miss it;
// the store remains the system of record to reconcile against.
func (h *Hub) BroadcastRoom(sessionID uint, event Event) {
	room := h.Room(sessionID)
	if room == nil {
		return
	}
	for _, client := range room.snapshot() {
		client.deliver(event)
	}
}

// BroadcastAgents pushes an event to every connected agent and admin, used
// for queue notifications and presence changes.
func (h *Hub) BroadcastAgents(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.byID {
		if client.User.Role == models.RoleAgent || client.User.Role == models.RoleAdmin {
			client.deliver(event)
		}
	}
}

// SendToUser pushes an event to every connection of one principal.
func (h *Hub) SendToUser(userID uint, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.byUser[userID] {
		client.deliver(event)
	}
}

// ConnectionCount reports how many live connections a principal has.
func (h *Hub) ConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
