package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/alert-console/internal/enum"
)

// Event types sent to operator tabs.
const (
	EventCardsUpdated      = "cards.updated"
	EventCardsError        = "cards.error"
	EventNotification      = "notification"
	EventNavigate          = "navigate"
	EventNotificationClick = "notification.click"
)

// Event represents a WebSocket message to or from an operator tab
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event.
func NewEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// bucketEvent is an internal struct for routing events to specific buckets.
// An empty Bucket means every connected client.
type bucketEvent struct {
	Bucket string
	Event  Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by alert bucket; a client may sit in several rooms
	rooms map[string]map[*Client]bool

	// Every registered client, for all-room broadcasts
	clients map[*Client]bool

	// Inbound messages from clients (register/unregister)
	register   chan *Client
	unregister chan *Client

	// Outbound messages to broadcast
	broadcast chan *bucketEvent

	// greet returns events replayed to a client right after it registers
	greet func(c *Client) []Event

	// onMessage handles events sent by clients
	onMessage func(c *Client, ev Event)

	// quit stops Run and unblocks pending sends
	quit      chan struct{}
	closeOnce sync.Once

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *bucketEvent, 256),
		greet:      func(*Client) []Event { return nil },
		onMessage:  func(*Client, Event) {},
		quit:       make(chan struct{}),
	}
}

// OnGreet sets the events sent to every newly registered client. Call before Run.
func (h *Hub) OnGreet(fn func(c *Client) []Event) {
	h.greet = fn
}

// OnMessage sets the handler for client-sent events. Call before Run.
func (h *Hub) OnMessage(fn func(c *Client, ev Event)) {
	h.onMessage = fn
}

// Run starts the hub's main loop until Close is called.
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			for _, b := range client.buckets {
				if h.rooms[b] == nil {
					h.rooms[b] = make(map[*Client]bool)
				}
				h.rooms[b][client] = true
			}
			h.mu.Unlock()

			for _, ev := range h.greet(client) {
				if msg, err := json.Marshal(ev); err == nil {
					h.deliver(client, msg)
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			// Marshal event to JSON once
			message, err := json.Marshal(event.Event)
			if err != nil {
				continue
			}

			h.mu.RLock()
			targets := h.clients
			if event.Bucket != "" {
				targets = h.rooms[event.Bucket]
			}
			recipients := make([]*Client, 0, len(targets))
			for client := range targets {
				recipients = append(recipients, client)
			}
			h.mu.RUnlock()

			for _, client := range recipients {
				h.deliver(client, message)
			}
		}
	}
}

// deliver queues message for client, dropping the client if its buffer is full.
func (h *Hub) deliver(client *Client, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- message:
	default:
		// Client's send buffer is full, close and unregister
		h.remove(client)
	}
}

// remove drops client from every room. Caller holds h.mu.
func (h *Hub) remove(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)
	for _, b := range client.buckets {
		if clients, ok := h.rooms[b]; ok {
			delete(clients, client)
			// Clean up empty rooms
			if len(clients) == 0 {
				delete(h.rooms, b)
			}
		}
	}
}

// Close stops Run and disconnects every client. Safe to call more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.remove(client)
	}
}

// BroadcastToBucket sends an event to all clients subscribed to a bucket
func (h *Hub) BroadcastToBucket(bucket string, event Event) {
	h.enqueue(&bucketEvent{Bucket: bucket, Event: event})
}

// BroadcastAll sends an event to every connected client
func (h *Hub) BroadcastAll(event Event) {
	h.enqueue(&bucketEvent{Event: event})
}

func (h *Hub) enqueue(ev *bucketEvent) {
	select {
	case h.broadcast <- ev:
	case <-h.quit:
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// SendToNewest delivers event to the most recently connected client.
// It reports false when no client is connected.
func (h *Hub) SendToNewest(event Event) bool {
	message, err := json.Marshal(event)
	if err != nil {
		return false
	}

	h.mu.RLock()
	var newest *Client
	for client := range h.clients {
		if newest == nil || client.connectedAt.After(newest.connectedAt) {
			newest = client
		}
	}
	h.mu.RUnlock()

	if newest == nil {
		return false
	}
	h.deliver(newest, message)
	return true
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newClient(hub *Hub, buckets []string) *Client {
	return &Client{
		id:          uuid.New(),
		hub:         hub,
		buckets:     buckets,
		connectedAt: time.Now(),
		send:        make(chan []byte, 256),
	}
}

// parseBuckets reads a comma-separated bucket list. Empty or unknown input means all buckets.
func parseBuckets(raw []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, b := range raw {
		if enum.IsBucket(b) && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), enum.Buckets...)
	}
	return out
}
