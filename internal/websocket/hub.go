package websocket

import (
	"sync"

	"crmchat/server/internal/metrics"

	"go.uber.org/zap"
)

// Hub tracks the open conversation streams
type Hub struct {
	// Registered clients mapped by client ID
	Clients map[string]*Client

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	log  *zap.Logger
	quit chan struct{}
	done chan struct{}

	// Mutex for thread-safe operations
	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		Clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		log:        log,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		case <-h.quit:
			h.closeAll()
			return
		}
	}
}

// Shutdown closes every stream and stops Run
func (h *Hub) Shutdown() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	<-h.done
}

// Join registers client. After Shutdown it closes the client instead and
// returns false.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.quit:
		client.close()
		return false
	}
}

// Leave unregisters client. It never blocks once the hub has shut down.
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.quit:
		client.close()
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Clients[client.ID] = client
	metrics.LiveStreams.Inc()

	h.log.Info("Stream opened",
		zap.String("client", client.ID),
		zap.String("conversation", client.ConversationID),
		zap.String("agent", client.Identity.Email))
}

// unregisterClient removes a client from the hub. The client's
// subscriptions are stopped before its send channel is closed.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.Clients[client.ID]; ok {
		delete(h.Clients, client.ID)
		client.close()
		metrics.LiveStreams.Dec()

		h.log.Info("Stream closed",
			zap.String("client", client.ID),
			zap.String("conversation", client.ConversationID))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.Clients {
		delete(h.Clients, id)
		client.close()
		metrics.LiveStreams.Dec()
	}
}

// GetOnlineCount returns the number of open streams
func (h *Hub) GetOnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.Clients)
}

// Watchers returns how many streams watch each conversation
func (h *Hub) Watchers() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]int)
	for _, c := range h.Clients {
		out[c.ConversationID]++
	}
	return out
}
