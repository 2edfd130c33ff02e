package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"crmchat/server/internal/models"
	"crmchat/server/internal/reconcile"
	"crmchat/server/internal/store"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// Client is one browser watching one conversation
type Client struct {
	ID             string
	Identity       models.Identity
	ConversationID string
	Conn           *websocket.Conn
	Hub            *Hub
	Send           chan []byte

	stream *reconcile.Reconciler
	log    *zap.Logger

	sendMu sync.Mutex
	closed bool
}

// NewClient creates a client streaming the reconciled messages of
// conversationID. Nothing is subscribed until Start.
func NewClient(conn *websocket.Conn, hub *Hub, st store.Store, id models.Identity, conversationID string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		ID:             uuid.NewString(),
		Identity:       id,
		ConversationID: conversationID,
		Conn:           conn,
		Hub:            hub,
		Send:           make(chan []byte, sendBuffer),
		log:            log,
	}
	c.stream = reconcile.New(st, conversationID, reconcile.Options{
		Self:           id,
		ReadAuthorized: true,
		OnChange:       c.pushSnapshot,
		Log:            log,
	})
	return c
}

// Start opens the conversation's subscriptions
func (c *Client) Start(ctx context.Context) {
	c.stream.Start(ctx)
}

// ReadPump handles incoming messages from the client
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket error", zap.String("client", c.ID), zap.Error(err))
			}
			break
		}

		var incoming IncomingMessage
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.sendError("bad_request", "message is not valid JSON")
			continue
		}

		c.handleIncomingMessage(ctx, incoming)
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Write error", zap.String("client", c.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleIncomingMessage processes different types of incoming messages
func (c *Client) handleIncomingMessage(ctx context.Context, msg IncomingMessage) {
	switch msg.Type {
	case EventLoadMore:
		c.stream.LoadMore(ctx)
	default:
		c.sendError("unknown_event", "unknown event type: "+string(msg.Type))
	}
}

// pushSnapshot runs under the reconciler's lock, so it never blocks.
func (c *Client) pushSnapshot(v reconcile.View) {
	c.offer(WSMessage{
		Type: EventMessagesSnapshot,
		Payload: SnapshotPayload{
			ConversationID: v.ConversationID,
			Messages:       v.Messages,
			HasMore:        v.HasMore,
			Limit:          v.Limit,
		},
		Timestamp: time.Now(),
	})
}

func (c *Client) sendError(code, message string) {
	c.offer(WSMessage{Type: EventError, Payload: ErrorPayload{Code: code, Message: message}, Timestamp: time.Now()})
}

// offer queues msg, dropping the oldest queued frame when the buffer is
// full. Later snapshots supersede earlier ones.
func (c *Client) offer(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("Failed to marshal message", zap.Error(err))
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.Send <- data:
			return
		default:
		}
		select {
		case <-c.Send:
		default:
		}
	}
}

// close stops the subscriptions, then closes Send
func (c *Client) close() {
	c.stream.Close()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
