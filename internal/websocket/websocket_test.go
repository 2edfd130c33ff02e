package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"crmchat/server/internal/models"
	"crmchat/server/internal/store"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type frame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func appendText(t *testing.T, m *store.Memory, conv, id string, ts int64) {
	t.Helper()
	err := m.Append(context.Background(), models.Record{
		ID:             id,
		ConversationID: conv,
		Collection:     models.CollectionMessages,
		Data:           map[string]any{"text": id, "timestamp": float64(ts)},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func next(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatal(err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}
	return frame{}
}

func snapshot(t *testing.T, f frame) SnapshotPayload {
	t.Helper()
	if f.Type != EventMessagesSnapshot {
		t.Fatalf("type = %s", f.Type)
	}
	var p SnapshotPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestClient_StreamsSnapshots(t *testing.T) {
	m := store.NewMemory()
	appendText(t, m, "c1", "a", 1700000000)

	c := NewClient(nil, nil, m, models.Identity{UID: "u1"}, "c1", nil)
	c.Start(context.Background())
	defer c.close()

	p := snapshot(t, next(t, c))
	if len(p.Messages) != 1 || p.ConversationID != "c1" || p.HasMore || p.Limit != 50 {
		t.Fatalf("payload = %+v", p)
	}

	appendText(t, m, "c1", "b", 1700000100)
	// the msgs collection may have produced a frame in between
	var last SnapshotPayload
	for len(c.Send) > 0 {
		last = snapshot(t, next(t, c))
	}
	if len(last.Messages) != 2 || last.Messages[1].ID != "b" {
		t.Errorf("latest payload = %+v", last)
	}
}

func TestClient_LoadMoreAndUnknownEvents(t *testing.T) {
	m := store.NewMemory()
	for i := 0; i < 55; i++ {
		appendText(t, m, "c1", fmt.Sprintf("m%02d", i), int64(1700000000+i))
	}
	c := NewClient(nil, nil, m, models.Identity{}, "c1", nil)
	c.Start(context.Background())
	defer c.close()
	for len(c.Send) > 0 {
		<-c.Send
	}

	c.handleIncomingMessage(context.Background(), IncomingMessage{Type: EventLoadMore})
	var last SnapshotPayload
	for len(c.Send) > 0 {
		last = snapshot(t, next(t, c))
	}
	if last.Limit != 100 || len(last.Messages) != 55 {
		t.Errorf("after load_more limit=%d len=%d", last.Limit, len(last.Messages))
	}

	c.handleIncomingMessage(context.Background(), IncomingMessage{Type: "typing_start"})
	f := next(t, c)
	var e ErrorPayload
	json.Unmarshal(f.Payload, &e)
	if f.Type != EventError || e.Code != "unknown_event" {
		t.Errorf("frame = %s %+v", f.Type, e)
	}
}

func TestClient_OfferDropsOldest(t *testing.T) {
	c := NewClient(nil, nil, store.NewMemory(), models.Identity{}, "c1", nil)
	for i := 0; i < sendBuffer+5; i++ {
		c.sendError("n", fmt.Sprint(i))
	}
	if len(c.Send) != sendBuffer {
		t.Fatalf("buffered = %d", len(c.Send))
	}
	var e ErrorPayload
	json.Unmarshal(next(t, c).Payload, &e)
	if e.Message != "5" {
		t.Errorf("oldest kept = %s, want 5", e.Message)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	m := store.NewMemory()
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Shutdown()

	a := NewClient(nil, hub, m, models.Identity{}, "c1", nil)
	b := NewClient(nil, hub, m, models.Identity{}, "c1", nil)
	hub.Register <- a
	hub.Register <- b
	a.Start(context.Background())

	if n := hub.GetOnlineCount(); n != 2 {
		t.Errorf("count = %d", n)
	}
	if w := hub.Watchers(); w["c1"] != 2 {
		t.Errorf("watchers = %v", w)
	}

	hub.Unregister <- a
	hub.Unregister <- a
	for range a.Send {
	}
	if n := hub.GetOnlineCount(); n != 1 {
		t.Errorf("count after unregister = %d", n)
	}

	// a closed client ignores further store updates
	appendText(t, m, "c1", "x", 1700000000)
	a.pushSnapshot(a.stream.View())
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	c := NewClient(nil, hub, store.NewMemory(), models.Identity{}, "c1", nil)
	hub.Register <- c
	hub.Shutdown()
	hub.Shutdown()

	select {
	case _, ok := <-c.Send:
		if ok {
			for range c.Send {
			}
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
}

func TestHub_JoinAndLeaveAfterShutdown(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	hub.Shutdown()

	c := NewClient(nil, hub, store.NewMemory(), models.Identity{}, "c1", nil)
	returned := make(chan bool, 1)
	go func() {
		ok := hub.Join(c)
		hub.Leave(c)
		returned <- ok
	}()

	select {
	case ok := <-returned:
		if ok {
			t.Error("Join succeeded after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("Join/Leave blocked after shutdown")
	}
	if _, open := <-c.Send; open {
		t.Error("client not closed")
	}
}

func TestHub_ShutdownReleasesOpenStreams(t *testing.T) {
	m := store.NewMemory()
	hub := NewHub(nil)
	go hub.Run()

	done := make(chan struct{})
	app := fiber.New()
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		defer close(done)
		c := NewClient(conn, hub, m, models.Identity{UID: "u1"}, "c1", nil)
		if !hub.Join(c) {
			return
		}
		go c.WritePump()
		c.Start(context.Background())
		c.ReadPump(context.Background())
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go app.Listener(ln)
	defer app.Shutdown()

	conn, _, err := fws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// first frame is the initial snapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	hub.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler still blocked after hub shutdown")
	}
}
