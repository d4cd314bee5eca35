package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/4xmen/cafemeet/internal/apperr"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	sent     []Inbound
	marked   []string
	sendErr  error
	snapshot map[string]any
}

func (d *fakeDispatcher) SendMessage(_ context.Context, userID, receiverID, content string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return "", d.sendErr
	}
	d.sent = append(d.sent, Inbound{Type: "message", ReceiverID: receiverID, Content: content})
	return "01MSG", nil
}

func (d *fakeDispatcher) MarkAllRead(_ context.Context, userID, conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marked = append(d.marked, conversationID)
	return nil
}

func (d *fakeDispatcher) Snapshots(context.Context, string) (map[string]any, error) {
	return d.snapshot, nil
}

func startHub(t *testing.T, d Dispatcher) *Hub {
	t.Helper()
	hub := NewHub(d, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubCreation(t *testing.T) {
	hub := NewHub(nil, nil)
	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}
	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}
	if hub.register == nil || hub.unregister == nil {
		t.Error("Hub registration channels are nil")
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	hub := startHub(t, nil)

	phone := &Client{userID: "u1", hub: hub, send: make(chan Event, sendBuffer)}
	laptop := &Client{userID: "u1", hub: hub, send: make(chan Event, sendBuffer)}
	hub.register <- phone
	hub.register <- laptop
	waitFor(t, func() bool { return hub.IsOnline("u1") })

	hub.unregister <- phone
	time.Sleep(10 * time.Millisecond)
	if !hub.IsOnline("u1") {
		t.Fatal("user went offline while a second socket is connected")
	}

	hub.unregister <- laptop
	waitFor(t, func() bool { return !hub.IsOnline("u1") })
	if _, ok := <-laptop.send; ok {
		t.Fatal("send channel not closed on unregister")
	}
}

func TestPublishReachesOnlyAddressee(t *testing.T) {
	hub := startHub(t, nil)

	c1 := &Client{userID: "u1", hub: hub, send: make(chan Event, sendBuffer)}
	c2 := &Client{userID: "u2", hub: hub, send: make(chan Event, sendBuffer)}
	hub.register <- c1
	hub.register <- c2
	waitFor(t, func() bool { return hub.IsOnline("u1") && hub.IsOnline("u2") })

	hub.Publish("u2", "chat", map[string]int{"total_unread": 1})

	select {
	case ev := <-c2.send:
		if ev.Type != "chat" {
			t.Fatalf("event type = %s, want chat", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("u2 did not receive the snapshot")
	}

	select {
	case ev := <-c1.send:
		t.Fatalf("u1 received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			hub.Publish("u1", "discovery", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func dial(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()
	return dialLang(t, hub, userID, "")
}

func dialLang(t *testing.T, hub *Hub, userID, lang string) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", userID)
		if lang != "" {
			c.Set("language", lang)
		}
		hub.HandleWebSocket(c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev
}

func TestSocketReceivesInitialSnapshots(t *testing.T) {
	d := &fakeDispatcher{snapshot: map[string]any{
		"discovery": map[string]any{"detection_range": 50},
		"chat":      map[string]any{"total_unread": 0},
		"offers":    map[string]any{"sent": []any{}},
	}}
	hub := startHub(t, d)
	conn := dial(t, hub, "u1")

	var kinds []string
	for i := 0; i < 3; i++ {
		kinds = append(kinds, readEvent(t, conn).Type)
	}
	if strings.Join(kinds, ",") != "discovery,chat,offers" {
		t.Fatalf("initial events = %v", kinds)
	}
}

func TestSocketMessageIsDispatched(t *testing.T) {
	d := &fakeDispatcher{}
	hub := startHub(t, d)
	conn := dial(t, hub, "u1")
	waitFor(t, func() bool { return hub.IsOnline("u1") })

	if err := conn.WriteJSON(Inbound{Type: "message", ReceiverID: "u2", Content: "hi", ClientMsgID: "c-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != "message_ack" || ev.ClientMsgID != "c-1" || ev.MessageID != "01MSG" {
		t.Fatalf("ack = %+v", ev)
	}

	if err := conn.WriteJSON(Inbound{Type: "mark_read", ConversationID: "conv-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.marked) == 1 && d.marked[0] == "conv-1"
	})
}

func TestSocketReportsDispatchErrors(t *testing.T) {
	tests := []struct {
		name string
		lang string
		err  error
		want string
	}{
		{
			name: "classified",
			lang: "it",
			err:  fmt.Errorf("message content is empty: %w", apperr.ErrInvalidInput),
			want: "il messaggio è vuoto",
		},
		{
			name: "unclassified chain is hidden",
			lang: "it",
			err:  fmt.Errorf("store message: failed to insert message: %w", errors.New("disk I/O error")),
			want: "errore interno del server",
		},
		{
			name: "english default",
			err:  fmt.Errorf("user not found: %q: %w", "ghost", apperr.ErrNotFound),
			want: "user not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{sendErr: tt.err}
			hub := startHub(t, d)
			conn := dialLang(t, hub, "u1", tt.lang)
			waitFor(t, func() bool { return hub.IsOnline("u1") })

			_ = conn.WriteJSON(Inbound{Type: "message", ReceiverID: "u2", Content: "", ClientMsgID: "c-2"})
			ev := readEvent(t, conn)
			if ev.Type != "error" || ev.ClientMsgID != "c-2" || ev.Error != tt.want {
				t.Fatalf("error event = %+v, want error %q", ev, tt.want)
			}
		})
	}
}

func TestRepliesReachOnlyRequestingSocket(t *testing.T) {
	d := &fakeDispatcher{}
	hub := startHub(t, d)
	phone := dial(t, hub, "u1")
	laptop := dial(t, hub, "u1")
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients["u1"]) == 2
	})

	if err := phone.WriteJSON(Inbound{Type: "message", ReceiverID: "u2", Content: "hi", ClientMsgID: "c-3"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, phone); ev.Type != "message_ack" {
		t.Fatalf("phone event = %+v", ev)
	}

	// Events are delivered in queue order, so the laptop sees this snapshot
	// first unless the ack leaked to it.
	hub.Publish("u1", "chat", map[string]any{"total_unread": 0})
	if ev := readEvent(t, laptop); ev.Type != "chat" {
		t.Fatalf("laptop event = %+v, want chat snapshot", ev)
	}
}

func TestHandleWebSocketRequiresUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/ws", nil)

	hub.HandleWebSocket(c)
	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
