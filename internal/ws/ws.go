package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/pkg/i18n"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Dispatcher executes the operations clients may invoke over the socket.
type Dispatcher interface {
	SendMessage(ctx context.Context, userID, receiverID, content string) (string, error)
	MarkAllRead(ctx context.Context, userID, conversationID string) error
	Snapshots(ctx context.Context, userID string) (map[string]any, error)
}

type Hub struct {
	clients    map[string]map[*Client]struct{}
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	dispatcher Dispatcher
	logger     *slog.Logger
	mu         sync.RWMutex
	done       chan struct{}
}

type Client struct {
	userID string
	lang   string
	conn   *websocket.Conn
	hub    *Hub
	send   chan Event
}

// Event is written to clients. Snapshots carry the model state in Payload.
type Event struct {
	Type        string `json:"type"`
	Payload     any    `json:"payload,omitempty"`
	ClientMsgID string `json:"client_message_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Inbound is an event read from a client.
type Inbound struct {
	Type           string `json:"type"` // "message", "mark_read"
	ReceiverID     string `json:"receiver_id,omitempty"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ClientMsgID    string `json:"client_message_id,omitempty"`
}

// outbound with a client set is a reply for that socket only.
type outbound struct {
	userID string
	client *Client
	event  Event
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewHub(dispatcher Dispatcher, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan outbound, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		dispatcher: dispatcher,
		logger:     logger.With("component", "ws"),
		done:       make(chan struct{}),
	}
}

// SetDispatcher wires the dispatcher when it is built after the hub. Call it
// before serving sockets.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// IsOnline reports whether the user has at least one connected socket.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Publish queues a snapshot for every socket of userID. A full queue drops the
// event; the next snapshot supersedes it.
func (h *Hub) Publish(userID, kind string, payload any) {
	select {
	case h.broadcast <- outbound{userID: userID, event: Event{Type: kind, Payload: payload}}:
	default:
		h.logger.Warn("broadcast queue full, dropping snapshot", "user", userID, "type", kind)
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]struct{})
			}
			h.clients[client.userID][client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("user connected", "user", client.userID, "users_online", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.userID][client]; ok {
				delete(h.clients[client.userID], client)
				if len(h.clients[client.userID]) == 0 {
					delete(h.clients, client.userID)
				}
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("user disconnected", "user", client.userID, "users_online", total)

		case out := <-h.broadcast:
			if out.client != nil {
				h.deliverTo(out.client, out.event)
				continue
			}
			h.deliver(out.userID, out.event)
		}
	}
}

func (h *Hub) deliver(userID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- ev:
		default:
			h.logger.Warn("send channel full", "user", userID, "type", ev.Type)
		}
	}
}

func (h *Hub) deliverTo(client *Client, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.userID][client]; !ok {
		return
	}
	select {
	case client.send <- ev:
	default:
		h.logger.Warn("send channel full", "user", client.userID, "type", ev.Type)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for client := range set {
			close(client.send)
		}
		delete(h.clients, userID)
	}
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	lang := c.GetString("language")
	if lang == "" {
		lang = i18n.Normalize(c.GetHeader("Accept-Language"))
	}

	client := &Client{
		userID: userID,
		lang:   lang,
		conn:   conn,
		hub:    h,
		send:   make(chan Event, sendBuffer),
	}

	// Prime the client before it joins the broadcast set so the first events
	// it sees are full snapshots.
	if h.dispatcher != nil {
		snaps, err := h.dispatcher.Snapshots(c.Request.Context(), userID)
		if err != nil {
			h.logger.Warn("failed to load snapshots", "user", userID, "error", err)
		}
		for _, kind := range []string{"discovery", "chat", "offers"} {
			if payload, ok := snaps[kind]; ok {
				client.send <- Event{Type: kind, Payload: payload}
			}
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket error", "user", c.userID, "error", err)
			}
			break
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in Inbound) {
	if c.hub.dispatcher == nil {
		return
	}
	ctx := context.Background()

	switch in.Type {
	case "message":
		id, err := c.hub.dispatcher.SendMessage(ctx, c.userID, in.ReceiverID, in.Content)
		if err != nil {
			c.fail(in, err)
			return
		}
		c.reply(Event{Type: "message_ack", ClientMsgID: in.ClientMsgID, MessageID: id})
	case "mark_read":
		if err := c.hub.dispatcher.MarkAllRead(ctx, c.userID, in.ConversationID); err != nil {
			c.fail(in, err)
		}
	}
}

// fail replies with the translated display text of err. Unclassified errors
// are logged since the client only sees "internal server error".
func (c *Client) fail(in Inbound, err error) {
	if apperr.Kind(err) == nil {
		c.hub.logger.Error("socket request failed", "user", c.userID, "type", in.Type, "error", err)
	}
	c.reply(Event{Type: "error", ClientMsgID: in.ClientMsgID, Error: i18n.Translate(c.lang, apperr.Message(err))})
}

// reply goes through the hub so it never races the unregister close of send.
// Only this socket receives it.
func (c *Client) reply(ev Event) {
	select {
	case c.hub.broadcast <- outbound{userID: c.userID, client: c, event: ev}:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
