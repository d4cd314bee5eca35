// Package chat holds the conversation set of one signed-in user.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/ident"
	"github.com/4xmen/cafemeet/internal/models"
	"github.com/4xmen/cafemeet/internal/relay"
)

const DefaultMaxMessageLength = 1000

// Store persists conversations. EnsureConversation returns the canonical row
// for the conversation's participant pair, inserting c when none exists.
type Store interface {
	LoadConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	EnsureConversation(ctx context.Context, c models.Conversation) (models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg models.Message) error
	MarkRead(ctx context.Context, conversationID, readerID string) error
}

// Directory reports whether a user account exists. Conversations are only
// opened with known users.
type Directory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

type Listener func([]models.Conversation)

type Model struct {
	userID string
	store  Store
	users  Directory
	relay  relay.Relay
	ids    *ident.Generator
	maxLen int
	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]*models.Conversation
	byPair        map[string]string
	seen          map[string]struct{}
	listeners     map[int]Listener
	nextListen    int
}

type Option func(*Model)

func WithStore(s Store) Option { return func(m *Model) { m.store = s } }

func WithDirectory(d Directory) Option { return func(m *Model) { m.users = d } }

func WithRelay(r relay.Relay) Option { return func(m *Model) { m.relay = r } }

func WithGenerator(g *ident.Generator) Option { return func(m *Model) { m.ids = g } }

func WithMaxMessageLength(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.maxLen = n
		}
	}
}

func New(userID string, logger *slog.Logger, opts ...Option) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Model{
		userID:        userID,
		maxLen:        DefaultMaxMessageLength,
		logger:        logger.With("component", "chat", "user", userID),
		conversations: make(map[string]*models.Conversation),
		byPair:        make(map[string]string),
		seen:          make(map[string]struct{}),
		listeners:     make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ids == nil {
		m.ids = ident.NewGenerator(nil)
	}
	return m
}

// Load replaces the in-memory conversations with the stored ones.
func (m *Model) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	stored, err := m.store.LoadConversations(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	m.mu.Lock()
	m.conversations = make(map[string]*models.Conversation, len(stored))
	m.byPair = make(map[string]string, len(stored))
	m.seen = make(map[string]struct{})
	for i := range stored {
		c := stored[i]
		c.UnreadCount = 0
		c.LastMessage = nil
		for j, msg := range c.Messages {
			m.seen[msg.ID] = struct{}{}
			if msg.ReceiverID == m.userID && !msg.Read {
				c.UnreadCount++
			}
			c.LastMessage = &c.Messages[j]
		}
		m.conversations[c.ID] = &c
		m.byPair[ident.PairKey(c.Participants[0], c.Participants[1])] = c.ID
	}
	m.mu.Unlock()

	m.logger.Info("conversations loaded", "count", len(stored))
	m.notify()
	return nil
}

// FindConversation returns the conversation between the local user and other.
func (m *Model) FindConversation(other string) (models.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.findLocked(other)
	if !ok {
		return models.Conversation{}, false
	}
	return copyConversation(c), true
}

func (m *Model) findLocked(other string) (*models.Conversation, bool) {
	id, ok := m.byPair[ident.PairKey(m.userID, other)]
	if !ok {
		return nil, false
	}
	return m.conversations[id], true
}

// GetOrCreate returns the conversation with other, creating an empty one when
// none exists. At most one conversation exists per participant pair.
func (m *Model) GetOrCreate(ctx context.Context, other string) (models.Conversation, error) {
	if err := m.validatePeer(other); err != nil {
		return models.Conversation{}, err
	}

	m.mu.Lock()
	c, created, err := m.getOrCreateLocked(ctx, other)
	var out models.Conversation
	if err == nil {
		out = copyConversation(c)
	}
	m.mu.Unlock()

	if err != nil {
		return models.Conversation{}, err
	}
	if created {
		m.notify()
	}
	return out, nil
}

func (m *Model) validatePeer(other string) error {
	other = strings.TrimSpace(other)
	if other == "" {
		return fmt.Errorf("participant id is required: %w", apperr.ErrInvalidInput)
	}
	if other == m.userID {
		return fmt.Errorf("cannot start a conversation with yourself: %w", apperr.ErrInvalidInput)
	}
	return nil
}

func (m *Model) getOrCreateLocked(ctx context.Context, other string) (*models.Conversation, bool, error) {
	if c, ok := m.findLocked(other); ok {
		return c, false, nil
	}
	if m.users != nil {
		exists, err := m.users.UserExists(ctx, other)
		if err != nil {
			return nil, false, fmt.Errorf("look up participant: %w", err)
		}
		if !exists {
			return nil, false, fmt.Errorf("user not found: %q: %w", other, apperr.ErrNotFound)
		}
	}

	c := models.Conversation{
		ID:           ident.NewUUID(),
		Participants: [2]string{m.userID, other},
		Messages:     []models.Message{},
		CreatedAt:    m.ids.Now(),
	}
	if m.store != nil {
		canonical, err := m.store.EnsureConversation(ctx, c)
		if err != nil {
			return nil, false, fmt.Errorf("create conversation: %w", err)
		}
		c.ID = canonical.ID
		c.CreatedAt = canonical.CreatedAt
	}

	m.insertLocked(&c)
	m.logger.Debug("conversation created", "conversation", c.ID, "with", other)
	return &c, true, nil
}

func (m *Model) insertLocked(c *models.Conversation) {
	m.conversations[c.ID] = c
	m.byPair[ident.PairKey(c.Participants[0], c.Participants[1])] = c.ID
}

// SendMessage appends a new outgoing message and returns its id. The message is
// accepted once stored locally; relay delivery failures are logged only.
func (m *Model) SendMessage(ctx context.Context, receiverID, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("message content is empty: %w", apperr.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(content); n > m.maxLen {
		return "", fmt.Errorf("message is too long: %d characters, limit is %d: %w", n, m.maxLen, apperr.ErrInvalidInput)
	}
	if err := m.validatePeer(receiverID); err != nil {
		return "", err
	}

	m.mu.Lock()
	c, created, err := m.getOrCreateLocked(ctx, receiverID)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	id, ts := m.ids.NewULID()
	msg := models.Message{
		ID:             id,
		ConversationID: c.ID,
		SenderID:       m.userID,
		ReceiverID:     receiverID,
		Content:        content,
		Timestamp:      ts,
		Read:           false,
	}
	if m.store != nil {
		if err := m.store.AppendMessage(ctx, c.ID, msg); err != nil {
			m.mu.Unlock()
			// The conversation itself is stored, so it stays and is announced.
			if created {
				m.notify()
			}
			return "", fmt.Errorf("store message: %w", err)
		}
	}
	m.appendLocked(c, msg)
	m.mu.Unlock()

	m.notify()

	if m.relay != nil {
		env := relay.Envelope{Type: relay.TypeMessage, To: receiverID, Message: &msg}
		if err := m.relay.Publish(ctx, env); err != nil {
			m.logger.Warn("message pending delivery", "message", id, "to", receiverID, "error", err)
		}
	}
	return id, nil
}

func (m *Model) appendLocked(c *models.Conversation, msg models.Message) {
	c.Messages = append(c.Messages, msg)
	c.LastMessage = &c.Messages[len(c.Messages)-1]
	m.seen[msg.ID] = struct{}{}
}

// Receive records an incoming message addressed to the local user. Messages
// already seen are ignored.
func (m *Model) Receive(ctx context.Context, msg models.Message) error {
	if msg.ReceiverID != m.userID {
		return fmt.Errorf("message %s is addressed to %q: %w", msg.ID, msg.ReceiverID, apperr.ErrInvalidInput)
	}
	if msg.ID == "" || msg.SenderID == "" || msg.SenderID == m.userID {
		return fmt.Errorf("malformed incoming message: %w", apperr.ErrInvalidInput)
	}

	m.mu.Lock()
	if _, dup := m.seen[msg.ID]; dup {
		m.mu.Unlock()
		return nil
	}

	c, ok := m.findLocked(msg.SenderID)
	if !ok {
		id := msg.ConversationID
		if id == "" {
			id = ident.NewUUID()
		}
		c = &models.Conversation{
			ID:           id,
			Participants: [2]string{msg.SenderID, m.userID},
			Messages:     []models.Message{},
			CreatedAt:    msg.Timestamp,
		}
		m.insertLocked(c)
	}

	msg.ConversationID = c.ID
	msg.Read = false
	m.appendLocked(c, msg)
	c.UnreadCount++
	m.mu.Unlock()

	m.notify()
	return nil
}

// MarkAllRead marks every incoming message of the conversation read and resets
// its unread count. Outgoing messages are untouched.
func (m *Model) MarkAllRead(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	c, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("conversation not found: %q: %w", conversationID, apperr.ErrNotFound)
	}

	if m.store != nil {
		if err := m.store.MarkRead(ctx, conversationID, m.userID); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("mark read: %w", err)
		}
	}

	for i := range c.Messages {
		if c.Messages[i].ReceiverID == m.userID {
			c.Messages[i].Read = true
		}
	}
	c.UnreadCount = 0
	m.mu.Unlock()

	m.notify()
	return nil
}

// TotalUnreadCount sums the unread counts of all conversations.
func (m *Model) TotalUnreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, c := range m.conversations {
		total += c.UnreadCount
	}
	return total
}

func (m *Model) Conversation(id string) (models.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	return copyConversation(c), true
}

// Conversations lists all conversations, most recently active first.
func (m *Model) Conversations() []models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Model) listLocked() []models.Conversation {
	out := make([]models.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, copyConversation(c))
	}
	sort.Slice(out, func(i, j int) bool {
		return lastActivity(out[i]) > lastActivity(out[j])
	})
	return out
}

func lastActivity(c models.Conversation) int64 {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

func copyConversation(c *models.Conversation) models.Conversation {
	out := *c
	out.Messages = append([]models.Message{}, c.Messages...)
	if len(out.Messages) > 0 {
		out.LastMessage = &out.Messages[len(out.Messages)-1]
	}
	return out
}

func (m *Model) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextListen
	m.nextListen++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Model) notify() {
	m.mu.Lock()
	if len(m.listeners) == 0 {
		m.mu.Unlock()
		return
	}
	snapshot := m.listLocked()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
