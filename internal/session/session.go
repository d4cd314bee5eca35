// Package session owns the per-user state models for signed-in users.
//
// A Session is created on sign-in and torn down on sign-out. While it lives it
// receives the relay envelopes addressed to its user and streams model
// snapshots to the user's sockets.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/chat"
	"github.com/4xmen/cafemeet/internal/discovery"
	"github.com/4xmen/cafemeet/internal/ident"
	"github.com/4xmen/cafemeet/internal/models"
	"github.com/4xmen/cafemeet/internal/offer"
	"github.com/4xmen/cafemeet/internal/relay"
)

// Snapshot event kinds sent to Publisher.
const (
	EventDiscovery = "discovery"
	EventChat      = "chat"
	EventOffers    = "offers"
)

type Store interface {
	chat.Store
	offer.Store
}

// Directory reports whether a user account exists. Messages, conversations
// and offers are only addressed to known users.
type Directory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Publisher delivers a snapshot to every live socket of userID.
type Publisher interface {
	Publish(userID, kind string, payload any)
}

// Presence reports whether userID has a live socket.
type Presence interface {
	IsOnline(userID string) bool
}

// Pusher notifies an addressee that is not connected.
type Pusher interface {
	Notify(ctx context.Context, env relay.Envelope)
}

type Config struct {
	Store            Store
	Directory        Directory
	Relay            relay.Relay
	Radio            func(userID string) discovery.Radio
	DetectionRange   int
	MaxMessageLength int
	Publisher        Publisher
	Presence         Presence
	Pusher           Pusher
	Clock            ident.Clock
	Logger           *slog.Logger
}

type ChatSnapshot struct {
	Conversations []models.Conversation `json:"conversations"`
	TotalUnread   int                   `json:"total_unread"`
}

type OffersSnapshot struct {
	Sent     []models.CoffeeOffer `json:"sent"`
	Received []models.CoffeeOffer `json:"received"`
}

type Session struct {
	UserID    string
	Discovery *discovery.Model
	Chat      *chat.Model
	Offers    *offer.Model

	cleanup []func()
}

func (s *Session) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	s.Discovery.Close()
}

type Manager struct {
	cfg    Config
	ids    *ident.Generator
	relay  relay.Relay
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Relay == nil {
		cfg.Relay = relay.NewLocal(cfg.Logger)
	}
	m := &Manager{
		cfg:      cfg,
		ids:      ident.NewGenerator(cfg.Clock),
		relay:    cfg.Relay,
		logger:   cfg.Logger.With("component", "session"),
		sessions: make(map[string]*Session),
	}
	if cfg.Pusher != nil && cfg.Presence != nil {
		m.relay = &pushingRelay{Relay: cfg.Relay, presence: cfg.Presence, pusher: cfg.Pusher}
	}
	return m
}

// Start returns the user's session, creating and hydrating it on first call.
func (m *Manager) Start(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("session user: %w", apperr.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	s, err := m.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.sessions[userID] = s
	m.logger.Info("session started", "user", userID, "active", len(m.sessions))
	return s, nil
}

func (m *Manager) build(ctx context.Context, userID string) (*Session, error) {
	var radio discovery.Radio
	if m.cfg.Radio != nil {
		radio = m.cfg.Radio(userID)
	}
	if radio == nil {
		return nil, fmt.Errorf("no radio for %s: %w", userID, apperr.ErrCollaboratorFailure)
	}

	var discoveryOpts []discovery.Option
	if m.cfg.DetectionRange > 0 {
		discoveryOpts = append(discoveryOpts, discovery.WithDetectionRange(m.cfg.DetectionRange))
	}
	chatOpts := []chat.Option{
		chat.WithGenerator(m.ids),
		chat.WithRelay(m.relay),
		chat.WithMaxMessageLength(m.cfg.MaxMessageLength),
	}
	offerOpts := []offer.Option{
		offer.WithGenerator(m.ids),
		offer.WithRelay(m.relay),
	}
	if m.cfg.Directory != nil {
		chatOpts = append(chatOpts, chat.WithDirectory(m.cfg.Directory))
		offerOpts = append(offerOpts, offer.WithDirectory(m.cfg.Directory))
	}
	if m.cfg.Store != nil {
		chatOpts = append(chatOpts, chat.WithStore(m.cfg.Store))
		offerOpts = append(offerOpts, offer.WithStore(m.cfg.Store))
	}

	s := &Session{
		UserID:    userID,
		Discovery: discovery.New(userID, radio, m.cfg.Logger, discoveryOpts...),
		Chat:      chat.New(userID, m.cfg.Logger, chatOpts...),
		Offers:    offer.New(userID, m.cfg.Logger, offerOpts...),
	}

	if err := s.Chat.Load(ctx); err != nil {
		return nil, err
	}
	if err := s.Offers.Load(ctx); err != nil {
		return nil, err
	}

	if p := m.cfg.Publisher; p != nil {
		s.cleanup = append(s.cleanup,
			s.Discovery.Subscribe(func(state models.DiscoveryState) {
				p.Publish(userID, EventDiscovery, state)
			}),
			s.Chat.Subscribe(func(convs []models.Conversation) {
				p.Publish(userID, EventChat, chatSnapshot(convs))
			}),
			s.Offers.Subscribe(func(sent, received []models.CoffeeOffer) {
				p.Publish(userID, EventOffers, OffersSnapshot{Sent: sent, Received: received})
			}),
		)
	}

	unregister, err := m.cfg.Relay.Register(userID, m.route(s))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("register %s with relay: %w: %v", userID, apperr.ErrCollaboratorFailure, err)
	}
	s.cleanup = append(s.cleanup, unregister)
	return s, nil
}

func chatSnapshot(convs []models.Conversation) ChatSnapshot {
	total := 0
	for _, c := range convs {
		total += c.UnreadCount
	}
	return ChatSnapshot{Conversations: convs, TotalUnread: total}
}

// Snapshots returns the current state of every model of the session, keyed by
// event kind. Sockets use it to prime a new connection.
func (s *Session) Snapshots() map[string]any {
	return map[string]any{
		EventDiscovery: s.Discovery.Snapshot(),
		EventChat:      chatSnapshot(s.Chat.Conversations()),
		EventOffers:    OffersSnapshot{Sent: s.Offers.Sent(), Received: s.Offers.Received()},
	}
}

func (m *Manager) route(s *Session) relay.Handler {
	return func(ctx context.Context, env relay.Envelope) {
		var err error
		switch env.Type {
		case relay.TypeMessage:
			if env.Message == nil {
				err = errors.New("message envelope without message")
				break
			}
			err = s.Chat.Receive(ctx, *env.Message)
		case relay.TypeOffer:
			if env.Offer == nil {
				err = errors.New("offer envelope without offer")
				break
			}
			err = s.Offers.Receive(ctx, *env.Offer)
		case relay.TypeOfferResolved:
			if env.Offer == nil {
				err = errors.New("resolution envelope without offer")
				break
			}
			err = s.Offers.ApplyResolution(ctx, env.Offer.ID, env.Offer.Status)
		default:
			err = fmt.Errorf("unknown envelope type %q", env.Type)
		}
		if err != nil {
			m.logger.Warn("dropping envelope", "user", s.UserID, "type", env.Type, "error", err)
		}
	}
}

func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Ensure is Start for request paths: a token outliving a restart still gets
// its session back.
func (m *Manager) Ensure(ctx context.Context, userID string) (*Session, error) {
	if s, ok := m.Get(userID); ok {
		return s, nil
	}
	return m.Start(ctx, userID)
}

// Stop tears the user's session down. Stopping an absent session is a no-op.
func (m *Manager) Stop(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	m.logger.Info("session stopped", "user", userID, "active", remaining)
}

// SendMessage, MarkAllRead and Snapshots serve socket clients.

func (m *Manager) SendMessage(ctx context.Context, userID, receiverID, content string) (string, error) {
	s, err := m.Ensure(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.Chat.SendMessage(ctx, receiverID, content)
}

func (m *Manager) MarkAllRead(ctx context.Context, userID, conversationID string) error {
	s, err := m.Ensure(ctx, userID)
	if err != nil {
		return err
	}
	return s.Chat.MarkAllRead(ctx, conversationID)
}

func (m *Manager) Snapshots(ctx context.Context, userID string) (map[string]any, error) {
	s, err := m.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Snapshots(), nil
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// pushingRelay falls back to a push notification for addressees without a
// live socket. The envelope is still published so a running session updates.
type pushingRelay struct {
	relay.Relay
	presence Presence
	pusher   Pusher
}

func (r *pushingRelay) Publish(ctx context.Context, env relay.Envelope) error {
	err := r.Relay.Publish(ctx, env)
	if env.Type != relay.TypeOfferResolved && !r.presence.IsOnline(env.To) {
		r.pusher.Notify(ctx, env)
	}
	return err
}
