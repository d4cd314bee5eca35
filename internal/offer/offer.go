// Package offer tracks the coffee offers a user has sent and received.
//
// Offers start pending and are resolved exactly once by their receiver. The
// sender learns the outcome through ApplyResolution.
package offer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/ident"
	"github.com/4xmen/cafemeet/internal/models"
	"github.com/4xmen/cafemeet/internal/relay"
)

// Store persists offers. UpdateStatus must only move a pending offer.
type Store interface {
	LoadOffers(ctx context.Context, userID string) ([]models.CoffeeOffer, error)
	SaveOffer(ctx context.Context, o models.CoffeeOffer) error
	UpdateOfferStatus(ctx context.Context, id string, status models.OfferStatus) error
}

// Directory reports whether a user account exists.
type Directory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

type Listener func(sent, received []models.CoffeeOffer)

type Model struct {
	userID string
	store  Store
	users  Directory
	relay  relay.Relay
	ids    *ident.Generator
	logger *slog.Logger

	mu         sync.Mutex
	offers     map[string]*models.CoffeeOffer
	listeners  map[int]Listener
	nextListen int
}

type Option func(*Model)

func WithStore(s Store) Option { return func(m *Model) { m.store = s } }

func WithDirectory(d Directory) Option { return func(m *Model) { m.users = d } }

func WithRelay(r relay.Relay) Option { return func(m *Model) { m.relay = r } }

func WithGenerator(g *ident.Generator) Option { return func(m *Model) { m.ids = g } }

func New(userID string, logger *slog.Logger, opts ...Option) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Model{
		userID:    userID,
		logger:    logger.With("component", "offer", "user", userID),
		offers:    make(map[string]*models.CoffeeOffer),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ids == nil {
		m.ids = ident.NewGenerator(nil)
	}
	return m
}

func (m *Model) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	stored, err := m.store.LoadOffers(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("load offers: %w", err)
	}

	m.mu.Lock()
	m.offers = make(map[string]*models.CoffeeOffer, len(stored))
	for i := range stored {
		o := stored[i]
		m.offers[o.ID] = &o
	}
	m.mu.Unlock()

	m.notify()
	return nil
}

// SendOffer creates a pending offer to receiverID. Repeated offers to the same
// user are all kept.
func (m *Model) SendOffer(ctx context.Context, receiverID string, kind models.OfferKind) (models.CoffeeOffer, error) {
	receiverID = strings.TrimSpace(receiverID)
	if !kind.Valid() {
		return models.CoffeeOffer{}, fmt.Errorf("invalid offer type: %q: %w", kind, apperr.ErrInvalidInput)
	}
	if receiverID == "" || receiverID == m.userID {
		return models.CoffeeOffer{}, fmt.Errorf("offer receiver %q: %w", receiverID, apperr.ErrInvalidInput)
	}
	if m.users != nil {
		exists, err := m.users.UserExists(ctx, receiverID)
		if err != nil {
			return models.CoffeeOffer{}, fmt.Errorf("look up offer receiver: %w", err)
		}
		if !exists {
			return models.CoffeeOffer{}, fmt.Errorf("user not found: %q: %w", receiverID, apperr.ErrNotFound)
		}
	}

	id, ts := m.ids.NewULID()
	o := models.CoffeeOffer{
		ID:         id,
		SenderID:   m.userID,
		ReceiverID: receiverID,
		Kind:       kind,
		Status:     models.OfferPending,
		Timestamp:  ts,
	}

	m.mu.Lock()
	if m.store != nil {
		if err := m.store.SaveOffer(ctx, o); err != nil {
			m.mu.Unlock()
			return models.CoffeeOffer{}, fmt.Errorf("store offer: %w", err)
		}
	}
	m.offers[o.ID] = &o
	m.mu.Unlock()

	m.notify()
	m.publish(ctx, relay.Envelope{Type: relay.TypeOffer, To: receiverID, Offer: &o})
	return o, nil
}

// Receive records an incoming pending offer. Known ids are ignored.
func (m *Model) Receive(ctx context.Context, o models.CoffeeOffer) error {
	if o.ReceiverID != m.userID || o.SenderID == "" || o.SenderID == m.userID || o.ID == "" {
		return fmt.Errorf("malformed incoming offer %q: %w", o.ID, apperr.ErrInvalidInput)
	}
	if !o.Kind.Valid() {
		return fmt.Errorf("offer type %q: %w", o.Kind, apperr.ErrInvalidInput)
	}

	m.mu.Lock()
	if _, ok := m.offers[o.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	o.Status = models.OfferPending
	m.offers[o.ID] = &o
	m.mu.Unlock()

	m.notify()
	return nil
}

// ResolveOffer accepts or rejects a pending offer the local user received.
func (m *Model) ResolveOffer(ctx context.Context, id string, accept bool) (models.CoffeeOffer, error) {
	status := models.OfferRejected
	if accept {
		status = models.OfferAccepted
	}

	m.mu.Lock()
	o, ok := m.offers[id]
	if !ok || o.ReceiverID != m.userID {
		m.mu.Unlock()
		return models.CoffeeOffer{}, fmt.Errorf("offer not found: %q: %w", id, apperr.ErrNotFound)
	}
	if o.Status.Resolved() {
		m.mu.Unlock()
		return models.CoffeeOffer{}, fmt.Errorf("offer already resolved: %q is %s: %w", id, o.Status, apperr.ErrInvalidState)
	}
	if m.store != nil {
		if err := m.store.UpdateOfferStatus(ctx, id, status); err != nil {
			m.mu.Unlock()
			return models.CoffeeOffer{}, fmt.Errorf("store offer status: %w", err)
		}
	}
	o.Status = status
	out := *o
	m.mu.Unlock()

	m.logger.Info("offer resolved", "offer", id, "status", status)
	m.notify()
	m.publish(ctx, relay.Envelope{Type: relay.TypeOfferResolved, To: out.SenderID, Offer: &out})
	return out, nil
}

// ApplyResolution updates the sender's copy of an offer the receiver resolved.
func (m *Model) ApplyResolution(ctx context.Context, id string, status models.OfferStatus) error {
	if !status.Resolved() {
		return fmt.Errorf("resolution status %q: %w", status, apperr.ErrInvalidInput)
	}

	m.mu.Lock()
	o, ok := m.offers[id]
	if !ok || o.SenderID != m.userID {
		m.mu.Unlock()
		return fmt.Errorf("sent offer %q: %w", id, apperr.ErrNotFound)
	}
	if o.Status == status {
		m.mu.Unlock()
		return nil
	}
	if o.Status.Resolved() {
		m.mu.Unlock()
		return fmt.Errorf("offer already resolved: %q is %s: %w", id, o.Status, apperr.ErrInvalidState)
	}
	o.Status = status
	m.mu.Unlock()

	m.notify()
	return nil
}

func (m *Model) Offer(id string) (models.CoffeeOffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.offers[id]
	if !ok {
		return models.CoffeeOffer{}, false
	}
	return *o, true
}

// Sent lists offers the local user sent, oldest first.
func (m *Model) Sent() []models.CoffeeOffer {
	return m.filter(func(o *models.CoffeeOffer) bool { return o.SenderID == m.userID })
}

// Received lists offers addressed to the local user, oldest first.
func (m *Model) Received() []models.CoffeeOffer {
	return m.filter(func(o *models.CoffeeOffer) bool { return o.ReceiverID == m.userID })
}

// PendingFrom lists unresolved offers userID sent to the local user.
func (m *Model) PendingFrom(userID string) []models.CoffeeOffer {
	return m.filter(func(o *models.CoffeeOffer) bool {
		return o.SenderID == userID && o.ReceiverID == m.userID && o.Status == models.OfferPending
	})
}

func (m *Model) filter(keep func(*models.CoffeeOffer) bool) []models.CoffeeOffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterLocked(keep)
}

func (m *Model) filterLocked(keep func(*models.CoffeeOffer) bool) []models.CoffeeOffer {
	out := []models.CoffeeOffer{}
	for _, o := range m.offers {
		if keep(o) {
			out = append(out, *o)
		}
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Model) publish(ctx context.Context, env relay.Envelope) {
	if m.relay == nil {
		return
	}
	if err := m.relay.Publish(ctx, env); err != nil {
		m.logger.Warn("offer pending delivery", "type", env.Type, "to", env.To, "error", err)
	}
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
	sent := m.filterLocked(func(o *models.CoffeeOffer) bool { return o.SenderID == m.userID })
	received := m.filterLocked(func(o *models.CoffeeOffer) bool { return o.ReceiverID == m.userID })
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(sent, received)
	}
}
