// Package relay carries chat messages and coffee offers between user sessions.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/4xmen/cafemeet/internal/models"
)

type EnvelopeType string

const (
	TypeMessage       EnvelopeType = "message"
	TypeOffer         EnvelopeType = "offer"
	TypeOfferResolved EnvelopeType = "offer_resolved"
)

// Envelope is addressed to a single user.
type Envelope struct {
	Type    EnvelopeType        `json:"type"`
	To      string              `json:"to"`
	Message *models.Message     `json:"message,omitempty"`
	Offer   *models.CoffeeOffer `json:"offer,omitempty"`
}

// Handler consumes envelopes addressed to a registered user.
type Handler func(context.Context, Envelope)

type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	Register(userID string, h Handler) (unregister func(), err error)
	Close() error
}

// Local delivers envelopes in-process. Envelopes for users without a
// registration are dropped; the store still holds them for the next session.
type Local struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		logger:   logger.With("component", "relay", "driver", "local"),
		handlers: make(map[string]Handler),
	}
}

func (l *Local) Publish(ctx context.Context, env Envelope) error {
	l.mu.RLock()
	h, ok := l.handlers[env.To]
	l.mu.RUnlock()

	if !ok {
		l.logger.Debug("recipient offline", "to", env.To, "type", env.Type)
		return nil
	}
	h(ctx, env)
	return nil
}

func (l *Local) Register(userID string, h Handler) (func(), error) {
	l.mu.Lock()
	l.handlers[userID] = h
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.handlers, userID)
		l.mu.Unlock()
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.handlers = make(map[string]Handler)
	l.mu.Unlock()
	return nil
}
