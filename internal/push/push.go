package push

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/models"
	"github.com/4xmen/cafemeet/internal/relay"
	"github.com/4xmen/cafemeet/pkg/i18n"
)

// Notifier sends Web Push notifications to addressees without a live socket.
type Notifier struct {
	db              *sql.DB
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
	logger          *slog.Logger

	// send is swapped in tests.
	send func(data []byte, sub Subscription) (int, error)
}

// Subscription represents a stored Web Push subscription.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty.
func NewNotifier(db *sql.DB, vapidPublicKey, vapidPrivateKey string, logger *slog.Logger) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		db:              db,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      "mailto:push@cafemeet.local",
		logger:          logger.With("component", "push"),
	}
	n.send = n.webpush
	return n
}

func (n *Notifier) VAPIDPublicKey() string {
	return n.vapidPublicKey
}

// Subscribe stores sub for userID, moving an endpoint that was registered to
// another account.
func (n *Notifier) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	if !strings.HasPrefix(sub.Endpoint, "https://") || sub.KeyP256dh == "" || sub.KeyAuth == "" {
		return fmt.Errorf("push subscription: %w", apperr.ErrInvalidInput)
	}
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			revoked_at = NULL
	`, userID, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth)
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

func (n *Notifier) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	_, err := n.db.ExecContext(ctx, `
		UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND endpoint = ? AND revoked_at IS NULL
	`, userID, endpoint)
	if err != nil {
		return fmt.Errorf("failed to revoke push subscription: %w", err)
	}
	return nil
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Notify implements the session's offline fallback for messages and offers.
func (n *Notifier) Notify(ctx context.Context, env relay.Envelope) {
	if n == nil {
		return
	}

	var senderID string
	switch {
	case env.Type == relay.TypeMessage && env.Message != nil:
		senderID = env.Message.SenderID
	case env.Type == relay.TypeOffer && env.Offer != nil:
		senderID = env.Offer.SenderID
	default:
		return
	}

	lang, err := n.language(ctx, env.To)
	if err != nil {
		n.logger.Warn("failed to load receiver language", "user", env.To, "error", err)
	}
	senderName := n.displayName(ctx, senderID)

	p := buildPayload(lang, senderName, env)
	data, _ := json.Marshal(p)
	n.sendToUser(ctx, env.To, data)
}

func buildPayload(lang, senderName string, env relay.Envelope) payload {
	if env.Type == relay.TypeOffer {
		phrase := "wants to buy you a coffee"
		if env.Offer.Kind == models.OfferReceiving {
			phrase = "would like you to buy them a coffee"
		}
		return payload{
			Title: i18n.Translate(lang, "New coffee offer"),
			Body:  senderName + " " + i18n.Translate(lang, phrase),
			URL:   "/",
		}
	}
	return payload{
		Title: i18n.Translate(lang, "New message") + " · " + senderName,
		Body:  env.Message.Content,
		URL:   "/chat/" + env.Message.ConversationID,
	}
}

func (n *Notifier) language(ctx context.Context, userID string) (string, error) {
	var lang string
	err := n.db.QueryRowContext(ctx, "SELECT language FROM users WHERE id = ?", userID).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return i18n.DefaultLanguage, nil
	}
	if err != nil {
		return i18n.DefaultLanguage, err
	}
	return lang, nil
}

func (n *Notifier) displayName(ctx context.Context, userID string) string {
	var name string
	if err := n.db.QueryRowContext(ctx, "SELECT name FROM users WHERE id = ?", userID).Scan(&name); err != nil {
		return userID
	}
	return name
}

func (n *Notifier) subscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	rows, err := n.db.QueryContext(ctx,
		"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ? AND revoked_at IS NULL",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (n *Notifier) sendToUser(ctx context.Context, userID string, data []byte) {
	subs, err := n.subscriptions(ctx, userID)
	if err != nil {
		n.logger.Warn("failed to query subscriptions", "user", userID, "error", err)
		return
	}
	if len(subs) == 0 {
		n.logger.Debug("no active subscriptions", "user", userID)
		return
	}

	n.logger.Info("sending notification", "user", userID, "subscriptions", len(subs))
	for _, sub := range subs {
		go n.deliver(sub, data)
	}
}

func (n *Notifier) deliver(sub Subscription, data []byte) {
	status, err := n.send(data, sub)
	if err != nil {
		n.logger.Warn("push failed", "endpoint", sub.Endpoint, "error", err)
		return
	}

	// Gone or not found: the browser dropped the subscription.
	if status == http.StatusGone || status == http.StatusNotFound {
		if _, err := n.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", sub.Endpoint); err != nil {
			n.logger.Warn("failed to remove expired subscription", "endpoint", sub.Endpoint, "error", err)
			return
		}
		n.logger.Info("removed expired subscription", "endpoint", sub.Endpoint, "status", status)
	}
}

func (n *Notifier) webpush(data []byte, sub Subscription) (int, error) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := webpush.SendNotification(data, s, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      n.subscriber,
		TTL:             86400,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
