package db

import (
	"context"
	"fmt"
)

// Stats is a row-count summary used by the status command.
type Stats struct {
	Users             int64 `json:"users"`
	Conversations     int64 `json:"conversations"`
	Messages          int64 `json:"messages"`
	UnreadMessages    int64 `json:"unread_messages"`
	Offers            int64 `json:"offers"`
	PendingOffers     int64 `json:"pending_offers"`
	PushSubscriptions int64 `json:"push_subscriptions"`
}

func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	queries := []struct {
		dst   *int64
		query string
	}{
		{&s.Users, "SELECT COUNT(*) FROM users"},
		{&s.Conversations, "SELECT COUNT(*) FROM conversations"},
		{&s.Messages, "SELECT COUNT(*) FROM messages"},
		{&s.UnreadMessages, "SELECT COUNT(*) FROM messages WHERE read_at IS NULL"},
		{&s.Offers, "SELECT COUNT(*) FROM offers"},
		{&s.PendingOffers, "SELECT COUNT(*) FROM offers WHERE status = 'pending'"},
		{&s.PushSubscriptions, "SELECT COUNT(*) FROM push_subscriptions WHERE revoked_at IS NULL"},
	}
	for _, q := range queries {
		if err := db.conn.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return Stats{}, fmt.Errorf("failed to count (%s): %w", q.query, err)
		}
	}
	return s, nil
}
