package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/4xmen/cafemeet/internal/ident"
	"github.com/4xmen/cafemeet/internal/models"
)

// LoadConversations returns every conversation userID takes part in, with
// messages in creation order.
func (db *DB) LoadConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_a, user_b, created_at
		FROM conversations
		WHERE user_a = ? OR user_b = ?
		ORDER BY created_at, id
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	index := make(map[string]int)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.Messages = []models.Message{}
		index[c.ID] = len(convs)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading conversations: %w", err)
	}
	rows.Close()

	msgRows, err := db.conn.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id, m.content, m.created_at, m.read_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_a = ? OR c.user_b = ?
		ORDER BY m.conversation_id, m.id
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var m models.Message
		var readAt sql.NullInt64
		if err := msgRows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &readAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Read = readAt.Valid
		i, ok := index[m.ConversationID]
		if !ok {
			continue
		}
		convs[i].Messages = append(convs[i].Messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading messages: %w", err)
	}

	return convs, nil
}

// EnsureConversation inserts c unless its pair already has a conversation, and
// returns whichever row owns the pair.
func (db *DB) EnsureConversation(ctx context.Context, c models.Conversation) (models.Conversation, error) {
	key := ident.PairKey(c.Participants[0], c.Participants[1])
	if _, err := db.conn.ExecContext(ctx, `
		INSERT INTO conversations (id, user_a, user_b, pair_key, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pair_key) DO NOTHING
	`, c.ID, c.Participants[0], c.Participants[1], key, c.CreatedAt); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to insert conversation: %w", err)
	}

	out := models.Conversation{Messages: []models.Message{}}
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, user_a, user_b, created_at FROM conversations WHERE pair_key = ?
	`, key).Scan(&out.ID, &out.Participants[0], &out.Participants[1], &out.CreatedAt)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to read conversation: %w", err)
	}
	return out, nil
}

func (db *DB) AppendMessage(ctx context.Context, conversationID string, msg models.Message) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, conversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// MarkRead stamps every unread message readerID received in the conversation.
func (db *DB) MarkRead(ctx context.Context, conversationID, readerID string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE messages SET read_at = ?
		WHERE conversation_id = ? AND receiver_id = ? AND read_at IS NULL
	`, time.Now().UnixMilli(), conversationID, readerID)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}
