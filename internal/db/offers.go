package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/models"
)

func (db *DB) LoadOffers(ctx context.Context, userID string) ([]models.CoffeeOffer, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, kind, status, created_at
		FROM offers
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY id
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	offers := []models.CoffeeOffer{}
	for rows.Next() {
		var o models.CoffeeOffer
		if err := rows.Scan(&o.ID, &o.SenderID, &o.ReceiverID, &o.Kind, &o.Status, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading offers: %w", err)
	}
	return offers, nil
}

func (db *DB) SaveOffer(ctx context.Context, o models.CoffeeOffer) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO offers (id, sender_id, receiver_id, kind, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ID, o.SenderID, o.ReceiverID, string(o.Kind), string(o.Status), o.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", err)
	}
	return nil
}

// UpdateOfferStatus resolves a pending offer. Resolved offers are never moved
// again.
func (db *DB) UpdateOfferStatus(ctx context.Context, id string, status models.OfferStatus) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE offers SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = db.conn.QueryRowContext(ctx, "SELECT status FROM offers WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("offer %q: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read offer: %w", err)
	}
	return fmt.Errorf("offer %q is already %s: %w", id, current, apperr.ErrInvalidState)
}
