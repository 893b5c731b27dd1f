package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/gatepass/internal/db"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// NotificationStore persists workflow events as an append-only inbox.
type NotificationStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewNotificationStore(db *sql.DB, writer *dbpkg.Worker) *NotificationStore {
	return &NotificationStore{db: db, writer: writer}
}

func (s *NotificationStore) RecordNotification(ctx context.Context, ev types.Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload := []byte("{}")
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("RecordNotification payload: %w", err)
		}
		payload = b
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO notifications(recipient_id, kind, pass_id, priority, payload_json, occurred_at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, ev.RecipientID, string(ev.Kind), ev.PassID, string(ev.Priority), string(payload), toMs(ev.OccurredAt)); err != nil {
			return fmt.Errorf("RecordNotification insert: %w", err)
		}
		return nil
	})
}

// ListNotifications returns the newest events for recipientID first.
func (s *NotificationStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, pass_id, priority, payload_json, occurred_at_ms
FROM notifications
WHERE recipient_id = ?
ORDER BY id DESC
LIMIT ?;
`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListNotifications: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var (
			ev                   = types.Event{RecipientID: recipientID}
			kind, priority, body string
			occurredMs           int64
		)
		if err := rows.Scan(&kind, &ev.PassID, &priority, &body, &occurredMs); err != nil {
			return nil, fmt.Errorf("ListNotifications scan: %w", err)
		}
		ev.Kind = types.EventKind(kind)
		ev.Priority = types.Priority(priority)
		ev.OccurredAt = fromMs(occurredMs)
		if body != "" && body != "{}" {
			if err := json.Unmarshal([]byte(body), &ev.Payload); err != nil {
				return nil, fmt.Errorf("ListNotifications payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
