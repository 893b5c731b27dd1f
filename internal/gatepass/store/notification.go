package store

import (
	"context"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// NotificationStore is an append-only per-recipient inbox of workflow
// events.
type NotificationStore interface {
	RecordNotification(ctx context.Context, ev types.Event) error
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]types.Event, error)
}
