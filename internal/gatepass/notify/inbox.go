package notify

import (
	"context"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// InboxPublisher records events in the per-recipient notification store.
type InboxPublisher struct {
	store store.NotificationStore
}

func NewInboxPublisher(st store.NotificationStore) *InboxPublisher {
	return &InboxPublisher{store: st}
}

func (p *InboxPublisher) Name() string { return "inbox" }

func (p *InboxPublisher) Publish(ctx context.Context, ev types.Event) error {
	return p.store.RecordNotification(ctx, ev)
}
