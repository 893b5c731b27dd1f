package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// NotificationStore is an in-memory append-only inbox.  It is intended
// for tests and dev environments.
type NotificationStore struct {
	mu     sync.Mutex
	events []types.Event
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{}
}

func (s *NotificationStore) RecordNotification(_ context.Context, ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// ListNotifications returns the newest events for recipientID first.
func (s *NotificationStore) ListNotifications(_ context.Context, recipientID string, limit int) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].RecipientID != recipientID {
			continue
		}
		out = append(out, s.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Events returns a copy of everything recorded.  Test-only helper.
func (s *NotificationStore) Events() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}
