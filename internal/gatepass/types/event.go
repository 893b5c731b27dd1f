package types

import "time"

// EventKind names a notification the workflow emits.
type EventKind string

const (
	EventSubmitted     EventKind = "submitted"
	EventApproved      EventKind = "approved"
	EventRejected      EventKind = "rejected"
	EventFullyApproved EventKind = "fully_approved"
	EventUsed          EventKind = "used"
	EventExpired       EventKind = "expired"
	EventExpiringSoon  EventKind = "expiring_soon"
	EventOverdue       EventKind = "overdue"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Event is handed to the notification dispatcher after a transition
// commits.  Delivery is not the workflow's concern.
type Event struct {
	RecipientID string         `json:"recipient_id"`
	Kind        EventKind      `json:"kind"`
	PassID      string         `json:"pass_id"`
	Priority    Priority       `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
