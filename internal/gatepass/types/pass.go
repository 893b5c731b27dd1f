package types

import "time"

// Status is the overall lifecycle status of a gate pass.  The values are
// stored and sent over the wire; renaming one needs a data migration.
type Status string

const (
	StatusPending        Status = "pending"
	StatusMentorApproved Status = "mentor_approved"
	StatusApproved       Status = "approved"
	StatusUsed           Status = "used"
	StatusExpired        Status = "expired"
	StatusRejected       Status = "rejected"
)

// Terminal reports whether no operation may move a pass out of s.
func (s Status) Terminal() bool {
	return s == StatusUsed || s == StatusExpired || s == StatusRejected
}

// Outstanding reports whether a pass in status s counts against the
// student's open-pass cap.
func (s Status) Outstanding() bool {
	return s == StatusPending || s == StatusMentorApproved || s == StatusApproved
}

// OutstandingStatuses lists the statuses for which Outstanding is true.
var OutstandingStatuses = []Status{StatusPending, StatusMentorApproved, StatusApproved}

// ApprovalStatus is the state of one approval stage.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type Category string

const (
	CategoryMedical   Category = "medical"
	CategoryPersonal  Category = "personal"
	CategoryFamily    Category = "family"
	CategoryAcademic  Category = "academic"
	CategoryEmergency Category = "emergency"
	CategoryOther     Category = "other"
)

var categories = map[Category]struct{}{
	CategoryMedical:   {},
	CategoryPersonal:  {},
	CategoryFamily:    {},
	CategoryAcademic:  {},
	CategoryEmergency: {},
	CategoryOther:     {},
}

func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// Approval is one stage's decision record.  DecidedAt is nil while the
// stage is pending.
type Approval struct {
	Status    ApprovalStatus `json:"status"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	Comments  string         `json:"comments,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
}

// HistoryEntry is one line of a pass's audit trail.  Entries are only
// ever appended.
type HistoryEntry struct {
	Action   string    `json:"action"`
	At       time.Time `json:"at"`
	ActorID  string    `json:"actor_id"`
	Comments string    `json:"comments,omitempty"`
}

// History actions.
const (
	ActionCreated        = "created"
	ActionMentorApproved = "mentor_approved"
	ActionMentorRejected = "mentor_rejected"
	ActionHODApproved    = "hod_approved"
	ActionHODRejected    = "hod_rejected"
	ActionUsed           = "used"
	ActionExpired        = "expired"
)

// SystemActor is recorded as the actor of scheduler-driven transitions.
const SystemActor = "system"

// GatePass is the central record of the approval workflow.
//
// StudentID, MentorID, HODID, DepartureAt and ReturnAt are fixed at
// creation.  Status is never set directly: it is recomputed by
// DeriveStatus whenever a PassPatch is applied.
type GatePass struct {
	ID                string `json:"id"`
	PassNumber        string `json:"pass_number"`
	VerificationToken string `json:"verification_token"`

	StudentID  string `json:"student_id"`
	MentorID   string `json:"mentor_id"`
	HODID      string `json:"hod_id"`
	Department string `json:"department"`

	Reason           string   `json:"reason"`
	Destination      string   `json:"destination"`
	Category         Category `json:"category"`
	EmergencyContact string   `json:"emergency_contact,omitempty"`

	DepartureAt time.Time `json:"departure_time"`
	ReturnAt    time.Time `json:"return_time"`

	MentorApproval Approval `json:"mentor_approval"`
	HODApproval    Approval `json:"hod_approval"`

	Status Status `json:"status"`

	IsUsed    bool       `json:"is_used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	UsedBy    string     `json:"used_by,omitempty"`
	EntryTime *time.Time `json:"entry_time,omitempty"`

	SecurityCode string `json:"security_code,omitempty"`
	QRPayload    string `json:"qr_payload,omitempty"`

	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ExpiredAt        *time.Time `json:"expired_at,omitempty"`
	WarningSentAt    *time.Time `json:"warning_sent_at,omitempty"`
	OverdueFlaggedAt *time.Time `json:"overdue_flagged_at,omitempty"`

	History []HistoryEntry `json:"history"`

	// Version increases by one on every committed update and backs the
	// store's optimistic concurrency check.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate pointer and slice
// fields without aliasing a stored record.
func (p GatePass) Clone() GatePass {
	out := p
	out.MentorApproval.DecidedAt = cloneTime(p.MentorApproval.DecidedAt)
	out.HODApproval.DecidedAt = cloneTime(p.HODApproval.DecidedAt)
	out.UsedAt = cloneTime(p.UsedAt)
	out.EntryTime = cloneTime(p.EntryTime)
	out.ExpiresAt = cloneTime(p.ExpiresAt)
	out.ExpiredAt = cloneTime(p.ExpiredAt)
	out.WarningSentAt = cloneTime(p.WarningSentAt)
	out.OverdueFlaggedAt = cloneTime(p.OverdueFlaggedAt)
	if p.History != nil {
		out.History = make([]HistoryEntry, len(p.History))
		copy(out.History, p.History)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to a UTC copy of t.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
