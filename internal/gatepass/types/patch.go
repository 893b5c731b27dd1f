package types

import "time"

// DeriveStatus computes the overall status from the approval stages and
// the usage/expiry markers.  It is the only place Status is decided.
func DeriveStatus(p GatePass) Status {
	switch {
	case p.MentorApproval.Status == ApprovalRejected,
		p.HODApproval.Status == ApprovalRejected:
		return StatusRejected
	case p.IsUsed:
		return StatusUsed
	case p.ExpiredAt != nil:
		return StatusExpired
	case p.HODApproval.Status == ApprovalApproved:
		return StatusApproved
	case p.MentorApproval.Status == ApprovalApproved:
		return StatusMentorApproved
	default:
		return StatusPending
	}
}

// PassPatch is a partial update to a pass plus the history entries the
// same commit appends.  Nil fields are left untouched.  There is no
// Status field: Apply re-derives it.
type PassPatch struct {
	MentorApproval *Approval
	HODApproval    *Approval

	MarkUsed  bool
	UsedAt    *time.Time
	UsedBy    string
	EntryTime *time.Time

	SecurityCode string
	QRPayload    string

	ExpiresAt        *time.Time
	ExpiredAt        *time.Time
	WarningSentAt    *time.Time
	OverdueFlaggedAt *time.Time

	Append []HistoryEntry

	// At stamps UpdatedAt.  Zero leaves UpdatedAt unchanged.
	At time.Time
}

// Apply writes the patch onto p and recomputes Status.  Security material
// and the used flag are write-once: Apply never clears or replaces them.
func (patch PassPatch) Apply(p *GatePass) {
	if patch.MentorApproval != nil {
		a := *patch.MentorApproval
		a.DecidedAt = cloneTime(a.DecidedAt)
		p.MentorApproval = a
	}
	if patch.HODApproval != nil {
		a := *patch.HODApproval
		a.DecidedAt = cloneTime(a.DecidedAt)
		p.HODApproval = a
	}
	if patch.MarkUsed && !p.IsUsed {
		p.IsUsed = true
		p.UsedAt = cloneTime(patch.UsedAt)
		p.UsedBy = patch.UsedBy
	}
	if patch.EntryTime != nil {
		p.EntryTime = cloneTime(patch.EntryTime)
	}
	if patch.SecurityCode != "" && p.SecurityCode == "" {
		p.SecurityCode = patch.SecurityCode
	}
	if patch.QRPayload != "" && p.QRPayload == "" {
		p.QRPayload = patch.QRPayload
	}
	if patch.ExpiresAt != nil {
		p.ExpiresAt = cloneTime(patch.ExpiresAt)
	}
	if patch.ExpiredAt != nil && p.ExpiredAt == nil {
		p.ExpiredAt = cloneTime(patch.ExpiredAt)
	}
	if patch.WarningSentAt != nil {
		p.WarningSentAt = cloneTime(patch.WarningSentAt)
	}
	if patch.OverdueFlaggedAt != nil {
		p.OverdueFlaggedAt = cloneTime(patch.OverdueFlaggedAt)
	}
	p.History = append(p.History, patch.Append...)
	if !patch.At.IsZero() {
		p.UpdatedAt = patch.At.UTC()
	}
	p.Status = DeriveStatus(*p)
}
