package types

import "time"

type CreatePassRequest struct {
	DepartureAt      time.Time `json:"departure_time"`
	ReturnAt         time.Time `json:"return_time"`
	Reason           string    `json:"reason"`
	Destination      string    `json:"destination"`
	Category         Category  `json:"category"`
	EmergencyContact string    `json:"emergency_contact,omitempty"`
}

// Decision is an approver's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type DecisionRequest struct {
	Decision Decision `json:"decision"`
	Comments string   `json:"comments,omitempty"`
}

// GateAction says which way the student is crossing the gate.
type GateAction string

const (
	GateExit  GateAction = "exit"
	GateEntry GateAction = "entry"
)

type VerifyRequest struct {
	// Identifier is a pass id, pass number, verification token or the
	// signed QR token.
	Identifier string     `json:"identifier"`
	Code       string     `json:"code,omitempty"`
	Action     GateAction `json:"action"`
}

type VerifyResponse struct {
	OK         bool       `json:"ok"`
	PassID     string     `json:"pass_id"`
	PassNumber string     `json:"pass_number"`
	StudentID  string     `json:"student_id"`
	Status     Status     `json:"status"`
	Action     GateAction `json:"action"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	EntryTime  *time.Time `json:"entry_time,omitempty"`
	ReturnAt   time.Time  `json:"return_time"`
	ServerTime string     `json:"server_time"`
}
