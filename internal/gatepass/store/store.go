package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("record version changed")
	ErrDuplicate       = errors.New("duplicate record")
)

// PassFilter selects passes.  Zero-valued fields do not constrain the
// result.  Results are ordered oldest first.
type PassFilter struct {
	ID                string
	PassNumber        string
	VerificationToken string
	StudentID         string
	MentorID          string
	HODID             string
	Statuses          []types.Status

	// Unused keeps passes whose exit has not been recorded.
	Unused bool

	// ExpiresBefore and ExpiresAtOrAfter bound expires_at; passes with
	// no expiry never match either bound.
	ExpiresBefore    time.Time
	ExpiresAtOrAfter time.Time

	// WarningPending keeps passes with no expiry warning sent yet.
	WarningPending bool

	// AwaitingReturn keeps passes that have exited but have no entry time.
	AwaitingReturn bool
	ReturnBefore   time.Time
	OverduePending bool

	// Limit caps the result size.  0 means no limit.
	Limit int
}

// PassStore is durable keyed storage for gate passes.
//
// Update commits patch only if the stored version still equals
// expectedVersion, applying the field changes and the history append in
// one atomic step.  It returns ErrVersionConflict otherwise and
// ErrNotFound if the pass does not exist.
type PassStore interface {
	Insert(ctx context.Context, p types.GatePass) error
	FindByID(ctx context.Context, id string) (types.GatePass, error)
	FindOne(ctx context.Context, f PassFilter) (types.GatePass, error)
	Find(ctx context.Context, f PassFilter) ([]types.GatePass, error)
	Update(ctx context.Context, id string, expectedVersion int64, patch types.PassPatch) (types.GatePass, error)
}
