package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/artifact"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/codec"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

const (
	DefaultApprovalValidity = time.Hour
	DefaultMaxOutstanding   = 3

	// maxCommitAttempts bounds the reload-and-retry loop on version
	// conflicts.
	maxCommitAttempts = 5
)

// Notifier receives events after the transition that produced them has
// committed.  Implementations must not block.
type Notifier interface {
	Dispatch(ev types.Event)
}

// ArtifactQueue accepts rendering work after HOD approval.  Enqueue
// reports whether the task was accepted.
type ArtifactQueue interface {
	Enqueue(t artifact.Task) bool
}

type Policy struct {
	// ApprovalValidity is added to the HOD approval time to get expiresAt.
	ApprovalValidity time.Duration

	// MaxOutstanding caps a student's pending, mentor_approved and
	// approved passes.
	MaxOutstanding int
}

// PassDeps holds the collaborators of NewPassService.  Store, Directory
// and Codec are required.
type PassDeps struct {
	Store     store.PassStore
	Directory *Directory
	Codec     *codec.Codec
	Notifier  Notifier
	Artifacts ArtifactQueue
	Policy    Policy
	Logger    *log.Logger
	Now       func() time.Time
}

// PassService is the approval state machine.  Every transition reloads
// the pass, re-checks its preconditions and commits through a version
// checked update, so concurrent callers on one pass serialize on the
// store.
type PassService struct {
	store     store.PassStore
	directory *Directory
	codec     *codec.Codec
	notifier  Notifier
	artifacts ArtifactQueue
	policy    Policy
	logger    *log.Logger
	now       func() time.Time

	creating *keyLock
}

func NewPassService(d PassDeps) *PassService {
	p := d.Policy
	if p.ApprovalValidity <= 0 {
		p.ApprovalValidity = DefaultApprovalValidity
	}
	if p.MaxOutstanding <= 0 {
		p.MaxOutstanding = DefaultMaxOutstanding
	}
	logger := d.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &PassService{
		store:     d.Store,
		directory: d.Directory,
		codec:     d.Codec,
		notifier:  d.Notifier,
		artifacts: d.Artifacts,
		policy:    p,
		logger:    logger,
		now:       now,
		creating:  newKeyLock(),
	}
}

// Create opens a new pending pass for the calling student and notifies
// the mentor.
func (s *PassService) Create(ctx context.Context, actor types.Principal, req types.CreatePassRequest) (types.GatePass, error) {
	if actor.Role != types.RoleStudent {
		return types.GatePass{}, policyf("only students may request passes")
	}
	studentID := strings.TrimSpace(actor.ID)
	if studentID == "" {
		return types.GatePass{}, validationf("student id is required")
	}

	now := s.clock()
	departure := req.DepartureAt.UTC().Truncate(time.Millisecond)
	ret := req.ReturnAt.UTC().Truncate(time.Millisecond)
	reason := strings.TrimSpace(req.Reason)
	destination := strings.TrimSpace(req.Destination)

	switch {
	case req.DepartureAt.IsZero() || req.ReturnAt.IsZero():
		return types.GatePass{}, validationf("departure_time and return_time are required")
	case !departure.After(now):
		return types.GatePass{}, validationf("departure_time must be in the future")
	case !ret.After(departure):
		return types.GatePass{}, validationf("return_time must be after departure_time")
	case !req.Category.Valid():
		return types.GatePass{}, validationf("unknown category %q", req.Category)
	case reason == "":
		return types.GatePass{}, validationf("reason is required")
	case destination == "":
		return types.GatePass{}, validationf("destination is required")
	}

	// Counting and inserting under one lock keeps two concurrent requests
	// from both slipping under the cap.
	unlock := s.creating.Lock(studentID)
	defer unlock()

	open, err := s.store.Find(ctx, store.PassFilter{
		StudentID: studentID,
		Statuses:  types.OutstandingStatuses,
	})
	if err != nil {
		return types.GatePass{}, err
	}
	if len(open) >= s.policy.MaxOutstanding {
		return types.GatePass{}, policyf("student already has %d outstanding passes (limit %d)",
			len(open), s.policy.MaxOutstanding)
	}

	who, err := s.directory.Resolve(ctx, actor)
	if err != nil {
		return types.GatePass{}, err
	}

	p := types.GatePass{
		StudentID:        studentID,
		MentorID:         who.MentorID,
		HODID:            who.HODID,
		Department:       who.Department,
		Reason:           reason,
		Destination:      destination,
		Category:         req.Category,
		EmergencyContact: strings.TrimSpace(req.EmergencyContact),
		DepartureAt:      departure,
		ReturnAt:         ret,
		MentorApproval:   types.Approval{Status: types.ApprovalPending},
		HODApproval:      types.Approval{Status: types.ApprovalPending},
		History: []types.HistoryEntry{
			{Action: types.ActionCreated, At: now, ActorID: studentID},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Status = types.DeriveStatus(p)

	for attempt := 0; ; attempt++ {
		p.ID, p.PassNumber, p.VerificationToken = newIdentity(now)
		err = s.store.Insert(ctx, p)
		if errors.Is(err, store.ErrDuplicate) && attempt < maxCommitAttempts {
			continue
		}
		break
	}
	if err != nil {
		return types.GatePass{}, err
	}

	s.emit(types.Event{
		RecipientID: p.MentorID,
		Kind:        types.EventSubmitted,
		PassID:      p.ID,
		Priority:    types.PriorityNormal,
		Payload: map[string]any{
			"pass_number": p.PassNumber,
			"student_id":  p.StudentID,
			"category":    string(p.Category),
			"stage":       "mentor",
		},
		OccurredAt: now,
	})
	return p, nil
}

// Get returns one pass the actor is allowed to see.
func (s *PassService) Get(ctx context.Context, actor types.Principal, id string) (types.GatePass, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return types.GatePass{}, err
	}
	if !canRead(actor, p) {
		return types.GatePass{}, policyf("%s %s may not view pass %s", actor.Role, actor.ID, p.ID)
	}
	return p, nil
}

// ListForStudent returns studentID's passes, oldest first.  Students see
// only their own; mentors and HODs see the ones assigned to them.
func (s *PassService) ListForStudent(ctx context.Context, actor types.Principal, studentID string) ([]types.GatePass, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, validationf("student id is required")
	}
	f := store.PassFilter{StudentID: studentID}

	switch actor.Role {
	case types.RoleStudent:
		if actor.ID != studentID {
			return nil, policyf("students may only list their own passes")
		}
	case types.RoleMentor:
		f.MentorID = actor.ID
	case types.RoleHOD:
		f.HODID = actor.ID
	case types.RoleSecurity, types.RoleAdmin:
	default:
		return nil, policyf("role %q may not list passes", actor.Role)
	}

	out, err := s.store.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []types.GatePass{}
	}
	return out, nil
}

func canRead(actor types.Principal, p types.GatePass) bool {
	switch actor.Role {
	case types.RoleStudent:
		return actor.ID == p.StudentID
	case types.RoleMentor:
		return actor.ID == p.MentorID
	case types.RoleHOD:
		return actor.ID == p.HODID
	case types.RoleSecurity, types.RoleAdmin:
		return true
	}
	return false
}

func (s *PassService) load(ctx context.Context, id string) (types.GatePass, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.GatePass{}, validationf("pass id is required")
	}
	p, err := s.store.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.GatePass{}, notFoundf("pass %s not found", id)
	}
	return p, err
}

// planFn inspects the freshly loaded pass and returns the patch to commit,
// or the precondition failure.  It must not have side effects: it may run
// more than once.
type planFn func(cur types.GatePass, now time.Time) (types.PassPatch, error)

// errNothingToDo lets a plan decline without an error reaching the caller.
var errNothingToDo = errors.New("nothing to do")

// mutate loads id, plans a patch and commits it against the loaded
// version.  A version conflict means someone else committed in between,
// so it reloads and plans again.
func (s *PassService) mutate(ctx context.Context, id string, plan planFn) (types.GatePass, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		cur, err := s.load(ctx, id)
		if err != nil {
			return types.GatePass{}, err
		}
		now := s.clock()
		patch, err := plan(cur, now)
		if err != nil {
			return types.GatePass{}, err
		}
		if patch.At.IsZero() {
			patch.At = now
		}

		next, err := s.store.Update(ctx, cur.ID, cur.Version, patch)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return types.GatePass{}, notFoundf("pass %s not found", id)
		}
		if err != nil {
			return types.GatePass{}, err
		}
		return next, nil
	}
	return types.GatePass{}, conflictf("pass %s is being modified concurrently; retry", id)
}

func (s *PassService) emit(ev types.Event) {
	if s.notifier == nil || ev.RecipientID == "" {
		return
	}
	s.notifier.Dispatch(ev)
}

// clock returns the current time at the store's millisecond precision.
func (s *PassService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// newIdentity mints the id, the human-readable pass number and the
// verification token for a new pass.
func newIdentity(now time.Time) (id, number, token string) {
	id = uuid.NewString()
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	number = fmt.Sprintf("GP-%s-%s", now.UTC().Format("20060102"), suffix)
	token = uuid.NewString()
	return id, number, token
}
