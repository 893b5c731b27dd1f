package service

import (
	"context"
	"strings"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/artifact"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/codec"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// MentorDecide records the first-stage decision.  Approval forwards the
// pass to the HOD; rejection ends it.
func (s *PassService) MentorDecide(ctx context.Context, actor types.Principal, id string, req types.DecisionRequest) (types.GatePass, error) {
	if err := checkDecision(req.Decision); err != nil {
		return types.GatePass{}, err
	}
	comments := strings.TrimSpace(req.Comments)

	next, err := s.mutate(ctx, id, func(cur types.GatePass, now time.Time) (types.PassPatch, error) {
		if actor.ID == "" || actor.ID != cur.MentorID {
			return types.PassPatch{}, policyf("%s is not the mentor for pass %s", actor.ID, cur.ID)
		}
		if cur.MentorApproval.Status != types.ApprovalPending {
			return types.PassPatch{}, conflictf("mentor decision already processed (%s)", cur.MentorApproval.Status)
		}

		approval, action := decided(req.Decision, now, comments, actor.ID,
			types.ActionMentorApproved, types.ActionMentorRejected)
		return types.PassPatch{
			MentorApproval: &approval,
			Append:         []types.HistoryEntry{{Action: action, At: now, ActorID: actor.ID, Comments: comments}},
			At:             now,
		}, nil
	})
	if err != nil {
		return types.GatePass{}, err
	}

	if req.Decision == types.DecisionApprove {
		s.emit(types.Event{
			RecipientID: next.StudentID,
			Kind:        types.EventApproved,
			PassID:      next.ID,
			Priority:    types.PriorityNormal,
			Payload:     map[string]any{"pass_number": next.PassNumber, "stage": "mentor", "comments": comments},
			OccurredAt:  next.UpdatedAt,
		})
		s.emit(types.Event{
			RecipientID: next.HODID,
			Kind:        types.EventSubmitted,
			PassID:      next.ID,
			Priority:    types.PriorityNormal,
			Payload: map[string]any{
				"pass_number": next.PassNumber,
				"student_id":  next.StudentID,
				"category":    string(next.Category),
				"stage":       "hod",
			},
			OccurredAt: next.UpdatedAt,
		})
	} else {
		s.emitRejected(next, "mentor", comments)
	}
	return next, nil
}

// HODDecide records the final decision.  Approval opens the validity
// window and issues the security code and signed QR token.
func (s *PassService) HODDecide(ctx context.Context, actor types.Principal, id string, req types.DecisionRequest) (types.GatePass, error) {
	if err := checkDecision(req.Decision); err != nil {
		return types.GatePass{}, err
	}
	comments := strings.TrimSpace(req.Comments)

	next, err := s.mutate(ctx, id, func(cur types.GatePass, now time.Time) (types.PassPatch, error) {
		if cur.MentorApproval.Status != types.ApprovalApproved {
			return types.PassPatch{}, policyf("mentor approval required")
		}
		if actor.ID == "" || actor.ID != cur.HODID {
			return types.PassPatch{}, policyf("%s is not the HOD for pass %s", actor.ID, cur.ID)
		}
		if cur.HODApproval.Status != types.ApprovalPending {
			return types.PassPatch{}, conflictf("HOD decision already processed (%s)", cur.HODApproval.Status)
		}

		approval, action := decided(req.Decision, now, comments, actor.ID,
			types.ActionHODApproved, types.ActionHODRejected)
		patch := types.PassPatch{
			HODApproval: &approval,
			Append:      []types.HistoryEntry{{Action: action, At: now, ActorID: actor.ID, Comments: comments}},
			At:          now,
		}
		if req.Decision == types.DecisionReject {
			return patch, nil
		}

		code := s.codec.SecurityCode(cur.ID)
		token, err := s.codec.BuildToken(codec.TokenFields{
			PassID:      cur.ID,
			StudentID:   cur.StudentID,
			Category:    cur.Category,
			DepartureAt: cur.DepartureAt,
			ReturnAt:    cur.ReturnAt,
			Status:      types.StatusApproved,
			Code:        code,
		}, now)
		if err != nil {
			return types.PassPatch{}, err
		}
		patch.ExpiresAt = types.TimePtr(now.Add(s.policy.ApprovalValidity))
		patch.SecurityCode = code
		patch.QRPayload = token
		return patch, nil
	})
	if err != nil {
		return types.GatePass{}, err
	}

	if req.Decision == types.DecisionReject {
		s.emitRejected(next, "hod", comments)
		return next, nil
	}

	payload := map[string]any{"pass_number": next.PassNumber, "comments": comments}
	if next.ExpiresAt != nil {
		payload["expires_at"] = next.ExpiresAt.Format(time.RFC3339)
	}
	s.emit(types.Event{
		RecipientID: next.StudentID,
		Kind:        types.EventFullyApproved,
		PassID:      next.ID,
		Priority:    types.PriorityHigh,
		Payload:     payload,
		OccurredAt:  next.UpdatedAt,
	})

	if s.artifacts != nil {
		task := artifact.Task{PassID: next.ID, Token: next.QRPayload, Code: next.SecurityCode}
		if !s.artifacts.Enqueue(task) {
			s.logger.Printf("artifact queue full, QR for pass %s not rendered", next.ID)
		}
	}
	return next, nil
}

func (s *PassService) emitRejected(p types.GatePass, stage, comments string) {
	s.emit(types.Event{
		RecipientID: p.StudentID,
		Kind:        types.EventRejected,
		PassID:      p.ID,
		Priority:    types.PriorityHigh,
		Payload:     map[string]any{"pass_number": p.PassNumber, "stage": stage, "comments": comments},
		OccurredAt:  p.UpdatedAt,
	})
}

func checkDecision(d types.Decision) error {
	switch d {
	case types.DecisionApprove, types.DecisionReject:
		return nil
	}
	return validationf("decision must be %q or %q", types.DecisionApprove, types.DecisionReject)
}

func decided(d types.Decision, now time.Time, comments, actorID, approvedAction, rejectedAction string) (types.Approval, string) {
	a := types.Approval{
		Status:    types.ApprovalApproved,
		DecidedAt: types.TimePtr(now),
		Comments:  comments,
		ActorID:   actorID,
	}
	if d == types.DecisionReject {
		a.Status = types.ApprovalRejected
		return a, rejectedAction
	}
	return a, approvedAction
}
