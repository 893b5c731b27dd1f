package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// ExpireDue moves up to limit approved, unused passes whose window has
// closed to expired.  A pass that changed since it was selected is
// re-checked and skipped if it no longer qualifies, so running the sweep
// twice never expires a pass twice.
func (s *PassService) ExpireDue(ctx context.Context, limit int) (int, error) {
	candidates, err := s.store.Find(ctx, store.PassFilter{
		Statuses:      []types.Status{types.StatusApproved},
		Unused:        true,
		ExpiresBefore: s.clock(),
		Limit:         limit,
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range candidates {
		next, err := s.mutate(ctx, c.ID, func(cur types.GatePass, now time.Time) (types.PassPatch, error) {
			if cur.Status != types.StatusApproved || cur.IsUsed ||
				cur.ExpiresAt == nil || !cur.ExpiresAt.Before(now) {
				return types.PassPatch{}, errNothingToDo
			}
			return types.PassPatch{
				ExpiredAt: types.TimePtr(now),
				Append:    []types.HistoryEntry{{Action: types.ActionExpired, At: now, ActorID: types.SystemActor}},
				At:        now,
			}, nil
		})
		if errors.Is(err, errNothingToDo) {
			continue
		}
		if err != nil {
			s.logger.Printf("expire pass %s: %v", c.ID, err)
			continue
		}
		n++
		s.emit(types.Event{
			RecipientID: next.StudentID,
			Kind:        types.EventExpired,
			PassID:      next.ID,
			Priority:    types.PriorityNormal,
			Payload:     map[string]any{"pass_number": next.PassNumber},
			OccurredAt:  next.UpdatedAt,
		})
	}
	return n, nil
}

// WarnExpiring sends one expiring_soon event per approved, unused pass
// whose expiry falls within window from now.  The warning marker is
// committed before the event is emitted, so a pass is warned at most once.
func (s *PassService) WarnExpiring(ctx context.Context, window time.Duration, limit int) (int, error) {
	now := s.clock()
	candidates, err := s.store.Find(ctx, store.PassFilter{
		Statuses:         []types.Status{types.StatusApproved},
		Unused:           true,
		ExpiresAtOrAfter: now,
		ExpiresBefore:    now.Add(window),
		WarningPending:   true,
		Limit:            limit,
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range candidates {
		next, err := s.mutate(ctx, c.ID, func(cur types.GatePass, now time.Time) (types.PassPatch, error) {
			if cur.Status != types.StatusApproved || cur.IsUsed ||
				cur.WarningSentAt != nil || cur.ExpiresAt == nil || cur.ExpiresAt.Before(now) {
				return types.PassPatch{}, errNothingToDo
			}
			return types.PassPatch{WarningSentAt: types.TimePtr(now), At: now}, nil
		})
		if errors.Is(err, errNothingToDo) {
			continue
		}
		if err != nil {
			s.logger.Printf("warn pass %s: %v", c.ID, err)
			continue
		}
		n++

		remaining := int(math.Ceil(next.ExpiresAt.Sub(*next.WarningSentAt).Minutes()))
		s.emit(types.Event{
			RecipientID: next.StudentID,
			Kind:        types.EventExpiringSoon,
			PassID:      next.ID,
			Priority:    types.PriorityHigh,
			Payload: map[string]any{
				"pass_number":       next.PassNumber,
				"minutes_remaining": remaining,
				"expires_at":        next.ExpiresAt.Format(time.RFC3339),
			},
			OccurredAt: next.UpdatedAt,
		})
	}
	return n, nil
}

// FlagOverdue marks passes whose holder left campus and has not come back
// by the planned return time, and alerts the student and the mentor.  The
// lifecycle status is not touched.
func (s *PassService) FlagOverdue(ctx context.Context, limit int) (int, error) {
	candidates, err := s.store.Find(ctx, store.PassFilter{
		AwaitingReturn: true,
		ReturnBefore:   s.clock(),
		OverduePending: true,
		Limit:          limit,
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range candidates {
		next, err := s.mutate(ctx, c.ID, func(cur types.GatePass, now time.Time) (types.PassPatch, error) {
			if !cur.IsUsed || cur.EntryTime != nil || cur.OverdueFlaggedAt != nil || !cur.ReturnAt.Before(now) {
				return types.PassPatch{}, errNothingToDo
			}
			return types.PassPatch{OverdueFlaggedAt: types.TimePtr(now), At: now}, nil
		})
		if errors.Is(err, errNothingToDo) {
			continue
		}
		if err != nil {
			s.logger.Printf("flag overdue pass %s: %v", c.ID, err)
			continue
		}
		n++

		payload := map[string]any{
			"pass_number":     next.PassNumber,
			"student_id":      next.StudentID,
			"return_time":     next.ReturnAt.Format(time.RFC3339),
			"overdue_minutes": int(next.OverdueFlaggedAt.Sub(next.ReturnAt).Minutes()),
		}
		for _, to := range []string{next.StudentID, next.MentorID} {
			s.emit(types.Event{
				RecipientID: to,
				Kind:        types.EventOverdue,
				PassID:      next.ID,
				Priority:    types.PriorityUrgent,
				Payload:     payload,
				OccurredAt:  next.UpdatedAt,
			})
		}
	}
	return n, nil
}
