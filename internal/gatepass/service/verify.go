package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/codec"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// Verify checks a pass at the gate.  An exit consumes the pass; an entry
// only records the return time of a pass that has already been used to
// leave.
func (s *PassService) Verify(ctx context.Context, actor types.Principal, req types.VerifyRequest) (types.VerifyResponse, error) {
	if actor.Role != types.RoleSecurity {
		return types.VerifyResponse{}, policyf("only security staff may verify passes")
	}
	if req.Action != types.GateExit && req.Action != types.GateEntry {
		return types.VerifyResponse{}, validationf("action must be %q or %q", types.GateExit, types.GateEntry)
	}

	id, tokenCode, err := s.resolve(ctx, req.Identifier)
	if err != nil {
		return types.VerifyResponse{}, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = tokenCode
	}

	var plan planFn
	if req.Action == types.GateExit {
		plan = func(cur types.GatePass, now time.Time) (types.PassPatch, error) {
			if cur.IsUsed {
				return types.PassPatch{}, conflictf("pass %s already used", cur.PassNumber)
			}
			if cur.Status != types.StatusApproved {
				return types.PassPatch{}, policyf("pass %s is %s", cur.PassNumber, cur.Status)
			}
			if cur.ExpiresAt == nil || now.After(*cur.ExpiresAt) {
				return types.PassPatch{}, policyf("pass %s expired", cur.PassNumber)
			}
			if err := checkCode(cur, code); err != nil {
				return types.PassPatch{}, err
			}
			return types.PassPatch{
				MarkUsed: true,
				UsedAt:   types.TimePtr(now),
				UsedBy:   actor.ID,
				Append:   []types.HistoryEntry{{Action: types.ActionUsed, At: now, ActorID: actor.ID}},
				At:       now,
			}, nil
		}
	} else {
		plan = func(cur types.GatePass, now time.Time) (types.PassPatch, error) {
			if !cur.IsUsed {
				return types.PassPatch{}, policyf("pass %s has no recorded exit", cur.PassNumber)
			}
			if err := checkCode(cur, code); err != nil {
				return types.PassPatch{}, err
			}
			return types.PassPatch{EntryTime: types.TimePtr(now), At: now}, nil
		}
	}

	next, err := s.mutate(ctx, id, plan)
	if err != nil {
		return types.VerifyResponse{}, err
	}

	if req.Action == types.GateExit {
		s.emit(types.Event{
			RecipientID: next.StudentID,
			Kind:        types.EventUsed,
			PassID:      next.ID,
			Priority:    types.PriorityNormal,
			Payload:     map[string]any{"pass_number": next.PassNumber, "verified_by": actor.ID},
			OccurredAt:  next.UpdatedAt,
		})
	}

	return types.VerifyResponse{
		OK:         true,
		PassID:     next.ID,
		PassNumber: next.PassNumber,
		StudentID:  next.StudentID,
		Status:     next.Status,
		Action:     req.Action,
		UsedAt:     next.UsedAt,
		EntryTime:  next.EntryTime,
		ReturnAt:   next.ReturnAt,
		ServerTime: s.clock().Format(time.RFC3339Nano),
	}, nil
}

// resolve maps a gate identifier onto a pass id.  A signed QR token is
// checked and carries its own security code; otherwise the identifier is
// tried as id, pass number and verification token, in that order.
func (s *PassService) resolve(ctx context.Context, identifier string) (id, code string, err error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", "", validationf("identifier is required")
	}

	if codec.LooksLikeToken(identifier) {
		res := s.codec.VerifyToken(identifier)
		if !res.Valid {
			return "", "", validationf("invalid verification token (%s)", res.Reason)
		}
		return res.Fields.PassID, res.Fields.Code, nil
	}

	for _, f := range []store.PassFilter{
		{ID: identifier},
		{PassNumber: identifier},
		{VerificationToken: identifier},
	} {
		p, err := s.store.FindOne(ctx, f)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", "", err
		}
		return p.ID, "", nil
	}
	return "", "", notFoundf("no pass matches %q", identifier)
}

func checkCode(p types.GatePass, code string) error {
	if code == "" {
		return nil
	}
	if p.SecurityCode == "" || !strings.EqualFold(code, p.SecurityCode) {
		return validationf("security code does not match")
	}
	return nil
}
