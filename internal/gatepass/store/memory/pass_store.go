package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// PassStore keeps passes in a map.  Every read and write copies the
// record, so callers never share memory with the store.
type PassStore struct {
	mu     sync.RWMutex
	passes map[string]types.GatePass
}

func NewPassStore() *PassStore {
	return &PassStore{passes: make(map[string]types.GatePass)}
}

func (s *PassStore) Insert(_ context.Context, p types.GatePass) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.passes[p.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range s.passes {
		if existing.PassNumber == p.PassNumber || existing.VerificationToken == p.VerificationToken {
			return store.ErrDuplicate
		}
	}
	if p.Version == 0 {
		p.Version = 1
	}
	s.passes[p.ID] = p.Clone()
	return nil
}

func (s *PassStore) FindByID(_ context.Context, id string) (types.GatePass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.passes[id]
	if !ok {
		return types.GatePass{}, store.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *PassStore) FindOne(ctx context.Context, f store.PassFilter) (types.GatePass, error) {
	f.Limit = 1
	out, err := s.Find(ctx, f)
	if err != nil {
		return types.GatePass{}, err
	}
	if len(out) == 0 {
		return types.GatePass{}, store.ErrNotFound
	}
	return out[0], nil
}

func (s *PassStore) Find(_ context.Context, f store.PassFilter) ([]types.GatePass, error) {
	s.mu.RLock()
	var out []types.GatePass
	for _, p := range s.passes {
		if matches(p, f) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.GatePass) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *PassStore) Update(_ context.Context, id string, expectedVersion int64, patch types.PassPatch) (types.GatePass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.passes[id]
	if !ok {
		return types.GatePass{}, store.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return types.GatePass{}, store.ErrVersionConflict
	}

	next := cur.Clone()
	patch.Apply(&next)
	next.Version = cur.Version + 1
	s.passes[id] = next
	return next.Clone(), nil
}

func matches(p types.GatePass, f store.PassFilter) bool {
	switch {
	case f.ID != "" && p.ID != f.ID:
		return false
	case f.PassNumber != "" && p.PassNumber != f.PassNumber:
		return false
	case f.VerificationToken != "" && p.VerificationToken != f.VerificationToken:
		return false
	case f.StudentID != "" && p.StudentID != f.StudentID:
		return false
	case f.MentorID != "" && p.MentorID != f.MentorID:
		return false
	case f.HODID != "" && p.HODID != f.HODID:
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, p.Status):
		return false
	case f.Unused && p.IsUsed:
		return false
	case f.WarningPending && p.WarningSentAt != nil:
		return false
	case f.AwaitingReturn && (!p.IsUsed || p.EntryTime != nil):
		return false
	case f.OverduePending && p.OverdueFlaggedAt != nil:
		return false
	case !f.ReturnBefore.IsZero() && !p.ReturnAt.Before(f.ReturnBefore):
		return false
	}
	if !f.ExpiresBefore.IsZero() && (p.ExpiresAt == nil || !p.ExpiresAt.Before(f.ExpiresBefore)) {
		return false
	}
	if !f.ExpiresAtOrAfter.IsZero() && (p.ExpiresAt == nil || p.ExpiresAt.Before(f.ExpiresAtOrAfter)) {
		return false
	}
	return true
}
