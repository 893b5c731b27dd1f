package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/service"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

func exit(identifier, code string) types.VerifyRequest {
	return types.VerifyRequest{Identifier: identifier, Code: code, Action: types.GateExit}
}

func entry(identifier string) types.VerifyRequest {
	return types.VerifyRequest{Identifier: identifier, Action: types.GateEntry}
}

func TestVerify_ConcurrentExit_ExactlyOneSuccess(t *testing.T) {
	f := newFixture(t)
	p := f.approved(t)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Verify(context.Background(), guard, exit(p.ID, p.SecurityCode))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, service.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || conflicts != callers-1 {
		t.Fatalf("successes=%d conflicts=%d, want 1 and %d", successes, conflicts, callers-1)
	}

	got, _ := f.svc.Get(context.Background(), guard, p.ID)
	if countAction(got, types.ActionUsed) != 1 {
		t.Errorf("history = %v", historyActions(got))
	}
	if n := len(f.notes.OfKind(types.EventUsed)); n != 1 {
		t.Errorf("expected one used event, got %d", n)
	}
}

func TestVerify_IdentifierForms(t *testing.T) {
	cases := []struct {
		name string
		id   func(types.GatePass) string
	}{
		{"pass number", func(p types.GatePass) string { return p.PassNumber }},
		{"verification token", func(p types.GatePass) string { return p.VerificationToken }},
		{"signed QR token", func(p types.GatePass) string { return p.QRPayload }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.approved(t)

			resp, err := f.svc.Verify(context.Background(), guard, exit(tc.id(p), ""))
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if resp.PassID != p.ID || resp.Status != types.StatusUsed {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestVerify_TamperedQRToken(t *testing.T) {
	f := newFixture(t)
	p := f.approved(t)

	token := []byte(p.QRPayload)
	i := strings.LastIndex(p.QRPayload, ".") + 1
	if token[i] == 'A' {
		token[i] = 'B'
	} else {
		token[i] = 'A'
	}

	_, err := f.svc.Verify(context.Background(), guard, exit(string(token), ""))
	if !errors.Is(err, service.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestVerify_WrongCode(t *testing.T) {
	f := newFixture(t)
	p := f.approved(t)

	_, err := f.svc.Verify(context.Background(), guard, exit(p.ID, "WRONG123"))
	if !errors.Is(err, service.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	got, _ := f.svc.Get(context.Background(), guard, p.ID)
	if got.IsUsed {
		t.Error("a wrong code must not consume the pass")
	}
}

func TestVerify_NotApproved(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	_, err := f.svc.Verify(context.Background(), guard, exit(p.ID, ""))
	if !errors.Is(err, service.ErrPolicy) {
		t.Fatalf("expected ErrPolicy, got %v", err)
	}
	if !strings.Contains(err.Error(), string(types.StatusPending)) {
		t.Errorf("error should name the status: %q", err)
	}
}

func TestVerify_AfterWindowBeforeSweep(t *testing.T) {
	f := newFixture(t)
	p := f.approved(t)

	f.clock.Advance(time.Hour + time.Second)
	_, err := f.svc.Verify(context.Background(), guard, exit(p.ID, p.SecurityCode))
	if !errors.Is(err, service.ErrPolicy) || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired PolicyError, got %v", err)
	}
}

func TestVerify_AtExpiryInstantStillValid(t *testing.T) {
	f := newFixture(t)
	p := f.approved(t)

	f.clock.Advance(time.Hour)
	if _, err := f.svc.Verify(context.Background(), guard, exit(p.ID, "")); err != nil {
		t.Fatalf("now == expiresAt should still verify: %v", err)
	}
}

func TestVerify_RequiresSecurityRole(t *testing.T) {
	f := newFixture(t)
	p := f.approved(t)

	for _, actor := range []types.Principal{student, mentor, hod} {
		if _, err := f.svc.Verify(context.Background(), actor, exit(p.ID, "")); !errors.Is(err, service.ErrPolicy) {
			t.Errorf("%s: expected ErrPolicy, got %v", actor.Role, err)
		}
	}
}

func TestVerify_BadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Verify(ctx, guard, types.VerifyRequest{Identifier: "x", Action: "wander"}); !errors.Is(err, service.ErrValidation) {
		t.Errorf("bad action: expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.Verify(ctx, guard, exit("  ", "")); !errors.Is(err, service.ErrValidation) {
		t.Errorf("blank identifier: expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.Verify(ctx, guard, exit("nothing-matches", "")); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("unknown identifier: expected ErrNotFound, got %v", err)
	}
}

func TestVerify_Entry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.approved(t)

	if _, err := f.svc.Verify(ctx, guard, entry(p.ID)); !errors.Is(err, service.ErrPolicy) {
		t.Fatalf("entry before exit: expected ErrPolicy, got %v", err)
	}

	if _, err := f.svc.Verify(ctx, guard, exit(p.ID, "")); err != nil {
		t.Fatalf("exit: %v", err)
	}

	// Entry is allowed after the validity window has closed.
	f.clock.Advance(3 * time.Hour)
	first, err := f.svc.Verify(ctx, guard, entry(p.ID))
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if first.Status != types.StatusUsed || first.EntryTime == nil || !first.EntryTime.Equal(f.clock.Now()) {
		t.Errorf("entry response = %+v", first)
	}

	f.clock.Advance(time.Minute)
	second, err := f.svc.Verify(ctx, guard, entry(p.ID))
	if err != nil {
		t.Fatalf("repeat entry: %v", err)
	}
	if !second.EntryTime.Equal(f.clock.Now()) {
		t.Errorf("repeat entry should overwrite the time, got %v", second.EntryTime)
	}

	got, _ := f.svc.Get(ctx, guard, p.ID)
	if len(got.History) != 4 {
		t.Errorf("entry must not append history: %v", historyActions(got))
	}
}
