package service_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/service"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// ── Auto-expiry ─────────────────────────────────────────────────────────────

func TestExpireDue_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.approved(t)

	if n, err := f.svc.ExpireDue(ctx, 10); err != nil || n != 0 {
		t.Fatalf("before expiry: n=%d err=%v", n, err)
	}

	f.clock.Advance(time.Hour + time.Minute)
	if n, err := f.svc.ExpireDue(ctx, 10); err != nil || n != 1 {
		t.Fatalf("first sweep: n=%d err=%v", n, err)
	}
	if n, err := f.svc.ExpireDue(ctx, 10); err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}

	got, _ := f.svc.Get(ctx, guard, p.ID)
	if got.Status != types.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if countAction(got, types.ActionExpired) != 1 {
		t.Errorf("history = %v", historyActions(got))
	}
	last := got.History[len(got.History)-1]
	if last.ActorID != types.SystemActor {
		t.Errorf("expired entry actor = %q", last.ActorID)
	}
	if ev := f.notes.OfKind(types.EventExpired); len(ev) != 1 || ev[0].RecipientID != "stu-1" {
		t.Errorf("expected one expired event to student, got %+v", ev)
	}

	_, err := f.svc.Verify(ctx, guard, exit(p.ID, p.SecurityCode))
	if !errors.Is(err, service.ErrPolicy) || !strings.Contains(err.Error(), string(types.StatusExpired)) {
		t.Fatalf("verify after expiry: expected PolicyError naming expired, got %v", err)
	}
}

func TestExpireDue_SkipsUsedAndUnapproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	used := f.approved(t)
	if _, err := f.svc.Verify(ctx, guard, exit(used.ID, "")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	pending := f.create(t)

	f.clock.Advance(2 * time.Hour)
	if n, _ := f.svc.ExpireDue(ctx, 10); n != 0 {
		t.Errorf("expected nothing to expire, got %d", n)
	}
	for _, id := range []string{used.ID, pending.ID} {
		got, _ := f.svc.Get(ctx, guard, id)
		if got.Status == types.StatusExpired {
			t.Errorf("pass %s wrongly expired", id)
		}
	}
}

// ── Warnings ────────────────────────────────────────────────────────────────

func TestWarnExpiring_FiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.approved(t)

	if n, _ := f.svc.WarnExpiring(ctx, 15*time.Minute, 10); n != 0 {
		t.Fatalf("an hour out should not warn, got %d", n)
	}

	f.clock.Advance(50 * time.Minute)
	if n, err := f.svc.WarnExpiring(ctx, 15*time.Minute, 10); err != nil || n != 1 {
		t.Fatalf("first warning sweep: n=%d err=%v", n, err)
	}
	f.clock.Advance(time.Minute)
	if n, _ := f.svc.WarnExpiring(ctx, 15*time.Minute, 10); n != 0 {
		t.Fatalf("second warning sweep fired again: %d", n)
	}

	ev := f.notes.OfKind(types.EventExpiringSoon)
	if len(ev) != 1 {
		t.Fatalf("expected one expiring_soon event, got %d", len(ev))
	}
	if ev[0].Payload["minutes_remaining"] != 10 {
		t.Errorf("minutes_remaining = %v, want 10", ev[0].Payload["minutes_remaining"])
	}

	got, _ := f.svc.Get(ctx, guard, p.ID)
	if got.WarningSentAt == nil || got.Status != types.StatusApproved {
		t.Errorf("warning marker=%v status=%s", got.WarningSentAt, got.Status)
	}
	if len(got.History) != 3 {
		t.Errorf("warning must not append history: %v", historyActions(got))
	}
}

// ── Overdue ─────────────────────────────────────────────────────────────────

func TestFlagOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := f.approved(t)
	back := f.approved(t)
	for _, p := range []types.GatePass{late, back} {
		if _, err := f.svc.Verify(ctx, guard, exit(p.ID, "")); err != nil {
			t.Fatalf("Verify exit: %v", err)
		}
	}
	f.clock.Advance(3 * time.Hour)
	if _, err := f.svc.Verify(ctx, guard, entry(back.ID)); err != nil {
		t.Fatalf("Verify entry: %v", err)
	}

	if n, _ := f.svc.FlagOverdue(ctx, 10); n != 0 {
		t.Fatalf("nothing is overdue before return_time, got %d", n)
	}

	f.clock.Advance(2 * time.Hour)
	if n, err := f.svc.FlagOverdue(ctx, 10); err != nil || n != 1 {
		t.Fatalf("FlagOverdue: n=%d err=%v", n, err)
	}
	if n, _ := f.svc.FlagOverdue(ctx, 10); n != 0 {
		t.Fatalf("overdue flagged twice: %d", n)
	}

	ev := f.notes.OfKind(types.EventOverdue)
	if len(ev) != 2 {
		t.Fatalf("expected overdue to student and mentor, got %d events", len(ev))
	}
	recipients := map[string]bool{ev[0].RecipientID: true, ev[1].RecipientID: true}
	if !recipients["stu-1"] || !recipients["mentor-1"] || ev[0].PassID != late.ID {
		t.Errorf("unexpected overdue events %+v", ev)
	}

	got, _ := f.svc.Get(ctx, guard, late.ID)
	if got.Status != types.StatusUsed || got.OverdueFlaggedAt == nil {
		t.Errorf("status=%s flagged=%v", got.Status, got.OverdueFlaggedAt)
	}
}

// ── Scheduler ───────────────────────────────────────────────────────────────

type recordingHealth struct {
	mu     sync.Mutex
	status map[string]bool
	calls  int
}

func (h *recordingHealth) SetServing(service string, serving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == nil {
		h.status = map[string]bool{}
	}
	h.status[service] = serving
	h.calls++
}

func (h *recordingHealth) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestExpiryScheduler_SweepIsBounded(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < service.DefaultMaxOutstanding; i++ {
		f.approved(t)
	}
	f.clock.Advance(2 * time.Hour)

	health := &recordingHealth{}
	s := service.NewExpiryScheduler(f.svc, service.SchedulerConfig{BatchLimit: 2}, health, log.New(io.Discard, "", 0))

	first := s.Sweep(context.Background())
	if first.Expired != 2 {
		t.Fatalf("first sweep expired %d, want 2", first.Expired)
	}
	second := s.Sweep(context.Background())
	if second.Expired != 1 {
		t.Fatalf("second sweep expired %d, want 1", second.Expired)
	}
	if third := s.Sweep(context.Background()); third != (service.SweepResult{}) {
		t.Fatalf("third sweep did work: %+v", third)
	}

	if !health.status[service.HealthService] {
		t.Error("expected scheduler to report SERVING")
	}
}

func TestExpiryScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	p := f.approved(t)
	f.clock.Advance(2 * time.Hour)

	health := &recordingHealth{}
	s := service.NewExpiryScheduler(f.svc, service.SchedulerConfig{Interval: time.Hour}, health, log.New(io.Discard, "", 0))
	s.Start(context.Background())

	// Start sweeps immediately.
	deadline := time.Now().Add(2 * time.Second)
	for health.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if health.Calls() == 0 {
		t.Fatal("scheduler never swept")
	}
	got, _ := f.svc.Get(context.Background(), guard, p.ID)
	if got.Status != types.StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}
