package service_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/artifact"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/codec"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/service"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store/memory"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
	"github.com/BrandonDHaskell/gatepass/internal/roster"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	student = types.Principal{ID: "stu-1", Role: types.RoleStudent}
	mentor  = types.Principal{ID: "mentor-1", Role: types.RoleMentor}
	hod     = types.Principal{ID: "hod-cse", Role: types.RoleHOD}
	guard   = types.Principal{ID: "guard-1", Role: types.RoleSecurity}
)

// testRoster: stu-1 is fully wired, stu-2 has no mentor and stu-3 is in a
// department without a HOD.
var testRoster = &roster.Roster{
	Departments: []roster.Department{{Name: "CSE", HOD: "hod-cse"}},
	Students: []roster.Student{
		{ID: "stu-1", Department: "CSE", Mentor: "mentor-1"},
		{ID: "stu-2", Department: "CSE"},
		{ID: "stu-3", Department: "MECH", Mentor: "mentor-2"},
	},
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingNotifier keeps every dispatched event in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []types.Event
}

func (n *recordingNotifier) Dispatch(ev types.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.Event(nil), n.events...)
}

func (n *recordingNotifier) OfKind(kind types.EventKind) []types.Event {
	var out []types.Event
	for _, ev := range n.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []artifact.Task
}

func (q *recordingQueue) Enqueue(t artifact.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return true
}

func (q *recordingQueue) Tasks() []artifact.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]artifact.Task(nil), q.tasks...)
}

type fixture struct {
	svc   *service.PassService
	clock *fakeClock
	notes *recordingNotifier
	queue *recordingQueue
	codec *codec.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.NewPassStore(), memory.NewDirectoryStore(testRoster))
}

func newFixtureWithStore(t *testing.T, ps store.PassStore, ds store.DirectoryStore) *fixture {
	t.Helper()

	clk := &fakeClock{t: t0}
	c, err := codec.New(codec.Config{Secret: "service-test-secret", Now: clk.Now})
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}
	f := &fixture{
		clock: clk,
		notes: &recordingNotifier{},
		queue: &recordingQueue{},
		codec: c,
	}
	f.svc = service.NewPassService(service.PassDeps{
		Store:     ps,
		Directory: service.NewDirectory(ds),
		Codec:     c,
		Notifier:  f.notes,
		Artifacts: f.queue,
		Logger:    log.New(io.Discard, "", 0),
		Now:       clk.Now,
	})
	return f
}

func (f *fixture) createRequest() types.CreatePassRequest {
	now := f.clock.Now()
	return types.CreatePassRequest{
		DepartureAt: now.Add(2 * time.Hour),
		ReturnAt:    now.Add(4 * time.Hour),
		Reason:      "dentist appointment",
		Destination: "city clinic",
		Category:    types.CategoryMedical,
	}
}

func (f *fixture) create(t *testing.T) types.GatePass {
	t.Helper()
	p, err := f.svc.Create(context.Background(), student, f.createRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

// approved creates a pass and runs it through both approvals.
func (f *fixture) approved(t *testing.T) types.GatePass {
	t.Helper()
	p := f.create(t)
	ctx := context.Background()
	approve := types.DecisionRequest{Decision: types.DecisionApprove}

	if _, err := f.svc.MentorDecide(ctx, mentor, p.ID, approve); err != nil {
		t.Fatalf("MentorDecide: %v", err)
	}
	p, err := f.svc.HODDecide(ctx, hod, p.ID, approve)
	if err != nil {
		t.Fatalf("HODDecide: %v", err)
	}
	return p
}

func historyActions(p types.GatePass) []string {
	out := make([]string, len(p.History))
	for i, h := range p.History {
		out[i] = h.Action
	}
	return out
}

func countAction(p types.GatePass, action string) int {
	n := 0
	for _, h := range p.History {
		if h.Action == action {
			n++
		}
	}
	return n
}
