package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/codec"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/service"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store/memory"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
	"github.com/BrandonDHaskell/gatepass/internal/httpapi"
	"github.com/BrandonDHaskell/gatepass/internal/roster"
)

type principal struct{ id, role, dept string }

var (
	student = principal{id: "stu-1", role: "student"}
	mentor  = principal{id: "mentor-1", role: "mentor"}
	hod     = principal{id: "hod-cse", role: "hod"}
	guard   = principal{id: "guard-1", role: "security"}
)

// inboxNotifier records events straight into the inbox so tests can read
// them back without running the dispatcher.
type inboxNotifier struct{ inbox store.NotificationStore }

func (n inboxNotifier) Dispatch(ev types.Event) {
	_ = n.inbox.RecordNotification(context.Background(), ev)
}

type testEnv struct {
	ts        *httptest.Server
	artifacts *memory.ArtifactStore
}

// newTestServer wires up the full dependency graph using in-memory stores
// and returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	c, err := codec.New(codec.Config{Secret: "http-test-secret"})
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}
	r := &roster.Roster{
		Departments: []roster.Department{{Name: "CSE", HOD: "hod-cse"}},
		Students:    []roster.Student{{ID: "stu-1", Department: "CSE", Mentor: "mentor-1"}},
	}
	inbox := memory.NewNotificationStore()
	artifacts := memory.NewArtifactStore()

	svc := service.NewPassService(service.PassDeps{
		Store:     memory.NewPassStore(),
		Directory: service.NewDirectory(memory.NewDirectoryStore(r)),
		Codec:     c,
		Notifier:  inboxNotifier{inbox: inbox},
		Logger:    log.New(io.Discard, "", 0),
	})

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      log.New(io.Discard, "", 0),
		Addr:        ":0",
		PassService: svc,
		Artifacts:   artifacts,
		Inbox:       inbox,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, artifacts: artifacts}
}

func (e *testEnv) do(t *testing.T, as principal, method, path string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if as.id != "" {
		req.Header.Set("X-Principal-Id", as.id)
		req.Header.Set("X-Principal-Role", as.role)
	}
	if as.dept != "" {
		req.Header.Set("X-Principal-Department", as.dept)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func createBody() map[string]any {
	now := time.Now().UTC()
	return map[string]any{
		"departure_time": now.Add(2 * time.Hour).Format(time.RFC3339),
		"return_time":    now.Add(4 * time.Hour).Format(time.RFC3339),
		"reason":         "dentist appointment",
		"destination":    "city clinic",
		"category":       "medical",
	}
}

func (e *testEnv) createPass(t *testing.T) types.GatePass {
	t.Helper()
	resp := e.do(t, student, http.MethodPost, "/v1/passes", createBody())
	expectStatus(t, resp, http.StatusCreated)
	return decode[types.GatePass](t, resp)
}

func (e *testEnv) approvePass(t *testing.T) types.GatePass {
	t.Helper()
	p := e.createPass(t)
	approve := map[string]any{"decision": "approve"}

	expectStatus(t, e.do(t, mentor, http.MethodPost, "/v1/passes/"+p.ID+"/mentor-decision", approve), http.StatusOK)
	resp := e.do(t, hod, http.MethodPost, "/v1/passes/"+p.ID+"/hod-decision", approve)
	expectStatus(t, resp, http.StatusOK)
	return decode[types.GatePass](t, resp)
}

// ═══════════════════════════════════════════════════════════════════════════
// Workflow
// ═══════════════════════════════════════════════════════════════════════════

func TestPassLifecycle(t *testing.T) {
	e := newTestServer(t)

	p := e.approvePass(t)
	if p.Status != types.StatusApproved || p.SecurityCode == "" || p.QRPayload == "" {
		t.Fatalf("approved pass = status %s code %q", p.Status, p.SecurityCode)
	}

	resp := e.do(t, guard, http.MethodPost, "/v1/verify", map[string]any{
		"identifier": p.PassNumber,
		"code":       p.SecurityCode,
		"action":     "exit",
	})
	expectStatus(t, resp, http.StatusOK)
	vr := decode[types.VerifyResponse](t, resp)
	if !vr.OK || vr.Status != types.StatusUsed || vr.PassID != p.ID {
		t.Errorf("verify response = %+v", vr)
	}

	resp = e.do(t, guard, http.MethodPost, "/v1/verify", map[string]any{"identifier": p.ID, "action": "exit"})
	expectStatus(t, resp, http.StatusConflict)

	resp = e.do(t, student, http.MethodGet, "/v1/passes/"+p.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	got := decode[types.GatePass](t, resp)
	if len(got.History) != 4 {
		t.Errorf("expected 4 history entries, got %d", len(got.History))
	}
}

func TestListPasses_DefaultsToCaller(t *testing.T) {
	e := newTestServer(t)
	e.createPass(t)
	e.createPass(t)

	resp := e.do(t, student, http.MethodGet, "/v1/passes", nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[struct {
		Passes []types.GatePass `json:"passes"`
	}](t, resp)
	if len(body.Passes) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(body.Passes))
	}

	resp = e.do(t, mentor, http.MethodGet, "/v1/passes?student_id=stu-1", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestNotifications(t *testing.T) {
	e := newTestServer(t)
	e.createPass(t)

	resp := e.do(t, mentor, http.MethodGet, "/v1/notifications", nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[struct {
		Notifications []types.Event `json:"notifications"`
	}](t, resp)
	if len(body.Notifications) != 1 || body.Notifications[0].Kind != types.EventSubmitted {
		t.Fatalf("expected one submitted notification, got %+v", body.Notifications)
	}

	resp = e.do(t, mentor, http.MethodGet, "/v1/notifications?limit=zero", nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

// ═══════════════════════════════════════════════════════════════════════════
// QR artifact
// ═══════════════════════════════════════════════════════════════════════════

func TestQR_NotReadyThenServed(t *testing.T) {
	e := newTestServer(t)
	p := e.approvePass(t)

	resp := e.do(t, student, http.MethodGet, "/v1/passes/"+p.ID+"/qr", nil)
	expectStatus(t, resp, http.StatusNotFound)
	if body := decode[map[string]string](t, resp); body["error"] != "qr_not_ready" {
		t.Errorf("expected qr_not_ready, got %v", body)
	}

	png := []byte("\x89PNG\r\n\x1a\nfake")
	err := e.artifacts.PutArtifact(context.Background(), store.ArtifactRecord{
		PassID: p.ID, Kind: store.ArtifactQR, ContentType: "image/png", Data: png, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}

	resp = e.do(t, student, http.MethodGet, "/v1/passes/"+p.ID+"/qr", nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	if got, _ := io.ReadAll(resp.Body); !bytes.Equal(got, png) {
		t.Errorf("body mismatch: %q", got)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Error mapping
// ═══════════════════════════════════════════════════════════════════════════

func TestMissingPrincipal_Unauthorized(t *testing.T) {
	e := newTestServer(t)

	resp := e.do(t, principal{}, http.MethodPost, "/v1/passes", createBody())
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = e.do(t, principal{id: "x", role: "janitor"}, http.MethodGet, "/v1/passes", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestErrorMapping(t *testing.T) {
	e := newTestServer(t)
	p := e.createPass(t)

	bad := createBody()
	bad["return_time"] = bad["departure_time"]
	expectStatus(t, e.do(t, student, http.MethodPost, "/v1/passes", bad), http.StatusBadRequest)

	unknown := createBody()
	unknown["priority"] = "vip"
	expectStatus(t, e.do(t, student, http.MethodPost, "/v1/passes", unknown), http.StatusBadRequest)

	// HOD before mentor.
	expectStatus(t,
		e.do(t, hod, http.MethodPost, "/v1/passes/"+p.ID+"/hod-decision", map[string]any{"decision": "approve"}),
		http.StatusForbidden)

	approve := map[string]any{"decision": "approve"}
	expectStatus(t, e.do(t, mentor, http.MethodPost, "/v1/passes/"+p.ID+"/mentor-decision", approve), http.StatusOK)
	expectStatus(t, e.do(t, mentor, http.MethodPost, "/v1/passes/"+p.ID+"/mentor-decision", approve), http.StatusConflict)

	expectStatus(t, e.do(t, guard, http.MethodGet, "/v1/passes/no-such-pass", nil), http.StatusNotFound)

	// A student may not verify.
	expectStatus(t,
		e.do(t, student, http.MethodPost, "/v1/verify", map[string]any{"identifier": p.ID, "action": "exit"}),
		http.StatusForbidden)
}

// ═══════════════════════════════════════════════════════════════════════════
// Protobuf content negotiation
// ═══════════════════════════════════════════════════════════════════════════

func TestCreate_Protobuf(t *testing.T) {
	e := newTestServer(t)

	st, err := structpb.NewStruct(createBody())
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	raw, err := proto.Marshal(st)
	if err != nil {
		t.Fatalf("proto.Marshal: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, e.ts.URL+"/v1/passes", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Accept", "application/x-protobuf")
	req.Header.Set("X-Principal-Id", student.id)
	req.Header.Set("X-Principal-Role", student.role)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf response, got %q", ct)
	}

	data, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(data, &out); err != nil {
		t.Fatalf("proto.Unmarshal: %v", err)
	}
	fields := out.GetFields()
	if got := fields["status"].GetStringValue(); got != string(types.StatusPending) {
		t.Errorf("expected status pending, got %q", got)
	}
	if fields["id"].GetStringValue() == "" || fields["pass_number"].GetStringValue() == "" {
		t.Errorf("missing identity fields: %v", fields)
	}
}
