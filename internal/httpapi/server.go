package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/service"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// Principal headers are set by the trusted gateway in front of the server.
const (
	headerPrincipalID         = "X-Principal-Id"
	headerPrincipalRole       = "X-Principal-Role"
	headerPrincipalDepartment = "X-Principal-Department"
)

type Dependencies struct {
	Logger      *log.Logger
	Addr        string
	PassService *service.PassService
	Artifacts   store.ArtifactStore
	Inbox       store.NotificationStore
}

type Server struct {
	httpServer  *http.Server
	logger      *log.Logger
	mux         *http.ServeMux
	passService *service.PassService
	artifacts   store.ArtifactStore
	inbox       store.NotificationStore
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:      d.Logger,
		mux:         mux,
		passService: d.PassService,
		artifacts:   d.Artifacts,
		inbox:       d.Inbox,
	}

	mux.HandleFunc("POST /v1/passes", s.handleCreate)
	mux.HandleFunc("GET /v1/passes", s.handleList)
	mux.HandleFunc("GET /v1/passes/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/passes/{id}/mentor-decision", s.handleMentorDecision)
	mux.HandleFunc("POST /v1/passes/{id}/hod-decision", s.handleHODDecision)
	mux.HandleFunc("GET /v1/passes/{id}/qr", s.handleQR)
	mux.HandleFunc("POST /v1/verify", s.handleVerify)
	mux.HandleFunc("GET /v1/notifications", s.handleNotifications)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req types.CreatePassRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request_body", "invalid request body")
		return
	}

	p, err := s.passService.Create(r.Context(), actor, req)
	if err != nil {
		s.writeServiceError(w, "create", err)
		return
	}
	respond(w, r, http.StatusCreated, p)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.principal(w, r)
	if !ok {
		return
	}
	studentID := strings.TrimSpace(r.URL.Query().Get("student_id"))
	if studentID == "" && actor.Role == types.RoleStudent {
		studentID = actor.ID
	}

	passes, err := s.passService.ListForStudent(r.Context(), actor, studentID)
	if err != nil {
		s.writeServiceError(w, "list", err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"passes": passes})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.principal(w, r)
	if !ok {
		return
	}
	p, err := s.passService.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, "get", err)
		return
	}
	respond(w, r, http.StatusOK, p)
}

func (s *Server) handleMentorDecision(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, "mentor_decision", s.passService.MentorDecide)
}

func (s *Server) handleHODDecision(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, "hod_decision", s.passService.HODDecide)
}

type decideFn func(ctx context.Context, actor types.Principal, id string, req types.DecisionRequest) (types.GatePass, error)

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, op string, decide decideFn) {
	actor, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req types.DecisionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request_body", "invalid request body")
		return
	}

	p, err := decide(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		s.writeServiceError(w, op, err)
		return
	}
	respond(w, r, http.StatusOK, p)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req types.VerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request_body", "invalid request body")
		return
	}

	resp, err := s.passService.Verify(r.Context(), actor, req)
	if err != nil {
		s.writeServiceError(w, "verify", err)
		return
	}
	respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.principal(w, r)
	if !ok {
		return
	}
	p, err := s.passService.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, "qr", err)
		return
	}

	rec, err := s.artifacts.GetArtifact(r.Context(), p.ID, store.ArtifactQR)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "qr_not_ready", "QR code has not been rendered for this pass")
		return
	}
	if err != nil {
		s.logger.Printf("qr error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Data)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.principal(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.inbox.ListNotifications(r.Context(), actor.ID, limit)
	if err != nil {
		s.logger.Printf("notifications error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	respond(w, r, http.StatusOK, map[string]any{"notifications": events})
}

// principal reads the caller identity from the gateway headers.  It writes
// a 401 and returns false when they are missing or the role is unknown.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	id := strings.TrimSpace(r.Header.Get(headerPrincipalID))
	role := types.ParseRole(r.Header.Get(headerPrincipalRole))
	if id == "" || role == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "principal id and a known role are required")
		return types.Principal{}, false
	}
	return types.Principal{
		ID:         id,
		Role:       role,
		Department: strings.TrimSpace(r.Header.Get(headerPrincipalDepartment)),
	}, true
}

// writeServiceError maps the workflow error taxonomy onto HTTP statuses.
// Anything else is an infrastructure fault and is logged, not echoed.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch service.KindOf(err) {
	case service.KindValidation:
		writeError(w, http.StatusBadRequest, "validation_error", messageOf(err))
	case service.KindPolicy:
		writeError(w, http.StatusForbidden, "policy_error", messageOf(err))
	case service.KindConflict:
		writeError(w, http.StatusConflict, "conflict", messageOf(err))
	case service.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found", messageOf(err))
	default:
		s.logger.Printf("%s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func messageOf(err error) string {
	var e *service.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
