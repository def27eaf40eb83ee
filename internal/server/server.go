package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/raysh454/proctor/docs/swagger" // registers the swagger spec
	"github.com/raysh454/proctor/internal/api"
	"github.com/raysh454/proctor/internal/hub"
	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/session"
)

// maxBodyBytes bounds request bodies; violation evidence is small.
const maxBodyBytes = 64 << 10

// Server is the HTTP + WebSocket API surface for the strike ledger.
type Server struct {
	cfg     Config
	ledger  *ledger.Ledger
	hub     *hub.Hub
	router  chi.Router
	limiter *sessionLimiter
	logger  logging.Logger
}

// NewServer wires the routes around an existing ledger and hub. The caller
// owns both and must subscribe the hub to the ledger's events.
func NewServer(cfg Config, l *ledger.Ledger, h *hub.Hub) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("server")
	}
	if cfg.AuditLimit <= 0 {
		cfg.AuditLimit = DefaultConfig().AuditLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultConfig().RateBurst
	}

	s := &Server{
		cfg:     cfg,
		ledger:  l,
		hub:     h,
		router:  chi.NewRouter(),
		limiter: newSessionLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:  logger,
	}
	h.OnPresence(s.presenceChanged)
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/api/sessions", s.optionsHandler("POST"))
	r.Options("/api/violations", s.optionsHandler("POST"))
	r.Options("/api/sessions/{id}/*", s.optionsHandler("GET, POST"))

	// Student side
	r.Post(api.PathSessions, s.handleStartSession)
	r.Post(api.PathViolations, s.handleReportViolation)
	r.Get("/api/sessions/{id}/status", s.handleStatus)
	r.Get("/api/sessions/{id}/strikes", s.handleStrikes)
	r.Post("/api/sessions/{id}/close", s.handleCloseSession)
	r.Get("/ws/sessions/{id}", s.handleSessionWS)
	r.With(middleware.RealIP).Get(api.PathWhoAmI, s.handleWhoAmI)

	// Moderator side
	r.Group(func(r chi.Router) {
		r.Use(s.requireModerator)
		r.Get("/api/sessions/{id}/violations", s.handleListViolations)
		r.Get("/api/sessions/{id}/stats", s.handleStats)
		r.Post("/api/sessions/{id}/terminate", s.handleTerminate)
		r.Post("/api/sessions/{id}/warn", s.handleWarn)
		r.Put("/api/sessions/{id}/violations/{record}/review", s.handleReview)
		r.Get("/api/exams/{exam}/sessions", s.handleExamSessions)
		r.Get("/ws/exams/{exam}/monitor", s.handleMonitorWS)
	})

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if s.cfg.LogRequestBodies && r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
		if bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes)); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Debug("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// Close stops background work and drops every WebSocket subscriber. The
// ledger and hub are closed by their owner.
func (s *Server) Close() {
	s.limiter.close()
	s.hub.CloseAll()
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // websockets stream
	}
}

// presenceChanged re-broadcasts the dashboard row when a student connects
// or disconnects.
func (s *Server) presenceChanged(sessionID string) {
	e, err := s.ledger.Status(context.Background(), sessionID)
	if err != nil {
		return
	}
	s.hub.BroadcastStatus(s.hub.StatusOf(e, s.ledger.Remaining(e.Total)))
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

// decodeBody reads a JSON body into v and validates it. It writes the
// error response itself and reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	fields, err := api.Validate(v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "validation failed", Fields: fields})
		return false
	}
	return true
}

// statusFor maps ledger and session errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrSessionNotFound),
		errors.Is(err, ledger.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrSessionExists),
		errors.Is(err, ledger.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrContention):
		// Lost an optimistic update race; the client must retry, not drop.
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrInvalidViolation),
		errors.Is(err, ledger.ErrEmptyWarning):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrIllegalTransition),
		errors.Is(err, ledger.ErrNotReviewable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error, fields ...logging.Field) {
	code := statusFor(err)
	fields = append(fields, logging.Err(err))
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error(op, fields...)
	} else {
		s.logger.Warn(op, fields...)
	}
	writeError(w, code, err.Error())
}

func statusResponse(e *ledger.Entry) api.StatusResponse {
	return api.StatusResponse{
		SessionID:   e.SessionID,
		ExamID:      e.ExamID,
		StudentID:   e.StudentID,
		Status:      e.Status,
		StrikeCount: e.Total,
		Frozen:      e.Status == model.StatusFrozen,
		Terminated:  e.Status == model.StatusTerminated,
		Closed:      e.Closed(),
		Reason:      e.Reason,
	}
}

func resultResponse(res ledger.Result) api.ViolationResponse {
	return api.ViolationResponse{
		ViolationID: res.ViolationID,
		StrikeCount: res.Total,
		Remaining:   res.Remaining,
		Terminated:  res.Terminated(),
		Frozen:      res.Frozen(),
		Status:      res.Status,
		Urgency:     string(res.Urgency),
		Duplicate:   res.Duplicate(),
		Filtered:    res.Filtered(),
		Reason:      res.Reason,
	}
}

// --- HTTP handlers ---

// handleStartSession godoc
// @Summary Start an exam session
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body api.StartSessionRequest true "session"
// @Success 201 {object} api.StatusResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Router /api/sessions [post]
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body api.StartSessionRequest
	if !decodeBody(w, r, &body) {
		return
	}
	e, err := s.ledger.Start(r.Context(), ledger.StartRequest{
		SessionID: body.SessionID,
		ExamID:    body.ExamID,
		StudentID: body.StudentID,
	})
	if err != nil {
		s.fail(w, "starting session", err, logging.Field{Key: "exam", Value: body.ExamID})
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse(e))
}

// handleReportViolation godoc
// @Summary Report a violation
// @Tags violations
// @Accept json
// @Produce json
// @Param request body api.ViolationRequest true "violation"
// @Success 200 {object} api.ViolationResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Failure 429 {object} api.ErrorResponse
// @Router /api/violations [post]
func (s *Server) handleReportViolation(w http.ResponseWriter, r *http.Request) {
	var body api.ViolationRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if !s.limiter.allow(body.SessionID) {
		s.logger.Warn("violation rate limited", logging.Field{Key: "session", Value: body.SessionID})
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "too many violation reports")
		return
	}
	res, err := s.ledger.Ingest(r.Context(), body.ToViolation())
	if err != nil {
		s.fail(w, "ingesting violation", err,
			logging.Field{Key: "session", Value: body.SessionID},
			logging.Field{Key: "type", Value: body.Type})
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

// handleStatus godoc
// @Summary Freeze-check poll
// @Tags sessions
// @Produce json
// @Param id path string true "session id"
// @Success 200 {object} api.StatusResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /api/sessions/{id}/status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.ledger.Status(r.Context(), id)
	if err != nil {
		s.fail(w, "loading status", err, logging.Field{Key: "session", Value: id})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(e))
}

// handleWhoAmI godoc
// @Summary Client address as seen by the server
// @Description Polled by the client IP tracker.
// @Tags sessions
// @Produce json
// @Success 200 {object} api.WhoAmIResponse
// @Router /api/whoami [get]
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	writeJSON(w, http.StatusOK, api.WhoAmIResponse{IP: ip})
}

// handleStrikes godoc
// @Summary Current and remaining strikes
// @Tags sessions
// @Produce json
// @Param id path string true "session id"
// @Success 200 {object} api.StrikesResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /api/sessions/{id}/strikes [get]
func (s *Server) handleStrikes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.ledger.Status(r.Context(), id)
	if err != nil {
		s.fail(w, "loading strikes", err, logging.Field{Key: "session", Value: id})
		return
	}
	writeJSON(w, http.StatusOK, api.StrikesResponse{
		CurrentStrikes:   e.Total,
		RemainingStrikes: s.ledger.Remaining(e.Total),
		Terminated:       e.Status == model.StatusTerminated,
	})
}

// handleCloseSession godoc
// @Summary Close an exam session
// @Tags sessions
// @Produce json
// @Param id path string true "session id"
// @Success 200 {object} api.StatusResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /api/sessions/{id}/close [post]
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.ledger.Close(r.Context(), id)
	if err != nil {
		s.fail(w, "closing session", err, logging.Field{Key: "session", Value: id})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(e))
}

// handleListViolations godoc
// @Summary Audit trail of a session
// @Tags moderation
// @Security BearerAuth
// @Produce json
// @Param id path string true "session id"
// @Param limit query int false "newest records to return"
// @Success 200 {array} ledger.AuditRecord
// @Failure 401 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /api/sessions/{id}/violations [get]
func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := s.cfg.AuditLimit
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 && v < limit {
			limit = v
		}
	}
	recs, err := s.ledger.Violations(r.Context(), id, limit)
	if err != nil {
		s.fail(w, "listing violations", err, logging.Field{Key: "session", Value: id})
		return
	}
	if recs == nil {
		recs = []ledger.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleStats godoc
// @Summary Violation statistics of a session
// @Tags moderation
// @Security BearerAuth
// @Produce json
// @Param id path string true "session id"
// @Success 200 {object} ledger.Stats
// @Failure 401 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /api/sessions/{id}/stats [get]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.ledger.Stats(r.Context(), id)
	if err != nil {
		s.fail(w, "loading stats", err, logging.Field{Key: "session", Value: id})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleTerminate godoc
// @Summary Terminate a session
// @Tags moderation
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "session id"
// @Param request body api.TerminateRequest false "reason"
// @Success 200 {object} api.ViolationResponse
// @Failure 401 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Router /api/sessions/{id}/terminate [post]
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body api.TerminateRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	moderator := ModeratorFrom(r.Context())
	res, err := s.ledger.Terminate(r.Context(), id, moderator, body.Reason)
	if err != nil {
		s.fail(w, "terminating session", err,
			logging.Field{Key: "session", Value: id},
			logging.Field{Key: "moderator", Value: moderator})
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

// handleWarn godoc
// @Summary Send a warning to the student
// @Tags moderation
// @Security BearerAuth
// @Accept json
// @Param id path string true "session id"
// @Param request body api.WarningRequest true "message"
// @Success 202
// @Failure 400 {object} api.ErrorResponse
// @Failure 401 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Router /api/sessions/{id}/warn [post]
func (s *Server) handleWarn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body api.WarningRequest
	if !decodeBody(w, r, &body) {
		return
	}
	moderator := ModeratorFrom(r.Context())
	if _, err := s.ledger.Warn(r.Context(), id, moderator, body.Message); err != nil {
		s.fail(w, "warning student", err,
			logging.Field{Key: "session", Value: id},
			logging.Field{Key: "moderator", Value: moderator})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleReview godoc
// @Summary Confirm or reject a recorded violation
// @Description Rejecting marks a false positive; strikes are never given back.
// @Tags moderation
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "session id"
// @Param record path string true "audit record id"
// @Param request body api.ReviewRequest true "verdict"
// @Success 200 {object} ledger.AuditRecord
// @Failure 400 {object} api.ErrorResponse
// @Failure 401 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 422 {object} api.ErrorResponse
// @Router /api/sessions/{id}/violations/{record}/review [put]
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record := chi.URLParam(r, "record")
	var body api.ReviewRequest
	if !decodeBody(w, r, &body) {
		return
	}
	moderator := ModeratorFrom(r.Context())
	rec, err := s.ledger.Review(r.Context(), id, record, moderator, *body.Confirmed, body.Reason)
	if err != nil {
		s.fail(w, "reviewing violation", err,
			logging.Field{Key: "session", Value: id},
			logging.Field{Key: "record", Value: record})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleExamSessions godoc
// @Summary Dashboard rows for every session of an exam
// @Tags moderation
// @Security BearerAuth
// @Produce json
// @Param exam path string true "exam id"
// @Param active query bool false "leave out closed sessions"
// @Success 200 {array} hub.StudentStatus
// @Failure 401 {object} api.ErrorResponse
// @Router /api/exams/{exam}/sessions [get]
func (s *Server) handleExamSessions(w http.ResponseWriter, r *http.Request) {
	exam := chi.URLParam(r, "exam")
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	entries, err := s.ledger.ExamSessions(r.Context(), exam)
	if err != nil {
		s.fail(w, "listing exam sessions", err, logging.Field{Key: "exam", Value: exam})
		return
	}
	rows := make([]hub.StudentStatus, 0, len(entries))
	for _, e := range entries {
		if activeOnly && e.Closed() {
			continue
		}
		rows = append(rows, s.hub.StatusOf(e, s.ledger.Remaining(e.Total)))
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleSessionWS streams pushes for one student session: its own status
// and the termination notice.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.ledger.Status(r.Context(), id); err != nil {
		s.fail(w, "subscribing session", err, logging.Field{Key: "session", Value: id})
		return
	}
	s.hub.ServeWS(w, r, hub.SessionTopic(id))
}

// handleMonitorWS streams the live dashboard for one exam. The exam "*"
// subscribes to every exam.
func (s *Server) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	exam := chi.URLParam(r, "exam")
	topic := hub.ExamTopic(exam)
	if exam == "*" {
		topic = hub.TopicModerators
	}
	s.logger.Info("moderator monitoring",
		logging.Field{Key: "exam", Value: exam},
		logging.Field{Key: "moderator", Value: ModeratorFrom(r.Context())})
	s.hub.ServeWS(w, r, topic)
}
