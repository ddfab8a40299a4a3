package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/httputil"
	"github.com/swanstudios/scheduling-server-go/internal/middleware"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/service"
	"github.com/swanstudios/scheduling-server-go/internal/util"
)

const idempotencyHeader = "Idempotency-Key"

type SessionHandler struct {
	lifecycle    *service.SessionLifecycle
	validator    *service.AssignmentValidator
	analytics    *service.AnalyticsAggregator
	auth         *middleware.AuthMiddleware
	optionalAuth *middleware.AuthMiddleware
	rateLimit    *middleware.RateLimitMiddleware
}

type SessionHandlerOptions struct {
	Lifecycle    *service.SessionLifecycle
	Validator    *service.AssignmentValidator
	Analytics    *service.AnalyticsAggregator
	Auth         *middleware.AuthMiddleware
	OptionalAuth *middleware.AuthMiddleware
	RateLimit    *middleware.RateLimitMiddleware
}

func NewSessionHandler(opts SessionHandlerOptions) *SessionHandler {
	return &SessionHandler{
		lifecycle:    opts.Lifecycle,
		validator:    opts.Validator,
		analytics:    opts.Analytics,
		auth:         opts.Auth,
		optionalAuth: opts.OptionalAuth,
		rateLimit:    opts.RateLimit,
	}
}

type route struct {
	method       string
	pattern      string
	handler      http.HandlerFunc
	roles        []model.Role
	optionalAuth bool
	limited      bool
}

// dynamic reports whether the pattern has a path parameter.
func (rt route) dynamic() bool {
	return strings.Contains(rt.pattern, "{")
}

// sortRoutes puts every static route ahead of every parameterized one so
// that literal paths like /analytics are registered before /{id}.
func sortRoutes(routes []route) []route {
	sorted := make([]route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return !sorted[i].dynamic() && sorted[j].dynamic()
	})
	return sorted
}

func (h *SessionHandler) routes() []route {
	staff := []model.Role{model.RoleTrainer, model.RoleAdmin}
	admin := []model.Role{model.RoleAdmin}

	return []route{
		{method: http.MethodGet, pattern: "/{id}", handler: h.GetSession},
		{method: http.MethodPost, pattern: "/{id}/book", handler: h.BookSession, limited: true},
		{method: http.MethodPatch, pattern: "/{id}/status", handler: h.UpdateStatus, limited: true},
		{method: http.MethodPatch, pattern: "/{id}/cancel", handler: h.CancelSession, limited: true},
		{method: http.MethodPut, pattern: "/{id}/reschedule", handler: h.RescheduleSession, limited: true},
		{method: http.MethodPatch, pattern: "/{id}/assign", handler: h.AssignSessionTrainer, roles: admin, limited: true},
		{method: http.MethodPut, pattern: "/recurring/{groupId}", handler: h.UpdateSeries, roles: admin, limited: true},
		{method: http.MethodDelete, pattern: "/recurring/{groupId}", handler: h.CancelSeries, roles: admin, limited: true},
		{method: http.MethodGet, pattern: "/trainer-assignments/{trainerId}", handler: h.TrainerAssignments, roles: staff},
		{method: http.MethodGet, pattern: "/client-assignments/{clientId}", handler: h.ClientAssignments},

		{method: http.MethodGet, pattern: "/analytics", handler: h.GetAnalytics, optionalAuth: true},
		{method: http.MethodGet, pattern: "/stats", handler: h.ScheduleStats},
		{method: http.MethodPost, pattern: "/recurring", handler: h.CreateRecurring, roles: admin, limited: true},
		{method: http.MethodPost, pattern: "/assign-trainer", handler: h.AssignTrainer, roles: admin, limited: true},
		{method: http.MethodGet, pattern: "/assignment-statistics", handler: h.AssignmentStatistics, roles: admin},
		{method: http.MethodGet, pattern: "/trainer-assignment-health", handler: h.AssignmentHealth, roles: admin},
		{method: http.MethodPost, pattern: "/remove-trainer-assignment", handler: h.RemoveAssignment, roles: admin, limited: true},
		{method: http.MethodPost, pattern: "/check-conflicts", handler: h.CheckConflicts, roles: staff},
		{method: http.MethodPost, pattern: "/slots", handler: h.CreateSlot, roles: staff, limited: true},
		{method: http.MethodPost, pattern: "/block", handler: h.BlockTime, roles: staff, limited: true},
		{method: http.MethodGet, pattern: "/", handler: h.ListSessions},
		{method: http.MethodPost, pattern: "/", handler: h.ProposeSession, limited: true},
	}
}

func (h *SessionHandler) chain(rt route) []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	if rt.optionalAuth {
		if h.optionalAuth != nil {
			mws = append(mws, h.optionalAuth.Handler)
		}
	} else if h.auth != nil {
		mws = append(mws, h.auth.Handler)
	}
	if len(rt.roles) > 0 {
		mws = append(mws, middleware.RequireRole(rt.roles...))
	}
	if rt.limited && h.rateLimit != nil {
		mws = append(mws, h.rateLimit.Handler)
	}
	return mws
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	for _, rt := range sortRoutes(h.routes()) {
		r.With(h.chain(rt)...).Method(rt.method, rt.pattern, rt.handler)
	}

	return r
}

type windowRequest struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration int       `json:"duration"`
}

// window accepts either an explicit end or a duration in minutes.
func (req windowRequest) window() model.TimeWindow {
	end := req.End
	if end.IsZero() && !req.Start.IsZero() && req.Duration > 0 {
		end = req.Start.Add(time.Duration(req.Duration) * time.Minute)
	}
	return model.TimeWindow{Start: req.Start, End: end}
}

type proposeRequest struct {
	windowRequest
	TrainerID int64   `json:"trainerId"`
	ClientID  int64   `json:"clientId"`
	Location  string  `json:"location"`
	Notes     *string `json:"notes"`
}

type slotRequest struct {
	windowRequest
	TrainerID int64   `json:"trainerId"`
	Location  string  `json:"location"`
	Notes     *string `json:"notes"`
}

type conflictCheckRequest struct {
	windowRequest
	TrainerID        int64  `json:"trainerId"`
	ClientID         *int64 `json:"clientId"`
	ExcludeSessionID int64  `json:"excludeSessionId"`
}

type statusRequest struct {
	Status         model.SessionStatus `json:"status"`
	Reason         *string             `json:"reason"`
	CaloriesBurned *int                `json:"caloriesBurned"`
}

// decodeBody decodes a JSON body. An empty body is accepted when optional.
func decodeBody(r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	return optional && errors.Is(err, io.EOF)
}

func parseID(r *http.Request, param string) (int64, bool) {
	return util.ParseID(chi.URLParam(r, param))
}

// fail writes err. Unexpected errors are logged; their text is not exposed.
func fail(w http.ResponseWriter, err error, msg string) {
	if status := httputil.StatusFromCode(apperrors.GetCode(err)); status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
	}
	httputil.WriteError(w, err)
}

func actorFrom(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
	}
	return actor, ok
}

// GET /sessions/analytics
func (h *SessionHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, h.analytics.Compute(nil, time.Now()))
		return
	}

	snapshot, err := h.analytics.ForUser(r.Context(), actor.ID, actor.Role)
	if err != nil {
		log.Warn().Err(err).Int64("userId", actor.ID).Msg("analytics unavailable, serving empty snapshot")
		snapshot = h.analytics.Compute(nil, time.Now())
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GET /sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	q, err := parseSessionQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sessions, err := h.lifecycle.ListSessions(r.Context(), actor, q)
	if err != nil {
		fail(w, err, "failed to list sessions")
		return
	}

	page := ParsePagination(r)
	total := len(sessions)
	start := min(page.Offset, total)
	end := min(start+page.Limit, total)

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions[start:end],
		"total":    total,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

func parseSessionQuery(r *http.Request) (model.SessionQuery, error) {
	var q model.SessionQuery
	values := r.URL.Query()

	for _, field := range []struct {
		name string
		dst  **int64
	}{{"trainerId", &q.TrainerID}, {"clientId", &q.ClientID}} {
		raw := values.Get(field.name)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, apperrors.InvalidInput(field.name, "must be numeric")
		}
		*field.dst = &id
	}

	if raw := values.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			q.Statuses = append(q.Statuses, model.SessionStatus(strings.TrimSpace(s)))
		}
	}

	for _, field := range []struct {
		name string
		dst  *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := values.Get(field.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, apperrors.InvalidInput(field.name, "must be an RFC3339 timestamp")
		}
		*field.dst = t
	}
	return q, nil
}

// POST /sessions
func (h *SessionHandler) ProposeSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req proposeRequest
	if !decodeBody(r, &req, false) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.ClientID == 0 && actor.IsClient() {
		req.ClientID = actor.ID
	}
	if req.TrainerID == 0 && actor.IsTrainer() {
		req.TrainerID = actor.ID
	}

	result, err := h.lifecycle.Propose(r.Context(), actor, service.ProposeRequest{
		TrainerID:      req.TrainerID,
		ClientID:       req.ClientID,
		Window:         req.window(),
		Location:       req.Location,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		fail(w, err, "failed to propose session")
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// POST /sessions/slots
func (h *SessionHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	h.createSlot(w, r, model.SessionStatusAvailable)
}

// POST /sessions/block
func (h *SessionHandler) BlockTime(w http.ResponseWriter, r *http.Request) {
	h.createSlot(w, r, model.SessionStatusBlocked)
}

func (h *SessionHandler) createSlot(w http.ResponseWriter, r *http.Request, status model.SessionStatus) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req slotRequest
	if !decodeBody(r, &req, false) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	result, err := h.lifecycle.CreateSlot(r.Context(), actor, service.SlotRequest{
		TrainerID: req.TrainerID,
		Window:    req.window(),
		Status:    status,
		Location:  req.Location,
		Notes:     req.Notes,
	})
	if err != nil {
		fail(w, err, "failed to create slot")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// POST /sessions/check-conflicts
func (h *SessionHandler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req conflictCheckRequest
	if !decodeBody(r, &req, false) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.TrainerID == 0 && actor.IsTrainer() {
		req.TrainerID = actor.ID
	}

	report, err := h.lifecycle.CheckConflicts(r.Context(), actor, service.ConflictCheckRequest{
		TrainerID: req.TrainerID,
		ClientID:  req.ClientID,
		Window:    req.window(),
		ExcludeID: req.ExcludeSessionID,
	})
	if err != nil {
		fail(w, err, "failed to check conflicts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hasConflicts": len(report.Conflicts) > 0,
		"hasHard":      report.HasHard(),
		"conflicts":    report.Conflicts,
		"alternatives": report.Alternatives,
	})
}

// GET /sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid session id"})
		return
	}

	session, err := h.lifecycle.GetSession(r.Context(), actor, id)
	if err != nil {
		fail(w, err, "failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// POST /sessions/{id}/book
func (h *SessionHandler) BookSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid session id"})
		return
	}

	var req struct {
		ClientID int64 `json:"clientId"`
	}
	if !decodeBody(r, &req, true) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	result, err := h.lifecycle.Book(r.Context(), actor, id, req.ClientID)
	if err != nil {
		fail(w, err, "failed to book session")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PATCH /sessions/{id}/status
func (h *SessionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid session id"})
		return
	}

	var req statusRequest
	if !decodeBody(r, &req, false) || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	result, err := h.lifecycle.Transition(r.Context(), actor, id, req.Status, service.TransitionOptions{
		Reason:         req.Reason,
		CaloriesBurned: req.CaloriesBurned,
	})
	if err != nil {
		fail(w, err, "failed to update session status")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PATCH /sessions/{id}/cancel
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid session id"})
		return
	}

	var req struct {
		Reason *string `json:"reason"`
	}
	if !decodeBody(r, &req, true) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	session, err := h.lifecycle.Cancel(r.Context(), actor, id, req.Reason)
	if err != nil {
		fail(w, err, "failed to cancel session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// PUT /sessions/{id}/reschedule
func (h *SessionHandler) RescheduleSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid session id"})
		return
	}

	var req windowRequest
	if !decodeBody(r, &req, false) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	result, err := h.lifecycle.Reschedule(r.Context(), actor, id, req.window())
	if err != nil {
		fail(w, err, "failed to reschedule session")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /sessions/assign-trainer
func (h *SessionHandler) AssignTrainer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req service.AssignRequest
	if !decodeBody(r, &req, false) || req.TrainerID <= 0 || req.ClientID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "trainerId and clientId are required"})
		return
	}

	result, err := h.validator.Assign(r.Context(), actor, req)
	if err != nil {
		if _, known := apperrors.AsAppError(err); known && httputil.StatusFromCode(apperrors.GetCode(err)) < http.StatusInternalServerError {
			httputil.WriteError(w, err)
			return
		}
		log.Error().Err(err).Int64("trainerId", req.TrainerID).Int64("clientId", req.ClientID).Msg("failed to assign trainer")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to assign trainer",
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

// GET /sessions/assignment-statistics
func (h *SessionHandler) AssignmentStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.validator.GetStatistics(r.Context()))
}

// GET /sessions/trainer-assignment-health
func (h *SessionHandler) AssignmentHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.validator.HealthCheck(r.Context()))
}

// POST /sessions/remove-trainer-assignment
func (h *SessionHandler) RemoveAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req struct {
		ClientID int64 `json:"clientId"`
	}
	if !decodeBody(r, &req, false) || req.ClientID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "clientId is required"})
		return
	}

	removed, err := h.validator.Unassign(r.Context(), actor, req.ClientID)
	if err != nil {
		fail(w, err, "failed to remove trainer assignment")
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

// GET /sessions/trainer-assignments/{trainerId}
func (h *SessionHandler) TrainerAssignments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	trainerID, ok := parseID(r, "trainerId")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid trainer id"})
		return
	}

	assignments, err := h.validator.TrainerClients(r.Context(), actor, trainerID)
	if err != nil {
		fail(w, err, "failed to list trainer assignments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

// GET /sessions/client-assignments/{clientId}
func (h *SessionHandler) ClientAssignments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	clientID, ok := parseID(r, "clientId")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid client id"})
		return
	}

	assignments, err := h.validator.ClientHistory(r.Context(), actor, clientID)
	if err != nil {
		fail(w, err, "failed to list client assignments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}
