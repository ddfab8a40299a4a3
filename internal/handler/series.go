package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/service"
)

const dateLayout = "2006-01-02"

type recurringRequest struct {
	TrainerID  int64    `json:"trainerId"`
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	DaysOfWeek []int    `json:"daysOfWeek"`
	Times      []string `json:"times"`
	Duration   int      `json:"duration"`
	Blocked    bool     `json:"blocked"`
	Location   string   `json:"location"`
	Notes      *string  `json:"notes"`
}

func (req recurringRequest) toService() (service.RecurringRequest, error) {
	out := service.RecurringRequest{
		TrainerID: req.TrainerID,
		Times:     req.Times,
		Duration:  time.Duration(req.Duration) * time.Minute,
		Blocked:   req.Blocked,
		Location:  req.Location,
		Notes:     req.Notes,
	}
	for _, field := range []struct {
		name string
		raw  string
		dst  *time.Time
	}{{"startDate", req.StartDate, &out.From}, {"endDate", req.EndDate, &out.Until}} {
		if field.raw == "" {
			return out, apperrors.MissingRequired(field.name)
		}
		t, err := time.Parse(dateLayout, field.raw)
		if err != nil {
			return out, apperrors.InvalidInput(field.name, "must be a YYYY-MM-DD date")
		}
		*field.dst = t
	}
	for _, d := range req.DaysOfWeek {
		out.Weekdays = append(out.Weekdays, time.Weekday(d))
	}
	return out, nil
}

type seriesUpdateRequest struct {
	TrainerID *int64  `json:"trainerId"`
	Duration  *int    `json:"duration"`
	Location  *string `json:"location"`
}

// POST /sessions/recurring
func (h *SessionHandler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req recurringRequest
	if !decodeBody(r, &req, false) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	in, err := req.toService()
	if err != nil {
		fail(w, err, "failed to create recurring sessions")
		return
	}

	result, err := h.lifecycle.CreateRecurring(r.Context(), actor, in)
	if err != nil {
		fail(w, err, "failed to create recurring sessions")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// PUT /sessions/recurring/{groupId}
func (h *SessionHandler) UpdateSeries(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req seriesUpdateRequest
	if !decodeBody(r, &req, false) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	upd := service.SeriesUpdate{TrainerID: req.TrainerID, Location: req.Location}
	if req.Duration != nil {
		d := time.Duration(*req.Duration) * time.Minute
		upd.Duration = &d
	}

	result, err := h.lifecycle.UpdateSeries(r.Context(), actor, chi.URLParam(r, "groupId"), upd)
	if err != nil {
		fail(w, err, "failed to update recurring sessions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DELETE /sessions/recurring/{groupId}
func (h *SessionHandler) CancelSeries(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason *string `json:"reason"`
	}
	if !decodeBody(r, &req, true) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	result, err := h.lifecycle.CancelSeries(r.Context(), actor, chi.URLParam(r, "groupId"), req.Reason)
	if err != nil {
		fail(w, err, "failed to cancel recurring sessions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /sessions/stats
func (h *SessionHandler) ScheduleStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	stats, err := h.lifecycle.ScheduleStats(r.Context(), actor)
	if err != nil {
		fail(w, err, "failed to compute schedule stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PATCH /sessions/{id}/assign
func (h *SessionHandler) AssignSessionTrainer(w http.ResponseWriter, r *http.Request) {
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
		TrainerID int64 `json:"trainerId"`
	}
	if !decodeBody(r, &req, true) || req.TrainerID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "trainerId is required"})
		return
	}

	result, err := h.lifecycle.AssignSessionTrainer(r.Context(), actor, id, req.TrainerID)
	if err != nil {
		fail(w, err, "failed to assign session trainer")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
