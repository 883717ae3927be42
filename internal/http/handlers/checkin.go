package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/guardline/server/internal/checkin"
	"github.com/guardline/server/internal/middleware"
	"github.com/guardline/server/internal/model"
)

// CheckinHandler handles the check-in action endpoints
type CheckinHandler struct {
	service *checkin.Service
}

// NewCheckinHandler creates a new check-in handler
func NewCheckinHandler(service *checkin.Service) *CheckinHandler {
	return &CheckinHandler{service: service}
}

// eventResponse is the check-in event object in API responses
type eventResponse struct {
	ID            string     `json:"id"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	DeadlineTime  time.Time  `json:"deadline_time"`
	Status        string     `json:"status"`
	SnoozeCount   int        `json:"snooze_count"`
	WasEscalated  bool       `json:"was_escalated"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

func toEventResponse(ev *model.CheckinEvent) eventResponse {
	return eventResponse{
		ID:            ev.ID.String(),
		ScheduledTime: ev.ScheduledTime,
		DeadlineTime:  ev.DeadlineTime,
		Status:        string(ev.Status),
		SnoozeCount:   ev.SnoozeCount,
		WasEscalated:  ev.EscalatedAt != nil,
		ConfirmedAt:   ev.ConfirmedAt,
	}
}

// HandleCurrent handles GET /checkin/current
func (h *CheckinHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ev, err := h.service.GetCurrentCheckin(r.Context(), user)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load current checkin")
		return
	}
	if ev == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"checkin": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"checkin": toEventResponse(ev)})
}

// confirmRequest is the request body for POST /checkin/confirm
type confirmRequest struct {
	EventID       string `json:"event_id,omitempty"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
}

// HandleConfirm handles POST /checkin/confirm
func (h *CheckinHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// An empty body is a valid "confirm whatever is open" request.
	var body confirmRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	req := checkin.ConfirmRequest{}
	if body.EventID != "" {
		id, err := uuid.Parse(body.EventID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid event_id")
			return
		}
		req.EventID = &id
	}
	if body.ScheduledTime != "" {
		t, err := time.Parse(time.RFC3339, body.ScheduledTime)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid scheduled_time")
			return
		}
		req.ScheduledTime = &t
	}

	result, err := h.service.ConfirmCheckin(r.Context(), user, req, time.Now())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to confirm checkin")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// snoozeRequest is the request body for POST /checkin/snooze
type snoozeRequest struct {
	EventID string `json:"event_id,omitempty"`
	Minutes int    `json:"minutes"`
}

// HandleSnooze handles POST /checkin/snooze
func (h *CheckinHandler) HandleSnooze(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := checkin.SnoozeRequest{Minutes: body.Minutes}
	if body.EventID != "" {
		id, err := uuid.Parse(body.EventID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid event_id")
			return
		}
		req.EventID = &id
	}

	result, err := h.service.SnoozeCheckin(r.Context(), user, req, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, checkin.ErrEventNotFound):
			respondWithError(w, http.StatusNotFound, "checkin event not found")
		case errors.Is(err, checkin.ErrSnoozeLimitReached):
			respondWithError(w, http.StatusBadRequest, "snooze limit reached")
		case errors.Is(err, checkin.ErrInvalidSnoozeDuration):
			respondWithError(w, http.StatusBadRequest, "invalid snooze duration")
		case errors.Is(err, checkin.ErrInvalidTransition):
			respondWithError(w, http.StatusBadRequest, "checkin cannot be snoozed in its current state")
		default:
			respondWithError(w, http.StatusInternalServerError, "failed to snooze checkin")
		}
		return
	}
	respondJSON(w, http.StatusOK, result)
}
