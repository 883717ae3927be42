package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/guardline/server/internal/checkin"
	"github.com/guardline/server/internal/middleware"
	"github.com/guardline/server/internal/model"
	"github.com/guardline/server/internal/repo"
)

// graceMenu is the allowed grace-window policy set.
var graceMenu = map[int]bool{5: true, 10: true, 15: true, 30: true}

// SettingsHandler handles the user settings endpoints, including pause.
type SettingsHandler struct {
	users   repo.UserRepo
	service *checkin.Service
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(users repo.UserRepo, service *checkin.Service) *SettingsHandler {
	return &SettingsHandler{users: users, service: service}
}

// settingsResponse is the settings object in API responses
type settingsResponse struct {
	Name               string     `json:"name"`
	Timezone           string     `json:"timezone"`
	CheckinTimes       []string   `json:"checkin_times"`
	GraceMinutes       int        `json:"grace_minutes"`
	SMSAlertsEnabled   bool       `json:"sms_alerts_enabled"`
	Level2DelayMinutes int        `json:"level2_delay_minutes"`
	PauseUntil         *time.Time `json:"pause_until,omitempty"`
	HasPushToken       bool       `json:"has_push_token"`
}

func toSettingsResponse(user *model.User) settingsResponse {
	times := make([]string, len(user.CheckinTimes))
	for i, t := range user.CheckinTimes {
		times[i] = t.String()
	}
	return settingsResponse{
		Name:               user.Name,
		Timezone:           user.Timezone,
		CheckinTimes:       times,
		GraceMinutes:       user.GraceMinutes,
		SMSAlertsEnabled:   user.SMSAlertsEnabled,
		Level2DelayMinutes: user.Level2DelayMinutes,
		PauseUntil:         user.PauseUntil,
		HasPushToken:       user.PushToken != nil && *user.PushToken != "",
	}
}

// HandleGet handles GET /settings
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, toSettingsResponse(user))
}

// updateSettingsRequest is the request body for PUT /settings
type updateSettingsRequest struct {
	Name               string   `json:"name"`
	Timezone           string   `json:"timezone"`
	CheckinTimes       []string `json:"checkin_times"`
	GraceMinutes       int      `json:"grace_minutes"`
	SMSAlertsEnabled   bool     `json:"sms_alerts_enabled"`
	Level2DelayMinutes int      `json:"level2_delay_minutes"`
	PushToken          *string  `json:"push_token,omitempty"`
}

// HandleUpdate handles PUT /settings
func (h *SettingsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !graceMenu[body.GraceMinutes] {
		respondWithError(w, http.StatusBadRequest, "grace_minutes must be one of 5, 10, 15, 30")
		return
	}
	if body.Level2DelayMinutes < 0 {
		respondWithError(w, http.StatusBadRequest, "level2_delay_minutes must not be negative")
		return
	}
	times, err := model.ParseTimesOfDay(body.CheckinTimes)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid checkin_times: "+err.Error())
		return
	}
	if body.Timezone != "" {
		if _, err := time.LoadLocation(body.Timezone); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid timezone")
			return
		}
	} else {
		body.Timezone = "UTC"
	}

	settings := repo.UserSettings{
		Name:               body.Name,
		Timezone:           body.Timezone,
		CheckinTimes:       times,
		GraceMinutes:       body.GraceMinutes,
		SMSAlertsEnabled:   body.SMSAlertsEnabled,
		Level2DelayMinutes: body.Level2DelayMinutes,
		PushToken:          body.PushToken,
	}
	if settings.PushToken == nil {
		settings.PushToken = user.PushToken
	}

	if err := h.users.UpdateSettings(r.Context(), user.ID, settings); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}

	updated, err := h.users.GetByID(r.Context(), user.ID.String())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	respondJSON(w, http.StatusOK, toSettingsResponse(&updated))
}

// pauseRequest is the request body for POST /settings/pause
type pauseRequest struct {
	// PauseUntil is RFC3339; empty resumes.
	PauseUntil string `json:"pause_until"`
}

// HandlePause handles POST /settings/pause. Setting a future pause flips any
// live pending/snoozed events to paused so they cannot escalate while dormant.
func (h *SettingsHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var until *time.Time
	if body.PauseUntil != "" {
		t, err := time.Parse(time.RFC3339, body.PauseUntil)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid pause_until")
			return
		}
		until = &t
	}

	if err := h.service.SetPause(r.Context(), user, until, time.Now()); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to update pause")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"pause_until": until})
}
