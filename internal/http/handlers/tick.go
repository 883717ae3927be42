package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/guardline/server/internal/checkin"
)

// TickHandler exposes POST /internal/tick for an external cron trigger. The
// pass is idempotent, so a cron firing alongside the internal ticker is safe.
type TickHandler struct {
	service *checkin.Service
	secret  string
}

// NewTickHandler creates a new tick handler
func NewTickHandler(service *checkin.Service, secret string) *TickHandler {
	return &TickHandler{service: service, secret: secret}
}

// HandleTick handles POST /internal/tick
func (h *TickHandler) HandleTick(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		respondWithError(w, http.StatusNotFound, "not found")
		return
	}
	provided := r.Header.Get("X-Tick-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.service.RunTick(r.Context(), time.Now())
	respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
