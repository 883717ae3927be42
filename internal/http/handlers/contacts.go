package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/guardline/server/internal/middleware"
	"github.com/guardline/server/internal/model"
	"github.com/guardline/server/internal/notify"
	"github.com/guardline/server/internal/phone"
	"github.com/guardline/server/internal/repo"
)

// ContactsHandler handles the emergency contact endpoints
type ContactsHandler struct {
	contacts repo.ContactRepo
	cipher   phone.Cipher
	limiter  *middleware.RateLimiter
}

// NewContactsHandler creates a new contacts handler
func NewContactsHandler(contacts repo.ContactRepo, cipher phone.Cipher) *ContactsHandler {
	// Contact creation is rare in normal use; throttle per IP.
	return &ContactsHandler{
		contacts: contacts,
		cipher:   cipher,
		limiter:  middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

// createContactRequest is the request body for POST /contacts
type createContactRequest struct {
	Name      string  `json:"name"`
	Level     int     `json:"level"`
	Phone     string  `json:"phone"`
	PushToken *string `json:"push_token,omitempty"`
	HasApp    bool    `json:"has_app"`
}

// contactResponse is the contact object in API responses. The phone number is
// only ever returned masked.
type contactResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Level       int    `json:"level"`
	PhoneMasked string `json:"phone_masked"`
	HasApp      bool   `json:"has_app"`
}

// HandleCreate handles POST /contacts
func (h *ContactsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.limiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var body createContactRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	body.Name = strings.TrimSpace(body.Name)
	body.Phone = strings.TrimSpace(body.Phone)
	if body.Name == "" || body.Phone == "" {
		respondWithError(w, http.StatusBadRequest, "name and phone are required")
		return
	}
	if body.Level != 1 && body.Level != 2 {
		respondWithError(w, http.StatusBadRequest, "level must be 1 or 2")
		return
	}

	encrypted, err := h.cipher.Encrypt(body.Phone)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to store contact")
		return
	}

	contact := &model.Contact{
		UserID:         user.ID,
		Name:           body.Name,
		Level:          body.Level,
		PhoneEncrypted: encrypted,
		PushToken:      body.PushToken,
		HasApp:         body.HasApp,
	}
	if err := h.contacts.Create(r.Context(), contact); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to store contact")
		return
	}

	respondJSON(w, http.StatusCreated, contactResponse{
		ID:          contact.ID.String(),
		Name:        contact.Name,
		Level:       contact.Level,
		PhoneMasked: notify.MaskPhone(body.Phone),
		HasApp:      contact.HasApp,
	})
}

// HandleList handles GET /contacts
func (h *ContactsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	contacts, err := h.contacts.ListByUser(r.Context(), user.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load contacts")
		return
	}

	out := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		masked := "****"
		if plaintext, err := h.cipher.Decrypt(c.PhoneEncrypted); err == nil {
			masked = notify.MaskPhone(plaintext)
		}
		out = append(out, contactResponse{
			ID:          c.ID.String(),
			Name:        c.Name,
			Level:       c.Level,
			PhoneMasked: masked,
			HasApp:      c.HasApp,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"contacts": out})
}
