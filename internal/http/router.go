package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/guardline/server/internal/auth"
	"github.com/guardline/server/internal/http/handlers"
	"github.com/guardline/server/internal/middleware"
	"github.com/guardline/server/internal/repo"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	checkinHandler *handlers.CheckinHandler,
	settingsHandler *handlers.SettingsHandler,
	contactsHandler *handlers.ContactsHandler,
	tickHandler *handlers.TickHandler,
	jwtService *auth.JWTService,
	userRepo repo.UserRepo,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	// External cron trigger, guarded by a shared secret
	r.Post("/internal/tick", tickHandler.HandleTick)

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, userRepo))

		r.Route("/checkin", func(r chi.Router) {
			r.Get("/current", checkinHandler.HandleCurrent)
			r.Post("/confirm", checkinHandler.HandleConfirm)
			r.Post("/snooze", checkinHandler.HandleSnooze)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.HandleGet)
			r.Put("/", settingsHandler.HandleUpdate)
			r.Post("/pause", settingsHandler.HandlePause)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", contactsHandler.HandleList)
			r.Post("/", contactsHandler.HandleCreate)
		})
	})

	return r
}
