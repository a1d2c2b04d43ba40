package rest

import (
	"net/http"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

// NewRouter собирает HTTP API
func NewRouter(deps Deps, auth *Authenticator, log *zap.Logger) http.Handler {
	h := &Handler{deps: deps, log: log}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(accessLog(log))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.health)

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/calendar.ics", h.calendarFeed)

		r.Group(func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))

			r.Route("/bookings", func(r chi.Router) {
				r.Post("/", h.createBooking)
				r.Get("/", h.listBookings)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.getBooking)
					r.Get("/history", h.bookingHistory)
					r.Post("/confirm", h.confirmBooking)
					r.Post("/cancel", h.cancelBooking)
					r.Post("/reschedule", h.rescheduleBooking)
					r.Post("/reschedule/confirm", h.confirmReschedule)
					r.Post("/complete", h.completeBooking)
					r.Post("/no-show", h.markNoShow)
					r.Post("/rate", h.rateBooking)
					r.Post("/notes", h.addNotes)
				})
			})

			r.With(RequireRole(model.RoleAdmin)).Post("/admin/bookings", h.createBookingUnchecked)

			r.Get("/professors", h.listProfessors)
			r.Get("/professors/{id}", h.getProfessor)
			r.With(RequireRole(model.RoleProfessor, model.RoleAdmin)).Put("/professors/{id}/profile", h.updateProfile)
			r.Get("/professors/{id}/windows", h.professorWindows)
			r.Get("/professors/{id}/free-slots", h.freeSlots)

			r.Route("/availability", func(r chi.Router) {
				r.Use(RequireRole(model.RoleProfessor, model.RoleAdmin))
				r.Post("/", h.addWindow)
				r.Get("/", h.myWindows)
				r.Delete("/{id}", h.deleteWindow)
			})

			r.Get("/notifications", h.listNotifications)
			r.Post("/notifications/{id}/read", h.markNotificationRead)

			r.Put("/me/telegram", h.linkTelegram)
			r.Delete("/me/telegram", h.unlinkTelegram)
		})
	})

	return router
}
