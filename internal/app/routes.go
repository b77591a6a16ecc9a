package app

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	appmiddleware "github.com/cinexhq/seathold/internal/middleware"
)

func (app *Application) routes() http.Handler {
	r := chi.NewRouter()

	r.NotFound(appmiddleware.NotFoundHandler)

	r.Use(chimiddleware.RequestID)
	r.Use(otelchi.Middleware("seathold-api", otelchi.WithChiRoutes(r)))
	r.Use(app.requestLogger)
	r.Use(appmiddleware.RecoverPanic)
	r.Use(app.sessionManager.LoadAndSave)
	r.Use(app.ensureGuestHolderSession)

	r.Get("/healthcheck", app.GetHealth)

	r.Route("/showtimes/{showtimeID}", func(r chi.Router) {
		r.Get("/seats", app.withShowtimeID(app.GetSeatMapByShowtime))
		r.Get("/events", app.withShowtimeID(app.StreamSeatEventsHandler))

		r.Post("/holds", app.withShowtimeID(app.CreateHoldsHandler))
		r.Patch("/holds", app.withShowtimeID(app.RenewHoldsHandler))
		r.Delete("/holds", app.withShowtimeID(app.ReleaseHoldsHandler))
	})

	// The booking finalizer is a trusted internal caller; it authenticates
	// with a shared key instead of a browser session.
	r.Route("/internal/showtimes/{showtimeID}", func(r chi.Router) {
		r.Use(app.requireFinalizerKey)

		r.Post("/commit", app.withShowtimeID(app.CommitHeldSeatsHandler))
		r.Post("/release", app.withShowtimeID(app.ReleaseHeldSeatsHandler))
	})

	return r
}

func (app *Application) withShowtimeID(next func(http.ResponseWriter, *http.Request, int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		showtimeID, err := strconv.Atoi(chi.URLParam(r, "showtimeID"))
		if err != nil || showtimeID < 1 {
			app.badRequestResponse(w, r, errShowtimeID)
			return
		}

		next(w, r, showtimeID)
	}
}
