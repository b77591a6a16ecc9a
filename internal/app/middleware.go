package app

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const loggerContextKey = contextKey("logger")

// requestLogger attaches a request-scoped logger carrying the request id,
// so every log line from a handler can be correlated.
func (app *Application) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := app.logger.With("request_id", middleware.GetReqID(r.Context()))

		ctx := context.WithValue(r.Context(), loggerContextKey, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (app *Application) contextGetLogger(r *http.Request) *slog.Logger {
	logger, ok := r.Context().Value(loggerContextKey).(*slog.Logger)
	if !ok {
		return app.logger
	}

	return logger
}

// ensureGuestHolderSession makes sure every caller has a session before any
// hold operation runs: the scs token is the opaque holder identity, and a
// guest must be able to hold seats before ever logging in.
func (app *Application) ensureGuestHolderSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := app.sessionManager.Token(r.Context())

		if sessionID == "" {
			app.sessionManager.Put(r.Context(), SessionKeyGuest.String(), true)

			_, _, err := app.sessionManager.Commit(r.Context())
			if err != nil {
				app.serverErrorResponse(w, r, err)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// requireFinalizerKey guards the internal commit/release endpoints used by
// the booking finalizer.
func (app *Application) requireFinalizerKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if app.config.FinalizerKey == "" {
			app.unauthorizedAccessResponse(w, r)
			return
		}

		key := r.Header.Get("X-Finalizer-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(app.config.FinalizerKey)) != 1 {
			app.unauthorizedAccessResponse(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}
