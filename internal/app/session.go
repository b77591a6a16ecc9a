package app

import "net/http"

type sessionKey string

const (
	SessionKeyGuest = sessionKey("guest")
)

func (s sessionKey) String() string {
	return string(s)
}

// holderID returns the opaque holder identity for the current caller: the
// scs session token. It is tied to the browsing session, not to an
// authenticated user, so guests can hold seats before login.
func (app *Application) holderID(r *http.Request) string {
	return app.sessionManager.Token(r.Context())
}
