package gate

import (
	"net/http"

	"shule/cmd/internal/account"
	"shule/cmd/internal/session"
)

// SessionSource is the slice of the session controller the middleware
// reads. It is queried fresh on every request; the gate itself holds no
// state.
type SessionSource interface {
	Snapshot() session.Snapshot
}

// Protect wraps a portal route with the gate decision for the given
// allow-list.
func Protect(s SessionSource, allowed ...account.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Decide(s.Snapshot(), allowed, r.URL.Path)
			switch d.Action {
			case ActionRender:
				next.ServeHTTP(w, r)
			case ActionShowLoading:
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("<!doctype html><title>Shule</title><p>Loading…</p>\n"))
			default:
				http.Redirect(w, r, d.Location, http.StatusFound)
			}
		})
	}
}
