package app

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"shule/cmd/internal/account"
	"shule/cmd/internal/api"
	"shule/cmd/internal/gate"
	"shule/cmd/internal/presence"
	"shule/cmd/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var signInTmpl = template.Must(template.New("signin").Parse(`<!doctype html>
<title>Shule · Sign in</title>
<h1>Sign in</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="/signin">
  <input type="hidden" name="next" value="{{.Next}}">
  <label>Username <input name="username" autocomplete="username"></label>
  <label>Password <input name="password" type="password" autocomplete="current-password"></label>
  <button type="submit">Sign in</button>
</form>
`))

var areaTmpl = template.Must(template.New("area").Parse(`<!doctype html>
<title>Shule · {{.Title}}</title>
<h1>{{.Title}}</h1>
<p>Signed in as {{.Name}} ({{.Role}}).</p>
<form method="post" action="/signout"><button type="submit">Sign out</button></form>
`))

// newRouter builds the portal route tree. Every protected area sits
// behind the gate with its role allow-list and reports requests as
// activity.
func newRouter(log *slog.Logger, ctrl *session.Controller, sync *presence.Synchronizer) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/", rootHandler(ctrl))
	r.Get(gate.SignInPath, signInFormHandler(ctrl))
	r.Post(gate.SignInPath, signInHandler(log, ctrl))
	r.Post("/signout", signOutHandler(log, ctrl))

	area := func(path, title string, allowed ...account.Role) {
		r.With(gate.Protect(ctrl, allowed...), WithActivity(sync)).
			Get(path, areaHandler(ctrl, title))
	}
	area("/admin", "Admin", account.RoleAdmin)
	area("/teacher", "Teachers", account.RoleAdmin, account.RoleTeacher)
	area("/student", "Students", account.RoleAdmin, account.RoleStudent)

	return r
}

// rootHandler lands visitors on their default area, or sign-in.
func rootHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := ctrl.Snapshot()
		if snap.Authenticated() {
			if area, ok := gate.DefaultArea(snap.Principal.Role); ok {
				http.Redirect(w, r, area, http.StatusFound)
				return
			}
		}
		http.Redirect(w, r, gate.SignInPath, http.StatusFound)
	}
}

func signInFormHandler(ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := ctrl.Snapshot()
		if snap.Authenticated() {
			if area, ok := gate.DefaultArea(snap.Principal.Role); ok {
				http.Redirect(w, r, area, http.StatusFound)
				return
			}
		}
		renderSignIn(w, http.StatusOK, "", safeNext(r.URL.Query().Get("next")))
	}
}

func signInHandler(log *slog.Logger, ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		username := strings.TrimSpace(r.PostFormValue("username"))
		password := r.PostFormValue("password")
		next := safeNext(r.PostFormValue("next"))

		p, err := ctrl.SignIn(r.Context(), username, password)
		if err != nil {
			var authErr *api.AuthError
			if errors.As(err, &authErr) {
				renderSignIn(w, http.StatusUnauthorized, authErr.Message, next)
				return
			}
			log.Error("signin.fail", "err", err)
			renderSignIn(w, http.StatusBadGateway, "sign-in is temporarily unavailable", next)
			return
		}

		if next == "" {
			if area, ok := gate.DefaultArea(p.Role); ok {
				next = area
			} else {
				next = "/"
			}
		}
		http.Redirect(w, r, next, http.StatusFound)
	}
}

func signOutHandler(log *slog.Logger, ctrl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ctrl.SignOut(r.Context()); err != nil {
			// Local teardown still happened; the visitor leaves either way.
			log.Warn("signout.fail", "err", err)
		}
		http.Redirect(w, r, gate.SignInPath, http.StatusFound)
	}
}

func areaHandler(ctrl *session.Controller, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := ctrl.Snapshot()
		if !snap.Authenticated() {
			// The gate re-checks on every request; a race between the check
			// and this read falls back to sign-in.
			http.Redirect(w, r, gate.SignInPath, http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = areaTmpl.Execute(w, struct {
			Title, Name string
			Role        account.Role
		}{title, snap.Principal.Name, snap.Principal.Role})
	}
}

func renderSignIn(w http.ResponseWriter, status int, errMsg, next string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = signInTmpl.Execute(w, struct{ Error, Next string }{errMsg, next})
}

// safeNext allows only local paths as post-sign-in destinations.
func safeNext(next string) string {
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") {
		return next
	}
	return ""
}
