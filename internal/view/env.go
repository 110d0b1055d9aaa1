package view

import (
	"context"
	"log"
	"net/http"
	"strings"

	"radsite/internal/action"
	"radsite/internal/auth"
	"radsite/internal/form"
	"radsite/internal/model"
	"radsite/internal/render"
	"radsite/internal/repo"
	"radsite/internal/urlsign"
)

// Env is what views need from the site at build and request time.
type Env struct {
	Repo     repo.Repo
	Models   *model.Registry
	Actions  *action.Registry
	Views    *Registry
	Render   *render.Renderer
	Signer   urlsign.Signer
	Sessions auth.Sessions
	Users    auth.UserStore
	Logger   *log.Logger

	// DevLogin lists every active user on the login page.
	DevLogin bool
}

func (e *Env) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// Context attaches the record resolver used by model choice fields.
func (e *Env) Context(ctx context.Context) context.Context {
	return form.WithResolver(ctx, e.Repo)
}

func (e *Env) NotFound(w http.ResponseWriter, r *http.Request) {
	e.Render.Error(w, r, http.StatusNotFound, "")
}

func (e *Env) Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	e.Render.Error(w, r, http.StatusForbidden, message)
}

// ServerError logs err and renders a generic 500 page.
func (e *Env) ServerError(w http.ResponseWriter, r *http.Request, err error) {
	e.logger().Printf("ERROR: %s %s: %v", r.Method, r.URL.Path, err)
	e.Render.Error(w, r, http.StatusInternalServerError, "")
}

// Nav lists the routable list views for the site menu.
func (e *Env) Nav() []render.Link {
	var out []render.Link
	for _, it := range e.Views.ModelViews() {
		if it.Action != List {
			continue
		}
		out = append(out, render.Link{Label: capfirst(it.Model.PluralLabel()), Icon: it.Model.Icon, URL: it.Path()})
	}
	return out
}

func capfirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
