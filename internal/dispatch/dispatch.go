// Package dispatch serves the HTTP endpoints of registered actions.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"radsite/internal/action"
	"radsite/internal/auth"
	"radsite/internal/callctx"
	"radsite/internal/form"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/view"
)

const msgNotAvailable = "Action not available"

// Dispatcher resolves /action/{name}[/{pk}] to a registered action.
type Dispatcher struct {
	Env *view.Env
}

func New(env *view.Env) *Dispatcher {
	return &Dispatcher{Env: env}
}

// Mount installs the action routes on r.
func (d *Dispatcher) Mount(r chi.Router) {
	r.Handle(action.URLPrefix+"{name}", d)
	r.Handle(action.URLPrefix+"{name}/{pk}", d)
}

// FormView is one form of an action page.
type FormView struct {
	Name   string
	Title  string
	Fields []form.BoundField
	Errors []string
}

// Page is the data of the action template.
type Page struct {
	Title     string
	Icon      string
	Target    string
	Forms     []FormView
	CancelURL string
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	env := d.Env
	a, err := env.Actions.Find(chi.URLParam(r, "name"))
	if err != nil {
		env.NotFound(w, r)
		return
	}
	rawPK := chi.URLParam(r, "pk")
	if (rawPK != "") != a.NeedsInstance {
		env.NotFound(w, r)
		return
	}
	ctx := env.Context(r.Context())

	var instance *model.Record
	if a.NeedsInstance {
		instance, err = d.load(ctx, a, rawPK)
		if errors.Is(err, repo.ErrNotFound) {
			env.NotFound(w, r)
			return
		}
		if err != nil {
			env.ServerError(w, r, err)
			return
		}
	}

	user := auth.UserFrom(ctx)
	ok, err := a.CheckConditions(ctx, a.Owner, instance, user)
	if err != nil {
		env.ServerError(w, r, err)
		return
	}
	if !ok {
		env.Forbidden(w, r, msgNotAvailable)
		return
	}

	set := a.Forms().Build(instance, r.URL.Query())
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		d.render(ctx, w, r, a, instance, set)
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		set.Bind(r.PostForm)
		if !set.Validate(ctx) {
			d.render(ctx, w, r, a, instance, set)
			return
		}
		values := set.Values()
		values[action.KeyRequestUser] = nil
		if user != nil {
			values[action.KeyRequestUser] = user
		}
		values[action.KeyInstance] = nil
		if instance != nil {
			values[action.KeyInstance] = instance
		}
		res, err := a.Call(ctx, values)
		var (
			notAllowed *action.NotAllowedError
			invalid    *form.ValidationError
			missing    *callctx.MissingParamError
		)
		switch {
		case err == nil:
		case errors.As(err, &notAllowed):
			env.Forbidden(w, r, err.Error())
			return
		case errors.As(err, &invalid):
			field := invalid.Field
			if _, ok := set.Method().Field(field); !ok {
				field = form.NonField
			}
			set.Method().AddError(field, invalid.Message)
			d.render(ctx, w, r, a, instance, set)
			return
		case errors.As(err, &missing):
			env.ServerError(w, r, fmt.Errorf("configuration error: %w", err))
			return
		default:
			env.ServerError(w, r, err)
			return
		}
		http.Redirect(w, r, d.next(r, res, instance), http.StatusFound)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (d *Dispatcher) load(ctx context.Context, a *action.Action, raw string) (*model.Record, error) {
	pk, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || a.Owner == nil {
		return nil, repo.ErrNotFound
	}
	return d.Env.Repo.Get(ctx, a.Owner, pk)
}

// next picks where to go after a successful call: the next parameter, the
// location of the result, the location of the instance, then the home page.
func (d *Dispatcher) next(r *http.Request, res any, instance *model.Record) string {
	if n := r.URL.Query().Get("next"); local(n) {
		return n
	}
	if u := d.Env.Views.URLFor(res); u != "" {
		return u
	}
	if u := d.Env.Views.URLFor(instance); u != "" {
		return u
	}
	return "/"
}

// local reports whether u is a path on this site.
func local(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") && !strings.HasPrefix(u, "/\\")
}

func (d *Dispatcher) render(ctx context.Context, w http.ResponseWriter, r *http.Request, a *action.Action, instance *model.Record, set *form.Set) {
	page := Page{Title: a.VerboseName, Icon: a.Icon}
	if instance != nil {
		page.Target = instance.String()
	}
	page.CancelURL = d.next(r, nil, instance)
	for _, name := range set.Names() {
		f, _ := set.Get(name)
		fields, err := f.BoundFields(ctx)
		if err != nil {
			d.Env.ServerError(w, r, err)
			return
		}
		fv := FormView{Name: name, Fields: fields, Errors: f.NonFieldErrors()}
		if name != form.MethodForm {
			fv.Title = f.Title
		}
		page.Forms = append(page.Forms, fv)
	}
	d.Env.Render.Page(w, r, http.StatusOK, "action", a.VerboseName, page)
}
