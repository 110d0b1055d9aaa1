package generic

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"radsite/internal/auth"
	"radsite/internal/domain"
	"radsite/internal/render"
	"radsite/internal/view"
)

// Sources of the site views, used by apps that replace them.
const (
	HomeSource   = "radsite.home"
	LoginSource  = "radsite.login"
	LogoutSource = "radsite.logout"
)

const msgBadLogin = "Please enter a correct username and password."

// Home lists the sections of the site.
type Home struct {
	Heading string
}

type HomePage struct {
	Heading string
	Links   []render.Link
}

func (h Home) Build(env *view.Env) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		heading := h.Heading
		if heading == "" {
			heading = env.Render.Site
		}
		env.Render.Page(w, r, http.StatusOK, "home", heading, HomePage{Heading: heading, Links: env.Nav()})
	}), nil
}

// Login authenticates with a username and password. Without Check every
// attempt fails.
type Login struct {
	Check func(ctx context.Context, username, password string) (*domain.User, error)
	// Users lists the accounts offered for one-click login when the site
	// runs with development login.
	Users func(ctx context.Context) ([]*domain.User, error)
}

type LoginPage struct {
	Next     string
	Error    string
	Username string
	Users    []render.Link
}

func (Login) AuthLevel() auth.Level { return auth.Anonymous }

func (l Login) Build(env *view.Env) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		next := localPath(r.FormValue("next"))
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			if as := r.URL.Query().Get("as"); as != "" && env.DevLogin {
				l.devLogin(env, w, r, as, next)
				return
			}
			l.render(env, w, r, http.StatusOK, LoginPage{Next: next})
		case http.MethodPost:
			page := LoginPage{Next: next, Username: r.PostFormValue("username")}
			if l.Check == nil {
				page.Error = msgBadLogin
				l.render(env, w, r, http.StatusOK, page)
				return
			}
			u, err := l.Check(ctx, page.Username, r.PostFormValue("password"))
			if err != nil || u == nil || !u.Active {
				page.Error = msgBadLogin
				l.render(env, w, r, http.StatusOK, page)
				return
			}
			l.login(env, w, r, u, next)
		default:
			w.Header().Set("Allow", "GET, HEAD, POST")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	}), nil
}

func (l Login) devLogin(env *view.Env, w http.ResponseWriter, r *http.Request, raw, next string) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || env.Users == nil {
		env.NotFound(w, r)
		return
	}
	u, err := env.Users.UserByID(r.Context(), id)
	if err != nil || u == nil || !u.Active {
		env.NotFound(w, r)
		return
	}
	l.login(env, w, r, u, next)
}

func (l Login) login(env *view.Env, w http.ResponseWriter, r *http.Request, u *domain.User, next string) {
	if err := env.Sessions.Login(w, u.ID); err != nil {
		env.ServerError(w, r, err)
		return
	}
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusFound)
}

func (l Login) render(env *view.Env, w http.ResponseWriter, r *http.Request, status int, page LoginPage) {
	if env.DevLogin && l.Users != nil {
		users, err := l.Users(r.Context())
		if err != nil {
			env.ServerError(w, r, err)
			return
		}
		for _, u := range users {
			q := url.Values{"as": {strconv.FormatInt(u.ID, 10)}}
			if page.Next != "" {
				q.Set("next", page.Next)
			}
			page.Users = append(page.Users, render.Link{Label: u.FullName(), URL: r.URL.Path + "?" + q.Encode()})
		}
	}
	env.Render.Page(w, r, status, "login", "Login", page)
}

// Logout drops the session and goes home.
type Logout struct{}

func (Logout) AuthLevel() auth.Level { return auth.Anonymous }

func (Logout) Build(env *view.Env) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.Sessions.Logout(w)
		auth.AddMessage(w, r, auth.MessageInfo, "You have been logged out.")
		http.Redirect(w, r, "/", http.StatusFound)
	}), nil
}

// localPath returns p when it is a path on this site, empty otherwise.
func localPath(p string) string {
	if strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\") {
		return p
	}
	return ""
}
