// Package engine assembles a site from its apps: models are registered and
// linked first, tables created, then apps register actions and views and
// every registry is frozen.
package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"log"
	"time"

	"radsite/internal/action"
	"radsite/internal/app"
	"radsite/internal/auth"
	"radsite/internal/config"
	"radsite/internal/events"
	"radsite/internal/migrate"
	"radsite/internal/model"
	"radsite/internal/render"
	"radsite/internal/repo"
	"radsite/internal/urlsign"
	"radsite/internal/view"
	"radsite/internal/view/generic"
)

const defaultLoginURL = "/login"

type Config struct {
	DB     *sql.DB
	Site   config.Site
	Apps   []app.App
	Now    func() time.Time
	Logger *log.Logger
}

// Engine is a fully registered site.
type Engine struct {
	DB      *sql.DB
	Site    config.Site
	Apps    []app.App
	Models  *model.Registry
	Actions *action.Registry
	Views   *view.Registry
	Repo    repo.Repo
	Signer  urlsign.Signer
	Events  events.Writer
	Auth    auth.Middleware
	Env     *view.Env
	Now     func() time.Time
	Logger  *log.Logger
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// New builds the site. Any registration error aborts startup.
func New(cfg Config) (*Engine, error) {
	if cfg.DB == nil {
		return nil, errors.New("engine needs a database")
	}
	level, err := cfg.Site.Level()
	if err != nil {
		return nil, err
	}
	exceptions, err := cfg.Site.Exceptions()
	if err != nil {
		return nil, err
	}
	if cfg.Site.SecretKey == "" {
		return nil, errors.New("site secret key is not configured")
	}
	loginURL := cfg.Site.LoginURL
	if loginURL == "" {
		loginURL = defaultLoginURL
	}
	e := &Engine{DB: cfg.DB, Site: cfg.Site, Apps: cfg.Apps, Now: cfg.Now, Logger: cfg.Logger}
	if e.Now == nil {
		e.Now = time.Now
	}

	e.Models = model.NewRegistry()
	for _, a := range cfg.Apps {
		if err := e.Models.Register(a.Models()...); err != nil {
			return nil, fmt.Errorf("app %s: %w", a.Label(), err)
		}
	}
	if err := e.Models.Link(); err != nil {
		return nil, err
	}
	if err := migrate.Migrate(cfg.DB, e.Models.Concrete()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e.Repo = repo.Repo{DB: cfg.DB, Models: e.Models}
	e.Signer = urlsign.Signer{Secret: cfg.Site.SecretKey, DefaultExpire: cfg.Site.SignedURLExpire, Now: e.Now}
	e.Actions = action.NewRegistry(e.Models, e.logger())
	e.Views = view.NewRegistry(e.logger())
	if err := e.registerSiteViews(loginURL); err != nil {
		return nil, err
	}

	site := &app.Site{
		Models:  e.Models,
		Actions: e.Actions,
		Views:   e.Views,
		Repo:    e.Repo,
		Signer:  e.Signer,
		Logger:  e.logger(),
	}
	for _, a := range cfg.Apps {
		if err := a.Register(site); err != nil {
			return nil, fmt.Errorf("app %s: %w", a.Label(), err)
		}
	}
	e.Actions.Freeze()
	e.Views.Freeze()

	e.Events = events.Writer{Repo: e.Repo, Now: e.Now, Logger: e.logger()}
	e.Events.Subscribe(e.Actions.Hooks)

	sessions := auth.Sessions{
		Secret: cfg.Site.SecretKey,
		TTL:    cfg.Site.SessionTTL,
		Secure: cfg.Site.SecureCookies,
		Now:    e.Now,
	}
	renderer := render.New(cfg.Site.Title, template.FuncMap{
		"urlsign": func(path string) (string, error) {
			su, err := e.Signer.Sign(path)
			if err != nil {
				return "", err
			}
			return su.FullPath(), nil
		},
	})
	renderer.Logger = e.logger()
	e.Env = &view.Env{
		Repo:     e.Repo,
		Models:   e.Models,
		Actions:  e.Actions,
		Views:    e.Views,
		Render:   renderer,
		Signer:   e.Signer,
		Sessions: sessions,
		Users:    site.Users,
		Logger:   e.logger(),
		DevLogin: cfg.Site.DevLogin,
	}
	renderer.Nav = e.Env.Nav
	if err := renderer.Check(); err != nil {
		return nil, err
	}
	if _, err := e.Views.Routes(e.Env); err != nil {
		return nil, err
	}
	e.Auth = auth.Middleware{
		Signer:     e.Signer,
		Sessions:   sessions,
		Users:      site.Users,
		Keys:       e.Repo,
		Default:    level,
		Exceptions: exceptions,
		LoginURL:   loginURL,
		Logger:     e.logger(),
	}
	return e, nil
}

func (e *Engine) registerSiteViews(loginURL string) error {
	if err := e.Views.RegisterView("home", []string{"/"}, generic.Home{}, view.Source(generic.HomeSource)); err != nil {
		return err
	}
	if err := e.Views.RegisterView("login", []string{loginURL}, generic.Login{}, view.Source(generic.LoginSource)); err != nil {
		return err
	}
	return e.Views.RegisterView("logout", []string{"/logout"}, generic.Logout{}, view.Source(generic.LogoutSource))
}

// App returns the installed app labelled label.
func (e *Engine) App(label string) (app.App, bool) {
	for _, a := range e.Apps {
		if a.Label() == label {
			return a, true
		}
	}
	return nil, false
}
