// Package app defines the unit of installation of a site: a label, its
// models and the actions and views it registers.
package app

import (
	"fmt"
	"log"

	"radsite/internal/action"
	"radsite/internal/auth"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/urlsign"
	"radsite/internal/view"
)

// App is an installable application.
type App interface {
	Label() string
	Models() []*model.Model
	// Register runs after every model of every app is linked.
	Register(site *Site) error
}

// Site is what apps register against.
type Site struct {
	Models  *model.Registry
	Actions *action.Registry
	Views   *view.Registry
	Repo    repo.Repo
	Signer  urlsign.Signer
	Logger  *log.Logger

	// Users resolves session and signed URL identities. Set by the app that
	// owns the user model.
	Users auth.UserStore
}

// Resolve picks the apps named in config, in config order.
func Resolve(available []App, names []string) ([]App, error) {
	byLabel := make(map[string]App, len(available))
	for _, a := range available {
		if _, dup := byLabel[a.Label()]; dup {
			return nil, fmt.Errorf("app %s provided twice", a.Label())
		}
		byLabel[a.Label()] = a
	}
	out := make([]App, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		a, ok := byLabel[n]
		if !ok {
			return nil, fmt.Errorf("unknown app %s", n)
		}
		if seen[n] {
			return nil, fmt.Errorf("app %s listed twice", n)
		}
		seen[n] = true
		out = append(out, a)
	}
	return out, nil
}
