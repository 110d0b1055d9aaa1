package view

import (
	"fmt"
	"net/http"

	"radsite/internal/auth"
)

// Route is one materialised URL pattern.
type Route struct {
	Name    string
	Pattern string
	Handler http.Handler
	Level   auth.Level
}

// Routes builds every routable view once and caches the result until Reset.
func (r *Registry) Routes(env *Env) ([]Route, error) {
	if p := r.routes.Load(); p != nil {
		return *p, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.routes.Load(); p != nil {
		return *p, nil
	}
	routes, err := r.build(env)
	if err != nil {
		return nil, err
	}
	r.routes.Store(&routes)
	return routes, nil
}

// Reset drops the cached routes; the next Routes call rebuilds them.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes.Store(nil)
}

func (r *Registry) build(env *Env) ([]Route, error) {
	var routes []Route
	for _, it := range r.Views() {
		h, err := handlerOf(env, it.View)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", it.Name, err)
		}
		level := it.Level
		if level == 0 {
			level = auth.DeclaredLevel(it.View)
		}
		for _, p := range it.Paths {
			routes = append(routes, Route{Name: it.Name, Pattern: p, Handler: h, Level: level})
		}
	}
	for _, it := range r.ModelViews() {
		if !routable(it.Action) {
			continue
		}
		h, err := handlerOf(env, it.View)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", it.Name, err)
		}
		level := it.Level
		if level == 0 {
			level = auth.DeclaredLevel(it.View)
		}
		routes = append(routes, Route{Name: it.Name, Pattern: it.Path(), Handler: h, Level: level})
	}
	return routes, nil
}

func handlerOf(env *Env, v any) (http.Handler, error) {
	switch t := v.(type) {
	case Builder:
		return t.Build(env)
	case http.Handler:
		return t, nil
	case func(http.ResponseWriter, *http.Request):
		return http.HandlerFunc(t), nil
	default:
		return nil, fmt.Errorf("%T is not a view", v)
	}
}
