// Package view maps logical view names to endpoints and materialises routes.
package view

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"radsite/internal/auth"
	"radsite/internal/model"
)

// Model view kinds known to the generic views. The embed kinds are never
// routed; registering them customises embedded sections of parent views.
const (
	List        = "list"
	Detail      = "detail"
	Create      = "create"
	EmbedList   = "embedlist"
	EmbedDetail = "embeddetail"
)

var ErrNoReverse = errors.New("no view matches")

// Builder is a view that needs the site environment to become a handler.
type Builder interface {
	Build(env *Env) (http.Handler, error)
}

// Func is a free-standing view function.
type Func func(env *Env, w http.ResponseWriter, r *http.Request)

func (f Func) Build(env *Env) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { f(env, w, r) }), nil
}

// Item is a free-standing view.
type Item struct {
	Name   string
	Paths  []string
	View   any
	Source string
	Level  auth.Level
}

// ModelItem is a view scoped to a model.
type ModelItem struct {
	Model         *model.Model
	Action        string
	Name          string
	NeedsInstance bool
	View          any
	Source        string
	Level         auth.Level
}

// Path is the route pattern of the view.
func (m *ModelItem) Path() string {
	return ModelPath(m.Model, m.Action, m.NeedsInstance)
}

// ModelName returns the logical name of a model view, e.g. "contacts_contact_list".
func ModelName(m *model.Model, action string) string {
	return m.AppLabel + "_" + m.Name + "_" + action
}

// ModelPath returns the route pattern of a model view.
func ModelPath(m *model.Model, action string, needsInstance bool) string {
	if needsInstance {
		return "/" + m.AppLabel + "/" + m.Name + "/{pk}/" + action
	}
	return "/" + m.AppLabel + "/" + m.Name + "/" + action
}

func routable(action string) bool {
	return action != EmbedList && action != EmbedDetail
}

// CollisionError reports a registration under a taken name without a matching replace.
type CollisionError struct {
	Name     string
	Existing string
	Replace  string
}

func (e *CollisionError) Error() string {
	if e.Replace != "" {
		return fmt.Sprintf("view %s is %s, not %s: refusing to replace", e.Name, e.Existing, e.Replace)
	}
	return fmt.Sprintf("view %s already registered by %s", e.Name, e.Existing)
}

type options struct {
	replace string
	source  string
	level   auth.Level
}

type Option func(*options)

// Replace allows overriding the view registered by source.
func Replace(source string) Option {
	return func(o *options) { o.replace = source }
}

// Source sets the identity other registrations use to replace this view.
// It defaults to the qualified name of the view's function or type.
func Source(id string) Option {
	return func(o *options) { o.source = id }
}

// Level declares the minimum auth level of the view.
func Level(l auth.Level) Option {
	return func(o *options) { o.level = l }
}

// SourceOf derives the identity of a view value.
func SourceOf(v any) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Func {
		if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
			return fn.Name()
		}
	}
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// Registry holds the free-standing and model views of a site.
type Registry struct {
	Logger *log.Logger

	views      map[string]*Item
	viewOrder  []string
	models     map[string]*ModelItem
	modelOrder []string
	frozen     bool

	mu     sync.Mutex
	routes atomic.Pointer[[]Route]
}

func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{Logger: logger, views: map[string]*Item{}, models: map[string]*ModelItem{}}
}

func (r *Registry) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func collect(v any, opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.source == "" {
		o.source = SourceOf(v)
	}
	return o
}

// RegisterView registers a free-standing view under name, served at paths.
func (r *Registry) RegisterView(name string, paths []string, v any, opts ...Option) error {
	if r.frozen {
		return errors.New("view registry is frozen")
	}
	o := collect(v, opts)
	item := &Item{Name: name, Paths: paths, View: v, Source: o.source, Level: o.level}
	if old, ok := r.views[name]; ok {
		if o.replace == "" || o.replace != old.Source {
			return &CollisionError{Name: name, Existing: old.Source, Replace: o.replace}
		}
		r.logger().Printf("view %s: %s replaces %s", name, item.Source, old.Source)
		r.views[name] = item
		r.Reset()
		return nil
	}
	r.views[name] = item
	r.viewOrder = append(r.viewOrder, name)
	r.Reset()
	return nil
}

// RegisterModelView registers a view of m for action.
func (r *Registry) RegisterModelView(m *model.Model, action string, needsInstance bool, v any, opts ...Option) error {
	if r.frozen {
		return errors.New("view registry is frozen")
	}
	if strings.Contains(action, "_") {
		return fmt.Errorf("model view action %q must not contain underscores", action)
	}
	o := collect(v, opts)
	item := &ModelItem{
		Model:         m,
		Action:        action,
		Name:          ModelName(m, action),
		NeedsInstance: needsInstance,
		View:          v,
		Source:        o.source,
		Level:         o.level,
	}
	if old, ok := r.models[item.Name]; ok {
		if o.replace == "" || o.replace != old.Source {
			return &CollisionError{Name: item.Name, Existing: old.Source, Replace: o.replace}
		}
		r.logger().Printf("view %s: %s replaces %s", item.Name, item.Source, old.Source)
		r.models[item.Name] = item
		r.Reset()
		return nil
	}
	r.models[item.Name] = item
	r.modelOrder = append(r.modelOrder, item.Name)
	r.Reset()
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() { r.frozen = true }

func (r *Registry) View(name string) (*Item, bool) {
	it, ok := r.views[name]
	return it, ok
}

func (r *Registry) ModelView(m *model.Model, action string) (*ModelItem, bool) {
	it, ok := r.models[ModelName(m, action)]
	return it, ok
}

func (r *Registry) Views() []*Item {
	out := make([]*Item, 0, len(r.viewOrder))
	for _, n := range r.viewOrder {
		out = append(out, r.views[n])
	}
	return out
}

func (r *Registry) ModelViews() []*ModelItem {
	out := make([]*ModelItem, 0, len(r.modelOrder))
	for _, n := range r.modelOrder {
		out = append(out, r.models[n])
	}
	return out
}

// Reverse returns the path of the named view, filling {pk} with pk when given.
func (r *Registry) Reverse(name string, pk ...int64) (string, error) {
	var pattern string
	if it, ok := r.views[name]; ok && len(it.Paths) > 0 {
		pattern = it.Paths[0]
	} else if mi, ok := r.models[name]; ok && routable(mi.Action) {
		pattern = mi.Path()
	} else {
		return "", fmt.Errorf("%w: %s", ErrNoReverse, name)
	}
	if strings.Contains(pattern, "{pk}") {
		if len(pk) == 0 {
			return "", fmt.Errorf("%w: %s needs a primary key", ErrNoReverse, name)
		}
		pattern = strings.Replace(pattern, "{pk}", strconv.FormatInt(pk[0], 10), 1)
	}
	return pattern, nil
}

// Locator is implemented by values that know their canonical location.
type Locator interface {
	Location() string
}

// URLFor returns the canonical location of v: its own for Locators, the
// detail view for saved records, empty otherwise.
func (r *Registry) URLFor(v any) string {
	switch t := v.(type) {
	case Locator:
		return t.Location()
	case *model.Record:
		if t == nil || !t.Saved() {
			return ""
		}
		u, err := r.Reverse(ModelName(t.Model(), Detail), t.PK())
		if err != nil {
			return ""
		}
		return u
	}
	return ""
}
