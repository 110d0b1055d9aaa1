package model

import (
	"errors"
	"fmt"
)

var ErrUnknownModel = errors.New("unknown model")

// Registry owns the model metadata of a site.
type Registry struct {
	models map[string]*Model
	order  []*Model
	linked bool
}

func NewRegistry() *Registry {
	return &Registry{models: map[string]*Model{}}
}

// Register adds models. Abstract bases must be registered before their children.
func (r *Registry) Register(models ...*Model) error {
	if r.linked {
		return fmt.Errorf("model registry is linked, cannot register more models")
	}
	for _, m := range models {
		if m.AppLabel == "" || m.Name == "" {
			return fmt.Errorf("model needs an app label and a name")
		}
		if _, ok := r.models[m.Key()]; ok {
			return fmt.Errorf("model %s already registered", m.Key())
		}
		m.inherit()
		seen := map[string]bool{}
		for _, f := range m.Fields {
			if seen[f.Name] {
				return fmt.Errorf("model %s declares field %q twice", m.Key(), f.Name)
			}
			seen[f.Name] = true
			if f.Kind.IsReverse() {
				return fmt.Errorf("model %s: reverse field %q cannot be declared", m.Key(), f.Name)
			}
			if f.Kind.IsRelation() && f.Related == "" {
				return fmt.Errorf("model %s: relation %q has no target", m.Key(), f.Name)
			}
		}
		if m.VerboseName == "" {
			m.VerboseName = humanize(m.Name)
		}
		r.models[m.Key()] = m
		r.order = append(r.order, m)
	}
	return nil
}

// Link installs reverse relations on relation targets. It runs once after
// every app registered its models.
func (r *Registry) Link() error {
	if r.linked {
		return nil
	}
	for _, m := range r.order {
		if m.Abstract {
			continue
		}
		for _, f := range m.Fields {
			if !f.Kind.IsRelation() {
				continue
			}
			target, ok := r.models[f.Related]
			if !ok {
				return fmt.Errorf("%w: %s.%s points at %s", ErrUnknownModel, m.Key(), f.Name, f.Related)
			}
			rev := &Field{
				Name:        f.RelatedName,
				Kind:        ManyToOneRel,
				Related:     m.Key(),
				RemoteField: f.Name,
			}
			if f.Kind == OneToOne {
				rev.Kind = OneToOneRel
				if rev.Name == "" {
					rev.Name = m.Name
				}
			} else if rev.Name == "" {
				rev.Name = m.DefaultRelatedName
				if rev.Name == "" {
					rev.Name = m.Name + "_set"
				}
			}
			if target.HasField(rev.Name) {
				return fmt.Errorf("model %s: reverse accessor %q for %s.%s clashes", target.Key(), rev.Name, m.Key(), f.Name)
			}
			target.reverse = append(target.reverse, rev)
		}
	}
	r.linked = true
	return nil
}

// Get returns the model registered under key ("app.model").
func (r *Registry) Get(key string) (*Model, error) {
	m, ok := r.models[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, key)
	}
	return m, nil
}

// Related resolves the model on the other end of a relation field.
func (r *Registry) Related(f *Field) (*Model, error) {
	if !f.Kind.IsRelation() {
		return nil, fmt.Errorf("field %q is not a relation", f.Name)
	}
	return r.Get(f.Related)
}

// Models returns registered models in registration order.
func (r *Registry) Models() []*Model {
	return append([]*Model(nil), r.order...)
}

// Concrete returns registered non-abstract models.
func (r *Registry) Concrete() []*Model {
	var out []*Model
	for _, m := range r.order {
		if !m.Abstract {
			out = append(out, m)
		}
	}
	return out
}
