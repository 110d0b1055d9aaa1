package action

import (
	"context"
	"fmt"
	"log"

	"radsite/internal/callctx"
	"radsite/internal/domain"
	"radsite/internal/form"
	"radsite/internal/model"
)

// FieldFilter selects actions by attached field. The zero value matches every action.
type FieldFilter struct {
	mode  int
	field string
}

const (
	anyField = iota
	unboundOnly
	attachedTo
)

// AnyField matches every action.
var AnyField = FieldFilter{}

// Unbound matches actions not attached to a field.
func Unbound() FieldFilter { return FieldFilter{mode: unboundOnly} }

// Attached matches actions attached to field.
func Attached(field string) FieldFilter { return FieldFilter{mode: attachedTo, field: field} }

func (f FieldFilter) match(a *Action) bool {
	switch f.mode {
	case unboundOnly:
		return a.Field == ""
	case attachedTo:
		return a.Field == f.field
	default:
		return true
	}
}

// Query selects candidate actions. With Instance set only instance actions
// whose owner the instance's model is compatible with qualify; with only Model
// set, only actions without instance whose owner Model inherits from.
type Query struct {
	Model    *model.Model
	Instance *model.Record
	Field    FieldFilter
}

// Registry holds every action of a site keyed by full name.
type Registry struct {
	Models *model.Registry
	Hooks  *Hooks
	Caller callctx.Caller

	byName map[string]*Action
	order  []*Action
	frozen bool
}

func NewRegistry(models *model.Registry, logger *log.Logger) *Registry {
	return &Registry{
		Models: models,
		Hooks:  &Hooks{},
		Caller: callctx.Caller{Logger: logger},
		byName: map[string]*Action{},
	}
}

// Build turns a spec into an action bound to r without adding it.
func (r *Registry) Build(spec Spec) (*Action, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("action needs a name")
	}
	if spec.Func == nil {
		return nil, fmt.Errorf("action %s has no function", spec.Name)
	}
	a := &Action{
		Name:          spec.Name,
		FullName:      spec.FullName,
		VerboseName:   spec.VerboseName,
		Icon:          spec.Icon,
		NeedsInstance: spec.NeedsInstance,
		Owner:         spec.Owner,
		Field:         spec.Field,
		Conditions:    append([]Condition(nil), spec.Conditions...),
		fn:            spec.Func,
		reg:           r,
	}
	if a.FullName == "" {
		a.FullName = DefaultFullName(spec.Owner, spec.Module, spec.Name)
	}
	if a.VerboseName == "" {
		a.VerboseName = DefaultVerboseName(spec.Name)
	}
	if a.Icon == "" {
		a.Icon = defaultIcon
		if spec.Owner != nil && spec.Owner.Icon != "" {
			a.Icon = spec.Owner.Icon
		}
	}
	if a.Field != "" {
		if a.Owner == nil {
			return nil, fmt.Errorf("action %s: attached field %q needs an owner", a.FullName, a.Field)
		}
		if _, err := a.Owner.Field(a.Field); err != nil {
			return nil, fmt.Errorf("action %s: %w", a.FullName, err)
		}
	}
	a.Signature = callctx.Signature{Name: a.FullName, Params: spec.Params, Extra: spec.Extra}
	a.invoke = a.Signature
	for _, c := range a.Conditions {
		if c.Test == nil {
			return nil, fmt.Errorf("action %s: condition %q has no test", a.FullName, c.Name)
		}
	}
	forms, err := form.Synthesize(form.Input{
		Name:   a.FullName,
		Title:  a.VerboseName,
		Params: spec.Params,
		Owner:  spec.Owner,
		Models: r.Models,
	})
	if err != nil {
		return nil, err
	}
	a.forms = forms
	return a, nil
}

// Register builds and adds an action.
func (r *Registry) Register(spec Spec) (*Action, error) {
	a, err := r.Build(spec)
	if err != nil {
		return nil, err
	}
	if err := r.Add(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Add stores a; an existing action of the same full name is never replaced.
func (r *Registry) Add(a *Action) error {
	if r.frozen {
		return ErrFrozen
	}
	if _, ok := r.byName[a.FullName]; ok {
		return &DuplicateError{FullName: a.FullName}
	}
	a.reg = r
	r.byName[a.FullName] = a
	r.order = append(r.order, a)
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() { r.frozen = true }

func (r *Registry) Frozen() bool { return r.frozen }

// Find returns the action registered under fullName.
func (r *Registry) Find(fullName string) (*Action, error) {
	a, ok := r.byName[fullName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fullName)
	}
	return a, nil
}

// FindFor returns the action called name owned by exactly owner.
func (r *Registry) FindFor(owner *model.Model, name string) (*Action, error) {
	for _, a := range r.order {
		if a.Owner == owner && a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrNotFound, owner, name)
}

// All returns every action in registration order.
func (r *Registry) All() []*Action {
	return append([]*Action(nil), r.order...)
}

// Candidates lists actions matching q, ignoring conditions.
func (r *Registry) Candidates(q Query) []*Action {
	var out []*Action
	for _, a := range r.order {
		if q.Instance != nil {
			if !a.NeedsInstance {
				continue
			}
			if a.Owner == nil || !q.Instance.Model().IsA(a.Owner) {
				continue
			}
		} else if q.Model != nil {
			if a.NeedsInstance {
				continue
			}
			if a.Owner != nil && !q.Model.IsA(a.Owner) {
				continue
			}
		}
		if !q.Field.match(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Available lists the candidates whose conditions hold for user.
func (r *Registry) Available(ctx context.Context, q Query, user *domain.User) ([]*Action, error) {
	var out []*Action
	for _, a := range r.Candidates(q) {
		ok, err := a.CheckConditions(ctx, q.Model, q.Instance, user)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}
