package form

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"radsite/internal/callctx"
	"radsite/internal/model"
)

// MethodForm names the form holding an action's own parameters.
const MethodForm = "_method"

// Reserved parameter names are supplied by the dispatcher, never by forms.
var Reserved = []string{"self", "request_user", "instance", "action", "cls", "args", "kwargs"}

func isReserved(name string) bool {
	for _, r := range Reserved {
		if r == name {
			return true
		}
	}
	return false
}

// Input describes the callable a form set is synthesised for.
type Input struct {
	Name   string
	Title  string
	Params []callctx.Param
	Owner  *model.Model
	Models *model.Registry
}

type entry struct {
	name  string
	field Field
	// modelField is set when the input came from the owning model.
	modelField bool
}

type subform struct {
	name string
	spec *Spec
}

// Factory builds fresh form sets for one callable.
type Factory struct {
	title    string
	fields   []entry
	subforms []subform
}

// Synthesize resolves every non-reserved parameter to a form input.
//
// A Field default is used verbatim, a *Spec default becomes a nested sub-form
// and a name matching an editable field of the owning model yields that
// field's form field, optional with the default as initial value when one is
// declared. Any other parameter is a configuration error.
func Synthesize(in Input) (*Factory, error) {
	f := &Factory{title: in.Title}
	for _, p := range in.Params {
		if isReserved(p.Name) {
			continue
		}
		switch d := p.Default.(type) {
		case Field:
			f.fields = append(f.fields, entry{name: p.Name, field: d})
			continue
		case *Spec:
			if d == nil || d.Build == nil {
				return nil, fmt.Errorf("sub-form %q of %s has no builder", p.Name, in.Name)
			}
			f.subforms = append(f.subforms, subform{name: p.Name, spec: d})
			continue
		}
		if in.Owner != nil && in.Models != nil {
			if mf, err := in.Owner.Field(p.Name); err == nil && mf.Editable() {
				fld, err := FieldFor(in.Models, mf)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", in.Name, err)
				}
				if p.HasDefault {
					fld.Required = false
					fld.Initial = p.Default
				}
				f.fields = append(f.fields, entry{name: p.Name, field: fld, modelField: true})
				continue
			}
		}
		return nil, fmt.Errorf("cannot process argument named %q of %s", p.Name, in.Name)
	}
	return f, nil
}

// Empty reports whether the callable takes no user input at all.
func (f *Factory) Empty() bool { return len(f.fields) == 0 && len(f.subforms) == 0 }

// Build returns a new form set. Initial values come from the instance's
// matching fields, then from query parameters named "<form>-<field>".
func (f *Factory) Build(instance *model.Record, query url.Values) *Set {
	method := New(MethodForm, f.title)
	for _, e := range f.fields {
		method.Add(e.name, e.field)
		if e.modelField && instance != nil {
			if v := instance.Get(e.name); v != nil {
				method.Initial[e.name] = v
			}
		}
	}
	s := &Set{forms: map[string]*Form{}}
	s.add(MethodForm, method)
	for _, sf := range f.subforms {
		sub := sf.spec.Build()
		sub.Prefix = sf.name
		if sub.Title == "" {
			sub.Title = sf.spec.Title
		}
		s.add(sf.name, sub)
	}
	for key, values := range query {
		name, field, ok := strings.Cut(key, "-")
		if !ok || len(values) == 0 {
			continue
		}
		if form, ok := s.forms[name]; ok {
			if _, ok := form.Field(field); ok {
				form.Initial[field] = values[0]
			}
		}
	}
	return s
}

// Set is the ordered collection of forms of one action, the method form first.
type Set struct {
	order []string
	forms map[string]*Form
}

func (s *Set) add(name string, f *Form) {
	s.order = append(s.order, name)
	s.forms[name] = f
}

func (s *Set) Method() *Form { return s.forms[MethodForm] }

func (s *Set) Get(name string) (*Form, bool) {
	f, ok := s.forms[name]
	return f, ok
}

func (s *Set) Names() []string { return append([]string(nil), s.order...) }

// Forms returns the forms in order.
func (s *Set) Forms() []*Form {
	out := make([]*Form, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.forms[n])
	}
	return out
}

// Bind attaches the same submitted data to every form.
func (s *Set) Bind(data url.Values) {
	for _, f := range s.forms {
		f.Bind(data)
	}
}

// Validate validates every form, without stopping at the first invalid one.
func (s *Set) Validate(ctx context.Context) bool {
	ok := true
	for _, n := range s.order {
		if !s.forms[n].Validate(ctx) {
			ok = false
		}
	}
	return ok
}

// Values merges the method form's cleaned data with the sub-forms keyed by name.
func (s *Set) Values() map[string]any {
	out := map[string]any{}
	for k, v := range s.Method().CleanedData() {
		out[k] = v
	}
	for _, n := range s.order[1:] {
		out[n] = s.forms[n]
	}
	return out
}
