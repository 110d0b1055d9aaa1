package form

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"radsite/internal/model"
	"radsite/internal/repo"
)

// NonField keys errors that belong to the form as a whole.
const NonField = "__all__"

// Form is an ordered set of named fields bound to submitted data.
type Form struct {
	Prefix  string
	Title   string
	Initial map[string]any
	// Check runs on the cleaned data once every field is valid.
	Check func(ctx context.Context, cleaned map[string]any) error

	names   []string
	fields  map[string]Field
	data    url.Values
	bound   bool
	errors  map[string][]string
	cleaned map[string]any
}

func New(prefix, title string) *Form {
	return &Form{Prefix: prefix, Title: title, Initial: map[string]any{}, fields: map[string]Field{}}
}

// Add appends a field, replacing a field of the same name in place.
func (f *Form) Add(name string, fld Field) *Form {
	if _, ok := f.fields[name]; !ok {
		f.names = append(f.names, name)
	}
	f.fields[name] = fld
	return f
}

func (f *Form) Field(name string) (Field, bool) {
	fld, ok := f.fields[name]
	return fld, ok
}

func (f *Form) Names() []string { return append([]string(nil), f.names...) }

func (f *Form) Len() int { return len(f.names) }

// HTMLName is the submitted parameter name of a field.
func (f *Form) HTMLName(name string) string {
	if f.Prefix == "" {
		return name
	}
	return f.Prefix + "-" + name
}

// Bind attaches submitted data and resets earlier validation.
func (f *Form) Bind(data url.Values) {
	f.data = data
	f.bound = true
	f.errors = nil
	f.cleaned = nil
}

func (f *Form) Bound() bool { return f.bound }

// Validate cleans every field and reports whether the form is valid.
func (f *Form) Validate(ctx context.Context) bool {
	f.errors = map[string][]string{}
	f.cleaned = map[string]any{}
	if !f.bound {
		return false
	}
	for _, name := range f.names {
		v, err := f.fields[name].Clean(ctx, f.data[f.HTMLName(name)])
		if err != nil {
			f.errors[name] = append(f.errors[name], err.Error())
			continue
		}
		f.cleaned[name] = v
	}
	if len(f.errors) == 0 && f.Check != nil {
		if err := f.Check(ctx, f.cleaned); err != nil {
			f.AddError(NonField, err.Error())
		}
	}
	return len(f.errors) == 0
}

// Valid reports the outcome of the last Validate.
func (f *Form) Valid() bool { return f.bound && f.errors != nil && len(f.errors) == 0 }

func (f *Form) AddError(field, msg string) {
	if f.errors == nil {
		f.errors = map[string][]string{}
	}
	f.errors[field] = append(f.errors[field], msg)
}

func (f *Form) Errors() map[string][]string { return f.errors }

func (f *Form) NonFieldErrors() []string { return f.errors[NonField] }

// CleanedData holds validated values keyed by field name.
func (f *Form) CleanedData() map[string]any { return f.cleaned }

type Option struct {
	Value    string
	Label    string
	Selected bool
}

// BoundField is the render-ready view of one field.
type BoundField struct {
	Name     string
	HTMLName string
	Label    string
	HelpText string
	Widget   Widget
	Required bool
	Value    string
	Checked  bool
	Options  []Option
	Errors   []string
}

// BoundFields prepares fields for rendering.
func (f *Form) BoundFields(ctx context.Context) ([]BoundField, error) {
	out := make([]BoundField, 0, len(f.names))
	for _, name := range f.names {
		fld := f.fields[name]
		bf := BoundField{
			Name:     name,
			HTMLName: f.HTMLName(name),
			Label:    fld.Label,
			HelpText: fld.HelpText,
			Widget:   fld.Widget,
			Required: fld.Required,
			Errors:   f.errors[name],
		}
		if f.bound {
			bf.Value = f.data.Get(bf.HTMLName)
			bf.Checked = fld.Widget == Checkbox && bf.Value != "" && bf.Value != "false" && bf.Value != "0"
		} else {
			v, ok := f.Initial[name]
			if !ok {
				v = fld.Initial
			}
			bf.Value = display(v)
			if b, ok := v.(bool); ok {
				bf.Checked = b
			}
		}
		if fld.Widget == Select {
			choices, err := fld.Options(ctx)
			if err != nil {
				return nil, fmt.Errorf("options for %s: %w", name, err)
			}
			if !fld.Required || fld.target != nil {
				bf.Options = append(bf.Options, Option{Value: "", Label: "---------", Selected: bf.Value == ""})
			}
			for _, c := range choices {
				v := fmt.Sprint(c.Value)
				bf.Options = append(bf.Options, Option{Value: v, Label: c.Label, Selected: v == bf.Value})
			}
		}
		out = append(out, bf)
	}
	return out, nil
}

func display(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02")
	case *model.Record:
		return fmt.Sprint(t.PK())
	default:
		return fmt.Sprint(t)
	}
}

// Spec declares a nested sub-form taken by an action parameter.
type Spec struct {
	Title string
	Build func() *Form
}

// Resolver loads records for model choice fields.
type Resolver interface {
	Get(ctx context.Context, m *model.Model, pk int64) (*model.Record, error)
	List(ctx context.Context, m *model.Model, q repo.Query) ([]*model.Record, error)
}

type resolverKey struct{}

// WithResolver makes r available to model choice fields cleaned under ctx.
func WithResolver(ctx context.Context, r Resolver) context.Context {
	return context.WithValue(ctx, resolverKey{}, r)
}

func ResolverFrom(ctx context.Context) Resolver {
	r, _ := ctx.Value(resolverKey{}).(Resolver)
	return r
}

// ValidationError lets an action reject submitted values after the forms
// cleaned them. An empty Field reports a form-wide error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
