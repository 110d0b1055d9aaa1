package form

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"radsite/internal/model"
	"radsite/internal/repo"
)

type Widget string

const (
	TextInput     Widget = "text"
	Textarea      Widget = "textarea"
	Select        Widget = "select"
	Checkbox      Widget = "checkbox"
	DateInput     Widget = "date"
	EmailInput    Widget = "email"
	URLInput      Widget = "url"
	NumberInput   Widget = "number"
	PasswordInput Widget = "password"
)

var ErrRequired = errors.New("This field is required.")

// Field declares one input of a form. Build fields with the constructors below.
type Field struct {
	Label     string
	HelpText  string
	Required  bool
	Initial   any
	Widget    Widget
	Choices   []model.Choice
	MaxLength int

	clean  func(ctx context.Context, raw string) (any, error)
	target *model.Model
	accept func(*model.Record) bool
}

// Optional returns a copy of f that accepts empty input.
func (f Field) Optional() Field {
	f.Required = false
	return f
}

// WithInitial returns a copy of f pre-filled with v.
func (f Field) WithInitial(v any) Field {
	f.Initial = v
	return f
}

// WithHelp returns a copy of f carrying a help text.
func (f Field) WithHelp(text string) Field {
	f.HelpText = text
	return f
}

func Char(label string, maxLength int) Field {
	return Field{Label: label, Required: true, Widget: TextInput, MaxLength: maxLength}
}

// Secret is a required text input whose value is never rendered back.
func Secret(label string, maxLength int) Field {
	return Field{Label: label, Required: true, Widget: PasswordInput, MaxLength: maxLength}
}

func Text(label string) Field {
	return Field{Label: label, Required: true, Widget: Textarea}
}

func Integer(label string) Field {
	return Field{Label: label, Required: true, Widget: NumberInput, clean: func(_ context.Context, raw string) (any, error) {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.New("Enter a whole number.")
		}
		return n, nil
	}}
}

// Boolean fields are never required unless made so explicitly.
func Boolean(label string) Field {
	return Field{Label: label, Widget: Checkbox}
}

func Choice(label string, choices []model.Choice) Field {
	return Field{Label: label, Required: true, Widget: Select, Choices: choices}
}

func Date(label string) Field {
	return Field{Label: label, Required: true, Widget: DateInput, clean: func(_ context.Context, raw string) (any, error) {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, errors.New("Enter a valid date.")
		}
		return t, nil
	}}
}

func Email(label string) Field {
	return Field{Label: label, Required: true, Widget: EmailInput, MaxLength: 254, clean: func(_ context.Context, raw string) (any, error) {
		addr, err := mail.ParseAddress(raw)
		if err != nil || addr.Address != raw {
			return nil, errors.New("Enter a valid email address.")
		}
		return raw, nil
	}}
}

func URL(label string) Field {
	return Field{Label: label, Required: true, Widget: URLInput, MaxLength: 200, clean: func(_ context.Context, raw string) (any, error) {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errors.New("Enter a valid URL.")
		}
		return raw, nil
	}}
}

// ModelChoice selects one record of target. accept, when set, narrows the offered records.
func ModelChoice(label string, target *model.Model, accept func(*model.Record) bool) Field {
	f := Field{Label: label, Required: true, Widget: Select, target: target, accept: accept}
	f.clean = func(ctx context.Context, raw string) (any, error) {
		invalid := errors.New("Select a valid choice. That choice is not one of the available choices.")
		pk, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, invalid
		}
		res := ResolverFrom(ctx)
		if res == nil {
			return nil, fmt.Errorf("no record resolver for %s", target.Key())
		}
		rec, err := res.Get(ctx, target, pk)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, invalid
		}
		if err != nil {
			return nil, err
		}
		if accept != nil && !accept(rec) {
			return nil, invalid
		}
		return rec, nil
	}
	return f
}

// Target returns the model a model choice field selects from.
func (f Field) Target() *model.Model { return f.target }

// Options lists the selectable values of a choice field.
func (f Field) Options(ctx context.Context) ([]model.Choice, error) {
	if f.target == nil {
		return f.Choices, nil
	}
	res := ResolverFrom(ctx)
	if res == nil {
		return nil, nil
	}
	items, err := res.List(ctx, f.target, repo.Query{Limit: maxModelChoices})
	if err != nil {
		return nil, err
	}
	out := make([]model.Choice, 0, len(items))
	for _, rec := range items {
		if f.accept != nil && !f.accept(rec) {
			continue
		}
		out = append(out, model.Choice{Value: rec.PK(), Label: rec.String()})
	}
	return out, nil
}

const maxModelChoices = 500

// Clean converts submitted values into the field's Go value.
func (f Field) Clean(ctx context.Context, values []string) (any, error) {
	if f.Widget == Checkbox {
		on := false
		if len(values) > 0 {
			switch strings.ToLower(strings.TrimSpace(values[len(values)-1])) {
			case "", "0", "false", "off":
			default:
				on = true
			}
		}
		if f.Required && !on {
			return nil, ErrRequired
		}
		return on, nil
	}
	raw := ""
	if len(values) > 0 {
		raw = strings.TrimSpace(values[0])
	}
	if raw == "" {
		if f.Required {
			return nil, ErrRequired
		}
		return nil, nil
	}
	if f.MaxLength > 0 && utf8.RuneCountInString(raw) > f.MaxLength {
		return nil, fmt.Errorf("Ensure this value has at most %d characters (it has %d).", f.MaxLength, utf8.RuneCountInString(raw))
	}
	if len(f.Choices) > 0 {
		for _, c := range f.Choices {
			if fmt.Sprint(c.Value) == raw {
				return c.Value, nil
			}
		}
		return nil, fmt.Errorf("Select a valid choice. %s is not one of the available choices.", raw)
	}
	if f.clean != nil {
		return f.clean(ctx, raw)
	}
	return raw, nil
}

// FieldFor derives a form field from a model field.
func FieldFor(models *model.Registry, mf *model.Field) (Field, error) {
	if !mf.Editable() {
		return Field{}, fmt.Errorf("field %q is not editable", mf.Name)
	}
	label := capfirst(mf.Label())
	var f Field
	switch {
	case mf.Kind.IsRelation():
		target, err := models.Related(mf)
		if err != nil {
			return Field{}, err
		}
		f = ModelChoice(label, target, nil)
	case len(mf.Choices) > 0:
		f = Choice(label, mf.Choices)
	default:
		switch mf.Type {
		case model.Text:
			f = Text(label)
		case model.Int:
			f = Integer(label)
		case model.Bool:
			f = Boolean(label)
		case model.Date, model.DateTime:
			f = Date(label)
		case model.Email:
			f = Email(label)
		case model.URL:
			f = URL(label)
		default:
			f = Char(label, mf.MaxLength)
		}
	}
	if mf.Type != model.Bool || mf.Kind.IsRelation() {
		f.Required = mf.Required
	}
	if mf.MaxLength > 0 {
		f.MaxLength = mf.MaxLength
	}
	f.HelpText = mf.HelpText
	f.Initial = mf.Default
	return f, nil
}

func capfirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
