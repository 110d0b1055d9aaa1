// Package generic provides list, detail and embedded views derived from model
// metadata. Views are composed from small strategies (Fields, Headline,
// embedding declarations) rather than from a type hierarchy.
package generic

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/view"
)

const (
	EmptyValue = "--"
	trueIcon   = "check"
	falseIcon  = "times"
)

var alwaysExcluded = []string{"created", "modified"}

// Fields resolves which attributes a view shows. Include wins over the
// default of every concrete field minus Exclude.
type Fields struct {
	Include []string
	Exclude []string
	// Layout groups fields into rows on detail pages. Fields missing from it
	// get a row each after the declared rows.
	Layout [][]string
}

// Resolve returns the field names for m and whether they were derived from the model.
func (f Fields) Resolve(m *model.Model) ([]string, bool) {
	if len(f.Include) > 0 {
		return append([]string(nil), f.Include...), false
	}
	names := []string{"id"}
	for _, fld := range m.ConcreteFields() {
		if slices.Contains(f.Exclude, fld.Name) || slices.Contains(alwaysExcluded, fld.Name) {
			continue
		}
		names = append(names, fld.Name)
	}
	if slices.Contains(f.Exclude, "id") {
		names = names[1:]
	}
	return names, true
}

// Rows arranges names by Layout.
func (f Fields) Rows(names []string) [][]string {
	var rows [][]string
	placed := map[string]bool{}
	for _, row := range f.Layout {
		var r []string
		for _, n := range row {
			if slices.Contains(names, n) {
				r = append(r, n)
				placed[n] = true
			}
		}
		if len(r) > 0 {
			rows = append(rows, r)
		}
	}
	for _, n := range names {
		if !placed[n] {
			rows = append(rows, []string{n})
		}
	}
	return rows
}

// Validate reports names that do not resolve on m.
func (f Fields) Validate(m *model.Model) error {
	names, _ := f.Resolve(m)
	for _, n := range names {
		if n == "id" || n == "pk" {
			continue
		}
		if _, ok := m.Computed[n]; ok {
			continue
		}
		if _, err := m.Field(n); err != nil {
			return err
		}
	}
	return nil
}

// Headline resolves the heading of a page. Attr and Subtitle name a field
// or computed attribute of the shown record.
type Headline struct {
	Attr     string
	Subtitle string
}

// Title returns the heading for rec, or the list heading of m when rec is nil.
func (h Headline) Title(m *model.Model, rec *model.Record) string {
	if rec == nil {
		return capfirst(m.Label()) + " list"
	}
	if h.Attr != "" {
		if v, ok := rec.Attr(h.Attr); ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return rec.String()
}

// Sub returns the subtitle, "-" when none is configured.
func (h Headline) Sub(rec *model.Record) string {
	if h.Subtitle == "" || rec == nil {
		return "-"
	}
	if v, ok := rec.Attr(h.Subtitle); ok && v != nil {
		return fmt.Sprint(v)
	}
	return "-"
}

// Cell is one formatted value.
type Cell struct {
	Text string
	URL  string
	Icon string
}

// Label returns the column heading of name on m.
func Label(m *model.Model, name string) string {
	if name == "id" || name == "pk" {
		return "ID"
	}
	if f, err := m.Field(name); err == nil {
		return capfirst(f.Label())
	}
	return capfirst(humanize(name))
}

// Format renders attribute name of rec for humans. Relations are followed
// and linked to the target's detail view when one exists.
func Format(ctx context.Context, env *view.Env, rec *model.Record, name string) (Cell, error) {
	m := rec.Model()
	if name == "id" || name == "pk" {
		return Cell{Text: strconv.FormatInt(rec.PK(), 10)}, nil
	}
	f, err := m.Field(name)
	if err != nil {
		v, ok := rec.Attr(name)
		if !ok {
			return Cell{}, err
		}
		return formatValue(nil, v), nil
	}
	if f.Kind.ToOne() {
		target, err := env.Repo.Related(ctx, rec, f)
		if errors.Is(err, repo.ErrNotFound) {
			return Cell{Text: EmptyValue}, nil
		}
		if err != nil {
			return Cell{}, err
		}
		return Cell{Text: target.String(), URL: env.Views.URLFor(target)}, nil
	}
	if f.Kind.ToMany() {
		q, err := repo.RelatedQuery(rec, f)
		if err != nil {
			return Cell{}, err
		}
		target, err := env.Models.Related(f)
		if err != nil {
			return Cell{}, err
		}
		n, err := env.Repo.Count(ctx, target, q)
		if err != nil {
			return Cell{}, err
		}
		return Cell{Text: strconv.Itoa(n)}, nil
	}
	return formatValue(f, rec.Get(name)), nil
}

func formatValue(f *model.Field, v any) Cell {
	if v == nil {
		return Cell{Text: EmptyValue}
	}
	if f != nil && len(f.Choices) > 0 {
		if label, ok := f.ChoiceLabel(v); ok {
			return Cell{Text: label}
		}
	}
	switch t := v.(type) {
	case bool:
		if t {
			return Cell{Text: "yes", Icon: trueIcon}
		}
		return Cell{Text: "no", Icon: falseIcon}
	case time.Time:
		if f != nil && f.Type == model.Date {
			return Cell{Text: t.Format("2006-01-02")}
		}
		return Cell{Text: t.Format("2006-01-02 15:04:05")}
	case string:
		if t == "" {
			return Cell{Text: EmptyValue}
		}
		if f != nil && f.Type == model.URL {
			return Cell{Text: t, URL: t}
		}
		return Cell{Text: t}
	}
	return Cell{Text: fmt.Sprint(v)}
}
