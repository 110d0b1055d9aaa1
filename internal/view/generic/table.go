package generic

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"radsite/internal/action"
	"radsite/internal/domain"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/view"
)

const (
	SortParam = "sort"
	PageParam = "page"
)

type Column struct {
	Name    string
	Label   string
	SortURL string
	Sorted  bool
	Desc    bool
}

type Row struct {
	PK    int64
	URL   string
	Cells []Cell
}

type Table struct {
	Columns []Column
	Rows    []Row
}

// FieldValue is one labelled value on a detail page.
type FieldValue struct {
	Name    string
	Label   string
	Cell    Cell
	Actions []ActionLink
}

type ActionLink struct {
	Name  string
	Label string
	Icon  string
	URL   string
}

// buildTable formats items into columns. With query set, columns get sort links.
func buildTable(ctx context.Context, env *view.Env, m *model.Model, columns []string, items []*model.Record, query url.Values) (Table, error) {
	var t Table
	current := ""
	if query != nil {
		current = query.Get(SortParam)
	}
	for _, n := range columns {
		c := Column{Name: n, Label: Label(m, n)}
		if query != nil && sortable(m, n) {
			c.Sorted = current == n || current == "-"+n
			c.Desc = current == "-"+n
			next := n
			if current == n {
				next = "-" + n
			}
			q := cloneValues(query)
			q.Set(SortParam, next)
			q.Del(PageParam)
			c.SortURL = "?" + q.Encode()
		}
		t.Columns = append(t.Columns, c)
	}
	for _, rec := range items {
		row := Row{PK: rec.PK(), URL: env.Views.URLFor(rec)}
		for _, n := range columns {
			cell, err := Format(ctx, env, rec, n)
			if err != nil {
				return Table{}, err
			}
			row.Cells = append(row.Cells, cell)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func sortable(m *model.Model, name string) bool {
	if name == "id" || name == "pk" {
		return true
	}
	f, err := m.Field(name)
	return err == nil && f.Kind.IsConcrete()
}

// parseFilters turns "<prefix><field>" and "<prefix><field>__icontains"
// parameters into store filters. Unknown fields and unparsable values are
// skipped and reported in the second result.
func parseFilters(m *model.Model, values url.Values, prefix string) ([]repo.Filter, []string) {
	var (
		out     []repo.Filter
		skipped []string
	)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		raw := values.Get(k)
		if raw == "" {
			continue
		}
		name, op := strings.TrimPrefix(k, prefix), repo.OpExact
		if base, ok := strings.CutSuffix(name, "__icontains"); ok {
			name, op = base, repo.OpIContains
		}
		if name == SortParam || name == PageParam {
			continue
		}
		if name == "id" || name == "pk" {
			pk, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				skipped = append(skipped, k)
				continue
			}
			out = append(out, repo.Filter{Field: "id", Op: op, Value: pk})
			continue
		}
		f, err := m.Field(name)
		if err != nil || !f.Kind.IsConcrete() {
			skipped = append(skipped, k)
			continue
		}
		if op == repo.OpIContains {
			out = append(out, repo.Filter{Field: name, Op: op, Value: raw})
			continue
		}
		v, ok := filterValue(f, raw)
		if !ok {
			skipped = append(skipped, k)
			continue
		}
		out = append(out, repo.Filter{Field: name, Op: op, Value: v})
	}
	return out, skipped
}

func filterValue(f *model.Field, raw string) (any, bool) {
	if f.Kind.IsRelation() || f.Type == model.Int {
		n, err := strconv.ParseInt(raw, 10, 64)
		return n, err == nil
	}
	switch f.Type {
	case model.Bool:
		switch strings.ToLower(raw) {
		case "1", "true", "on", "yes":
			return true, true
		case "0", "false", "off", "no":
			return false, true
		}
		return nil, false
	case model.Date:
		t, err := time.Parse("2006-01-02", raw)
		return t, err == nil
	}
	return raw, true
}

// actionLinks lists the actions of q available to user, linked back to next.
func actionLinks(ctx context.Context, env *view.Env, q action.Query, user *domain.User, next string) ([]ActionLink, error) {
	acts, err := env.Actions.Available(ctx, q, user)
	if err != nil {
		return nil, err
	}
	out := make([]ActionLink, 0, len(acts))
	for _, a := range acts {
		u, err := a.URL(q.Instance, next)
		if err != nil {
			return nil, err
		}
		out = append(out, ActionLink{Name: a.FullName, Label: a.VerboseName, Icon: a.Icon, URL: u})
	}
	return out, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func capfirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

func humanize(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
