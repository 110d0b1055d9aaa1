package generic

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"radsite/internal/action"
	"radsite/internal/auth"
	"radsite/internal/form"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/view"
)

const DefaultPaginateBy = 10

// ListView renders a filtered, sorted and paginated table of one model.
type ListView struct {
	Model    *model.Model
	Fields   Fields
	Headline Headline
	// Filters names the fields offered in the filter form. Any concrete field
	// can be filtered through the query string regardless.
	Filters    []string
	PaginateBy int
	Level      auth.Level
}

func (v *ListView) AuthLevel() auth.Level { return v.Level }

func (v *ListView) Build(env *view.Env) (http.Handler, error) {
	if v.Model == nil {
		return nil, errors.New("list view needs a model")
	}
	if err := v.Fields.Validate(v.Model); err != nil {
		return nil, err
	}
	for _, n := range v.Filters {
		f, err := v.Model.Field(n)
		if err != nil {
			return nil, err
		}
		if !f.Kind.IsConcrete() {
			return nil, fmt.Errorf("cannot filter %s on %q", v.Model.Key(), n)
		}
	}
	cols, _ := v.Fields.Resolve(v.Model)
	per := v.PaginateBy
	if per <= 0 {
		per = DefaultPaginateBy
	}
	return &listHandler{view: v, env: env, columns: cols, per: per}, nil
}

type listHandler struct {
	view    *ListView
	env     *view.Env
	columns []string
	per     int
}

// FilterInput is one control of the filter form.
type FilterInput struct {
	Name    string
	Label   string
	Value   string
	Options []form.Option
}

type Pagination struct {
	Number  int
	Pages   int
	Total   int
	PrevURL string
	NextURL string
}

// ListPage is the data of the list template.
type ListPage struct {
	Headline   string
	Subtitle   string
	Actions    []ActionLink
	Filters    []FilterInput
	Table      Table
	Pagination Pagination
}

func (h *listHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := h.env.Context(r.Context())
	m := h.view.Model
	query := r.URL.Query()

	filters, _ := parseFilters(m, query, "")
	q := repo.Query{Filters: filters}
	if s := query.Get(SortParam); s != "" {
		name := s
		if name[0] == '-' {
			name = name[1:]
		}
		if sortable(m, name) {
			q.OrderBy = []string{s}
		}
	}
	total, err := h.env.Repo.Count(ctx, m, q)
	if err != nil {
		h.env.ServerError(w, r, err)
		return
	}
	pages := max(1, (total+h.per-1)/h.per)
	number := 1
	if p := query.Get(PageParam); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > pages {
			h.env.NotFound(w, r)
			return
		}
		number = n
	}
	q.Limit = h.per
	q.Offset = (number - 1) * h.per
	items, err := h.env.Repo.List(ctx, m, q)
	if err != nil {
		h.env.ServerError(w, r, err)
		return
	}
	table, err := buildTable(ctx, h.env, m, h.columns, items, query)
	if err != nil {
		h.env.ServerError(w, r, err)
		return
	}
	links, err := actionLinks(ctx, h.env, action.Query{Model: m, Field: action.Unbound()}, auth.UserFrom(ctx), r.URL.RequestURI())
	if err != nil {
		h.env.ServerError(w, r, err)
		return
	}
	page := ListPage{
		Headline: h.view.Headline.Title(m, nil),
		Subtitle: h.view.Headline.Sub(nil),
		Actions:  links,
		Filters:  h.filterInputs(query),
		Table:    table,
		Pagination: Pagination{
			Number: number,
			Pages:  pages,
			Total:  total,
		},
	}
	if number > 1 {
		page.Pagination.PrevURL = pageURL(query, number-1)
	}
	if number < pages {
		page.Pagination.NextURL = pageURL(query, number+1)
	}
	h.env.Render.Page(w, r, http.StatusOK, "list", page.Headline, page)
}

func (h *listHandler) filterInputs(query url.Values) []FilterInput {
	out := make([]FilterInput, 0, len(h.view.Filters))
	for _, n := range h.view.Filters {
		f, _ := h.view.Model.Field(n)
		in := FilterInput{Name: n, Label: capfirst(f.Label())}
		choices := f.Choices
		if f.Type == model.Bool {
			choices = []model.Choice{{Value: true, Label: "Yes"}, {Value: false, Label: "No"}}
		}
		if len(choices) == 0 && !f.Kind.IsRelation() && f.Type != model.Int {
			in.Name = n + "__icontains"
		}
		in.Value = query.Get(in.Name)
		if len(choices) > 0 {
			in.Options = []form.Option{{Value: "", Label: "---------", Selected: in.Value == ""}}
			for _, c := range choices {
				val := fmt.Sprint(c.Value)
				in.Options = append(in.Options, form.Option{Value: val, Label: c.Label, Selected: val == in.Value})
			}
		}
		out = append(out, in)
	}
	return out
}

func pageURL(query url.Values, n int) string {
	q := cloneValues(query)
	q.Set(PageParam, strconv.Itoa(n))
	return "?" + q.Encode()
}
