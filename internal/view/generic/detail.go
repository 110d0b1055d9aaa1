package generic

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"radsite/internal/action"
	"radsite/internal/auth"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/view"
)

// DetailView renders one record with its actions and embedded sections.
type DetailView struct {
	Model    *model.Model
	Fields   Fields
	Headline Headline
	// Embeds defaults to every to-many relation of Model. NoEmbeds disables sections.
	Embeds   []Embed
	NoEmbeds bool
	Level    auth.Level
}

func (v *DetailView) AuthLevel() auth.Level { return v.Level }

// Build resolves fields and embedded sections. Malformed embeds fail here.
func (v *DetailView) Build(env *view.Env) (http.Handler, error) {
	if v.Model == nil {
		return nil, errors.New("detail view needs a model")
	}
	if err := v.Fields.Validate(v.Model); err != nil {
		return nil, err
	}
	decls := v.Embeds
	if v.NoEmbeds {
		decls = nil
	} else if decls == nil {
		decls = DefaultEmbeds(v.Model)
	}
	order, byName, err := buildSections(env, v.Model, decls)
	if err != nil {
		return nil, err
	}
	cols, _ := v.Fields.Resolve(v.Model)
	return &detailHandler{
		view:     v,
		env:      env,
		rows:     v.Fields.Rows(cols),
		sections: order,
		byName:   byName,
	}, nil
}

type detailHandler struct {
	view     *DetailView
	env      *view.Env
	rows     [][]string
	sections []*section
	byName   map[string]*section
}

// Sections lists the embedded section names in page order.
func (h *detailHandler) Sections() []string {
	out := make([]string, 0, len(h.sections))
	for _, s := range h.sections {
		out = append(out, s.Name)
	}
	return out
}

// DetailPage is the data of the detail template.
type DetailPage struct {
	Headline string
	Subtitle string
	Actions  []ActionLink
	Rows     [][]FieldValue
	Embeds   []Block
}

// Object loads the record addressed by the pk route parameter.
func Object(env *view.Env, r *http.Request, m *model.Model) (*model.Record, error) {
	pk, err := strconv.ParseInt(chi.URLParam(r, "pk"), 10, 64)
	if err != nil {
		return nil, repo.ErrNotFound
	}
	return env.Repo.Get(r.Context(), m, pk)
}

func (h *detailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := h.env.Context(r.Context())
	m := h.view.Model
	rec, err := Object(h.env, r, m)
	if errors.Is(err, repo.ErrNotFound) {
		h.env.NotFound(w, r)
		return
	}
	if err != nil {
		h.env.ServerError(w, r, err)
		return
	}
	if r.URL.Query().Has(EmbedParam) {
		s, ok := h.byName[r.URL.Query().Get(EmbedParam)]
		if !ok {
			h.env.NotFound(w, r)
			return
		}
		s.serve(w, r, rec)
		return
	}

	user := auth.UserFrom(ctx)
	next := r.URL.RequestURI()
	page := DetailPage{
		Headline: h.view.Headline.Title(m, rec),
		Subtitle: h.view.Headline.Sub(rec),
	}
	page.Actions, err = actionLinks(ctx, h.env, action.Query{Instance: rec, Field: action.Unbound()}, user, next)
	if err != nil {
		h.env.ServerError(w, r, err)
		return
	}
	for _, row := range h.rows {
		var values []FieldValue
		for _, n := range row {
			c, err := Format(ctx, h.env, rec, n)
			if err != nil {
				h.env.ServerError(w, r, err)
				return
			}
			fv := FieldValue{Name: n, Label: Label(m, n), Cell: c}
			if m.HasField(n) {
				fv.Actions, err = actionLinks(ctx, h.env, action.Query{Instance: rec, Field: action.Attached(n)}, user, next)
				if err != nil {
					h.env.ServerError(w, r, err)
					return
				}
			}
			values = append(values, fv)
		}
		page.Rows = append(page.Rows, values)
	}
	for _, s := range h.sections {
		b, err := s.block(ctx, r, rec)
		if err != nil {
			h.env.ServerError(w, r, err)
			return
		}
		page.Embeds = append(page.Embeds, b)
	}
	h.env.Render.Page(w, r, http.StatusOK, "detail", page.Headline, page)
}
