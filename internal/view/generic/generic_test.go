package generic

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radsite/internal/action"
	"radsite/internal/callctx"
	"radsite/internal/db"
	"radsite/internal/migrate"
	"radsite/internal/model"
	"radsite/internal/render"
	"radsite/internal/repo"
	"radsite/internal/view"
)

type fixture struct {
	env     *view.Env
	parent  *model.Model
	child   *model.Model
	profile *model.Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	parent := &model.Model{AppLabel: "tests", Name: "parent", VerboseName: "parent", Fields: []*model.Field{
		{Name: "name", Type: model.String, Required: true},
		{Name: "created", Type: model.DateTime},
	}, Display: func(r *model.Record) string { return r.Str("name") }}
	child := &model.Model{AppLabel: "tests", Name: "child", VerboseName: "child", VerboseNamePlural: "children", Fields: []*model.Field{
		{Name: "parent", Kind: model.ForeignKey, Related: "tests.parent"},
		{Name: "name", Type: model.String},
		{Name: "done", Type: model.Bool, Default: false},
	}, Display: func(r *model.Record) string { return r.Str("name") }}
	profile := &model.Model{AppLabel: "tests", Name: "profile", VerboseName: "profile", Fields: []*model.Field{
		{Name: "parent", Kind: model.OneToOne, Related: "tests.parent"},
		{Name: "bio", Type: model.Text},
	}}
	models := model.NewRegistry()
	require.NoError(t, models.Register(parent, child, profile))
	require.NoError(t, models.Link())

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.SyncModels(conn, models.Concrete()...))

	logger := log.New(&bytes.Buffer{}, "", 0)
	env := &view.Env{
		Repo:    repo.Repo{DB: conn, Models: models},
		Models:  models,
		Actions: action.NewRegistry(models, logger),
		Views:   view.NewRegistry(logger),
		Render:  render.New("Test", nil),
		Logger:  logger,
	}
	return &fixture{env: env, parent: parent, child: child, profile: profile}
}

func (f *fixture) save(t *testing.T, m *model.Model, values map[string]any) *model.Record {
	t.Helper()
	rec := model.New(m, values)
	require.NoError(t, f.env.Repo.Save(context.Background(), rec))
	return rec
}

func (f *fixture) serve(t *testing.T, pattern string, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Handle(pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestFieldsResolve(t *testing.T) {
	f := newFixture(t)
	names, derived := Fields{}.Resolve(f.parent)
	assert.True(t, derived)
	assert.Equal(t, []string{"id", "name"}, names)

	names, derived = Fields{Exclude: []string{"id", "done"}}.Resolve(f.child)
	assert.True(t, derived)
	assert.Equal(t, []string{"parent", "name"}, names)

	names, derived = Fields{Include: []string{"name"}}.Resolve(f.child)
	assert.False(t, derived)
	assert.Equal(t, []string{"name"}, names)

	assert.Error(t, Fields{Include: []string{"missing"}}.Validate(f.child))
}

func TestFieldsRows(t *testing.T) {
	rows := Fields{Layout: [][]string{{"name", "done"}, {"ghost"}}}.Rows([]string{"id", "name", "done", "parent"})
	assert.Equal(t, [][]string{{"name", "done"}, {"id"}, {"parent"}}, rows)
}

func TestHeadline(t *testing.T) {
	f := newFixture(t)
	rec := model.Load(f.parent, 4, map[string]any{"name": "Acme"})
	assert.Equal(t, "Parent list", Headline{}.Title(f.parent, nil))
	assert.Equal(t, "Acme", Headline{}.Title(f.parent, rec))
	assert.Equal(t, "-", Headline{}.Sub(rec))

	f.parent.Computed = map[string]func(*model.Record) any{"shout": func(r *model.Record) any { return strings.ToUpper(r.Str("name")) }}
	assert.Equal(t, "ACME", Headline{Attr: "shout"}.Title(f.parent, rec))
	assert.Equal(t, "Acme", Headline{Subtitle: "name"}.Sub(rec))
}

func TestFormatValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.save(t, f.parent, map[string]any{"name": "Acme"})
	c := f.save(t, f.child, map[string]any{"parent": p.PK(), "name": "one", "done": true})
	require.NoError(t, f.env.Views.RegisterModelView(f.parent, view.Detail, true, &DetailView{Model: f.parent}))

	cell, err := Format(ctx, f.env, c, "parent")
	require.NoError(t, err)
	assert.Equal(t, "Acme", cell.Text)
	assert.Equal(t, fmt.Sprintf("/tests/parent/%d/detail", p.PK()), cell.URL)

	cell, err = Format(ctx, f.env, c, "done")
	require.NoError(t, err)
	assert.Equal(t, trueIcon, cell.Icon)

	cell, err = Format(ctx, f.env, p, "created")
	require.NoError(t, err)
	assert.Equal(t, EmptyValue, cell.Text)

	cell, err = Format(ctx, f.env, p, "child_set")
	require.NoError(t, err)
	assert.Equal(t, "1", cell.Text)

	cell, err = Format(ctx, f.env, p, "profile")
	require.NoError(t, err)
	assert.Equal(t, EmptyValue, cell.Text)
}

func TestDefaultEmbedsAreToManyRelations(t *testing.T) {
	f := newFixture(t)
	h, err := (&DetailView{Model: f.parent}).Build(f.env)
	require.NoError(t, err)
	assert.Equal(t, []string{"child_set"}, h.(*detailHandler).Sections())
}

func TestEmbeddedListFiltersByParentAndCaps(t *testing.T) {
	f := newFixture(t)
	p1 := f.save(t, f.parent, map[string]any{"name": "one"})
	p2 := f.save(t, f.parent, map[string]any{"name": "two"})
	for i := 0; i < 20; i++ {
		f.save(t, f.child, map[string]any{"parent": p1.PK(), "name": fmt.Sprintf("c%02d", i)})
	}
	for i := 0; i < 2; i++ {
		f.save(t, f.child, map[string]any{"parent": p2.PK(), "name": fmt.Sprintf("other%d", i)})
	}
	h, err := (&DetailView{Model: f.parent}).Build(f.env)
	require.NoError(t, err)

	rec := f.serve(t, "/tests/parent/{pk}/detail", h, fmt.Sprintf("/tests/parent/%d/detail?%s=child_set", p1.PK(), EmbedParam))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, DefaultEmbedLimit, strings.Count(body, "data-pk="))
	assert.Contains(t, body, `data-embed="child_set"`)
	assert.Contains(t, body, "15 / 20")
	assert.NotContains(t, body, "other")
	assert.NotContains(t, body, "<html")

	rec = f.serve(t, "/tests/parent/{pk}/detail", h, fmt.Sprintf("/tests/parent/%d/detail?%s=child_set", p2.PK(), EmbedParam))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "data-pk="))
}

func TestEmbeddedListOwnFilterPrefix(t *testing.T) {
	f := newFixture(t)
	p := f.save(t, f.parent, map[string]any{"name": "one"})
	f.save(t, f.child, map[string]any{"parent": p.PK(), "name": "apple"})
	f.save(t, f.child, map[string]any{"parent": p.PK(), "name": "banana"})
	h, err := (&DetailView{Model: f.parent}).Build(f.env)
	require.NoError(t, err)

	target := fmt.Sprintf("/tests/parent/%d/detail?%s=child_set&embed_filter_child_set-name__icontains=APP&name=banana", p.PK(), EmbedParam)
	rec := f.serve(t, "/tests/parent/{pk}/detail", h, target)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "apple")
	assert.NotContains(t, rec.Body.String(), "banana")
}

func TestUnknownEmbedIsNotFound(t *testing.T) {
	f := newFixture(t)
	p := f.save(t, f.parent, map[string]any{"name": "one"})
	h, err := (&DetailView{Model: f.parent}).Build(f.env)
	require.NoError(t, err)
	rec := f.serve(t, "/tests/parent/{pk}/detail", h, fmt.Sprintf("/tests/parent/%d/detail?%s=nope", p.PK(), EmbedParam))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMissingParentIsNotFound(t *testing.T) {
	f := newFixture(t)
	h, err := (&DetailView{Model: f.parent}).Build(f.env)
	require.NoError(t, err)
	rec := f.serve(t, "/tests/parent/{pk}/detail", h, "/tests/parent/99/detail")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.serve(t, "/tests/parent/{pk}/detail", h, "/tests/parent/abc/detail")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmbeddedDetailAndNoExist(t *testing.T) {
	f := newFixture(t)
	p := f.save(t, f.parent, map[string]any{"name": "one"})
	_, err := f.env.Actions.Register(action.Spec{
		Name:  "create",
		Owner: f.profile,
		Params: []callctx.Param{
			callctx.Required("parent"),
			callctx.Required("bio"),
		},
		Func: func(context.Context, callctx.Args) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	h, err := (&DetailView{Model: f.parent, Embeds: []Embed{Related("profile")}}).Build(f.env)
	require.NoError(t, err)
	target := fmt.Sprintf("/tests/parent/%d/detail?%s=profile", p.PK(), EmbedParam)

	rec := f.serve(t, "/tests/parent/{pk}/detail", h, target)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "embedded noexist")
	assert.Contains(t, rec.Body.String(), "/action/tests_profile_create?next=")
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("_method-parent=%d", p.PK()))

	f.save(t, f.profile, map[string]any{"parent": p.PK(), "bio": "hello there"})
	rec = f.serve(t, "/tests/parent/{pk}/detail", h, target)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "embedded detail")
	assert.Contains(t, rec.Body.String(), "hello there")
	assert.NotContains(t, rec.Body.String(), `data-field="parent"`)
}

func TestDetailPageInlinesSections(t *testing.T) {
	f := newFixture(t)
	p := f.save(t, f.parent, map[string]any{"name": "Acme"})
	f.save(t, f.child, map[string]any{"parent": p.PK(), "name": "kid"})
	h, err := (&DetailView{Model: f.parent}).Build(f.env)
	require.NoError(t, err)
	rec := f.serve(t, "/tests/parent/{pk}/detail", h, fmt.Sprintf("/tests/parent/%d/detail", p.PK()))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<h1")
	assert.Contains(t, body, "Acme")
	assert.Contains(t, body, `id="embed-child_set"`)
	assert.Contains(t, body, "kid")
}

func TestMalformedEmbedsFailAtBuild(t *testing.T) {
	f := newFixture(t)
	_, err := (&DetailView{Model: f.parent, Embeds: []Embed{Related("name")}}).Build(f.env)
	assert.Error(t, err)
	_, err = (&DetailView{Model: f.parent, Embeds: []Embed{Related("missing")}}).Build(f.env)
	assert.Error(t, err)
	_, err = (&DetailView{Model: f.parent, Embeds: []Embed{Explicit(&Embeddable{Name: "kids", Model: f.child, Field: "child_set"})}}).Build(f.env)
	assert.ErrorContains(t, err, "title")
	_, err = (&DetailView{Model: f.parent, Embeds: []Embed{Explicit(&Embeddable{Name: "kids", Title: "Kids", Field: "child_set"})}}).Build(f.env)
	assert.ErrorContains(t, err, "model")
	_, err = (&DetailView{Model: f.parent, Embeds: []Embed{Related("child_set"), Related("child_set")}}).Build(f.env)
	assert.ErrorContains(t, err, "duplicate")
}

func TestExplicitEmbeddable(t *testing.T) {
	f := newFixture(t)
	h, err := (&DetailView{Model: f.parent, Embeds: []Embed{
		Explicit(&Embeddable{Name: "kids", Title: "Kids", Model: f.child, Field: "child_set", Limit: 2}),
	}}).Build(f.env)
	require.NoError(t, err)
	dh := h.(*detailHandler)
	assert.Equal(t, []string{"kids"}, dh.Sections())
	assert.Equal(t, EmbedList, dh.byName["kids"].Kind)
}

func TestRegisteredEmbedViewIsSynthesisBase(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.env.Views.RegisterModelView(f.child, view.EmbedList, false,
		&Embeddable{Limit: 3, Fields: Fields{Include: []string{"name"}}}))
	p := f.save(t, f.parent, map[string]any{"name": "one"})
	for i := 0; i < 5; i++ {
		f.save(t, f.child, map[string]any{"parent": p.PK(), "name": fmt.Sprintf("c%d", i)})
	}
	h, err := (&DetailView{Model: f.parent}).Build(f.env)
	require.NoError(t, err)
	s := h.(*detailHandler).byName["child_set"]
	assert.Equal(t, 3, s.limit())
	assert.Equal(t, []string{"name"}, s.columns)
	assert.Equal(t, "children", s.Title)

	rec := f.serve(t, "/tests/parent/{pk}/detail", h, fmt.Sprintf("/tests/parent/%d/detail?%s=child_set", p.PK(), EmbedParam))
	assert.Equal(t, 3, strings.Count(rec.Body.String(), "data-pk="))
}

func TestListViewFiltersSortsAndPaginates(t *testing.T) {
	f := newFixture(t)
	p := f.save(t, f.parent, map[string]any{"name": "one"})
	for i := 0; i < 12; i++ {
		f.save(t, f.child, map[string]any{"parent": p.PK(), "name": fmt.Sprintf("c%02d", i), "done": i%2 == 0})
	}
	h, err := (&ListView{Model: f.child, Filters: []string{"done", "name"}}).Build(f.env)
	require.NoError(t, err)

	rec := f.serve(t, "/tests/child/list", h, "/tests/child/list")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultPaginateBy, strings.Count(rec.Body.String(), "data-pk="))
	assert.Contains(t, rec.Body.String(), "Page 1 of 2 (12)")

	rec = f.serve(t, "/tests/child/list", h, "/tests/child/list?page=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "data-pk="))

	rec = f.serve(t, "/tests/child/list", h, "/tests/child/list?page=3")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.serve(t, "/tests/child/list", h, "/tests/child/list?done=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Page 1 of 1 (6)")

	rec = f.serve(t, "/tests/child/list", h, "/tests/child/list?name__icontains=C1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "data-pk="))

	rec = f.serve(t, "/tests/child/list", h, "/tests/child/list?sort=-name")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Less(t, strings.Index(body, "c11"), strings.Index(body, "c05"))
}

func TestListViewRejectsUnknownFilters(t *testing.T) {
	f := newFixture(t)
	_, err := (&ListView{Model: f.child, Filters: []string{"nope"}}).Build(f.env)
	assert.Error(t, err)
	_, err = (&ListView{}).Build(f.env)
	assert.Error(t, err)
}

func TestParseFilters(t *testing.T) {
	f := newFixture(t)
	values := map[string][]string{
		"p-name__icontains": {"x"},
		"p-done":            {"on"},
		"p-parent":          {"nan"},
		"p-ghost":           {"1"},
		"name":              {"unprefixed"},
		"p-page":            {"2"},
	}
	got, skipped := parseFilters(f.child, values, "p-")
	assert.Equal(t, []repo.Filter{
		{Field: "done", Op: repo.OpExact, Value: true},
		{Field: "name", Op: repo.OpIContains, Value: "x"},
	}, got)
	assert.ElementsMatch(t, []string{"p-parent", "p-ghost"}, skipped)
}
