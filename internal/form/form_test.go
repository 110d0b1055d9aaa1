package form

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radsite/internal/callctx"
	"radsite/internal/model"
	"radsite/internal/repo"
)

type records map[int64]*model.Record

func (r records) Get(_ context.Context, _ *model.Model, pk int64) (*model.Record, error) {
	rec, ok := r[pk]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return rec, nil
}

func (r records) List(_ context.Context, _ *model.Model, _ repo.Query) ([]*model.Record, error) {
	var out []*model.Record
	for pk := int64(1); pk <= int64(len(r)); pk++ {
		out = append(out, r[pk])
	}
	return out, nil
}

func bookModel(t *testing.T) (*model.Registry, *model.Model) {
	t.Helper()
	book := &model.Model{AppLabel: "lib", Name: "book", Fields: []*model.Field{
		{Name: "title", Type: model.String, Required: true},
		{Name: "pages", Type: model.Int},
		{Name: "slug", Type: model.String, ReadOnly: true},
	}}
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(book))
	require.NoError(t, reg.Link())
	return reg, book
}

func whySpec() *Spec {
	return &Spec{Title: "Why", Build: func() *Form {
		return New("", "").Add("reason", Integer("Reason"))
	}}
}

func bookInput(reg *model.Registry, book *model.Model) Input {
	return Input{Name: "lib_book_edit", Title: "Edit", Owner: book, Models: reg, Params: []callctx.Param{
		{Name: "self"},
		{Name: "request_user"},
		{Name: "note", Default: Char("Note", 10), HasDefault: true},
		{Name: "title"},
		{Name: "pages", Default: int64(5), HasDefault: true},
		{Name: "why", Default: whySpec(), HasDefault: true},
	}}
}

func TestSynthesizeOrdersFormsAndFields(t *testing.T) {
	reg, book := bookModel(t)
	f, err := Synthesize(bookInput(reg, book))
	require.NoError(t, err)
	assert.False(t, f.Empty())

	set := f.Build(nil, url.Values{"_method-note": {"hi"}, "why-reason": {"3"}, "why-other": {"x"}, "nodash": {"y"}})
	assert.Equal(t, []string{MethodForm, "why"}, set.Names())
	method := set.Method()
	assert.Equal(t, []string{"note", "title", "pages"}, method.Names())
	assert.Equal(t, "hi", method.Initial["note"])

	pages, ok := method.Field("pages")
	require.True(t, ok)
	assert.False(t, pages.Required)
	assert.Equal(t, int64(5), pages.Initial)
	title, _ := method.Field("title")
	assert.True(t, title.Required)

	why, ok := set.Get("why")
	require.True(t, ok)
	assert.Equal(t, "why", why.Prefix)
	assert.Equal(t, "Why", why.Title)
	assert.Equal(t, "3", why.Initial["reason"])
	assert.NotContains(t, why.Initial, "other")
}

func TestSynthesizeRejectsUnknownParams(t *testing.T) {
	reg, book := bookModel(t)
	for _, name := range []string{"zzz", "slug"} {
		_, err := Synthesize(Input{Name: "lib_book_x", Owner: book, Models: reg, Params: []callctx.Param{{Name: name}}})
		assert.ErrorContains(t, err, `cannot process argument named "`+name+`"`)
	}
	_, err := Synthesize(Input{Name: "rogue", Params: []callctx.Param{{Name: "why", Default: &Spec{}, HasDefault: true}}})
	assert.ErrorContains(t, err, "no builder")

	empty, err := Synthesize(Input{Name: "noop", Params: []callctx.Param{{Name: "self"}, {Name: "kwargs"}}})
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestBuildPrefillsFromInstance(t *testing.T) {
	reg, book := bookModel(t)
	f, err := Synthesize(bookInput(reg, book))
	require.NoError(t, err)
	rec := model.New(book, map[string]any{"title": "Dune", "pages": int64(412)})
	method := f.Build(rec, url.Values{"_method-title": {"Emma"}}).Method()
	assert.Equal(t, "Emma", method.Initial["title"])
	assert.Equal(t, int64(412), method.Initial["pages"])
	assert.NotContains(t, method.Initial, "note")
}

func TestSetValidateAndValues(t *testing.T) {
	reg, book := bookModel(t)
	f, err := Synthesize(bookInput(reg, book))
	require.NoError(t, err)
	ctx := context.Background()

	set := f.Build(nil, nil)
	set.Bind(url.Values{"_method-note": {"x"}, "_method-title": {"  "}, "why-reason": {"abc"}})
	assert.False(t, set.Validate(ctx))
	assert.Equal(t, []string{ErrRequired.Error()}, set.Method().Errors()["title"])
	why, _ := set.Get("why")
	assert.Equal(t, []string{"Enter a whole number."}, why.Errors()["reason"])

	set = f.Build(nil, nil)
	set.Bind(url.Values{"_method-note": {"x"}, "_method-title": {"Dune"}, "_method-pages": {"7"}, "why-reason": {"2"}})
	require.True(t, set.Validate(ctx))
	values := set.Values()
	assert.Equal(t, "x", values["note"])
	assert.Equal(t, "Dune", values["title"])
	assert.Equal(t, int64(7), values["pages"])
	sub, ok := values["why"].(*Form)
	require.True(t, ok)
	assert.Equal(t, int64(2), sub.CleanedData()["reason"])
}

func TestFormCheckAddsNonFieldError(t *testing.T) {
	f := New("p", "")
	f.Add("a", Integer("A")).Add("b", Integer("B"))
	f.Check = func(_ context.Context, cleaned map[string]any) error {
		if cleaned["a"].(int64) > cleaned["b"].(int64) {
			return &ValidationError{Message: "a must not exceed b"}
		}
		return nil
	}
	assert.False(t, f.Validate(context.Background()))
	f.Bind(url.Values{"p-a": {"3"}, "p-b": {"1"}})
	assert.False(t, f.Validate(context.Background()))
	assert.Equal(t, []string{"a must not exceed b"}, f.NonFieldErrors())
	assert.False(t, f.Valid())

	f.Bind(url.Values{"p-a": {"1"}, "p-b": {"3"}})
	assert.True(t, f.Validate(context.Background()))
	assert.True(t, f.Valid())
}

func TestFieldClean(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		field  Field
		values []string
		want   any
		errMsg string
	}{
		{"bool on", Boolean("B"), []string{"on"}, true, ""},
		{"bool missing", Boolean("B"), nil, false, ""},
		{"bool off", Boolean("B"), []string{"false"}, false, ""},
		{"optional empty", Char("C", 0).Optional(), []string{""}, nil, ""},
		{"too long", Char("C", 3), []string{"abcd"}, nil, "at most 3 characters"},
		{"choice", Choice("S", []model.Choice{{Value: int64(10), Label: "New"}}), []string{"10"}, int64(10), ""},
		{"bad choice", Choice("S", []model.Choice{{Value: int64(10), Label: "New"}}), []string{"11"}, nil, "11 is not one of"},
		{"date", Date("D"), []string{"2024-02-29"}, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), ""},
		{"bad date", Date("D"), []string{"29/02/2024"}, nil, "valid date"},
		{"email", Email("E"), []string{"ada@example.com"}, "ada@example.com", ""},
		{"bad email", Email("E"), []string{"Ada <ada@example.com>"}, nil, "valid email"},
		{"url", URL("U"), []string{"https://example.com/x"}, "https://example.com/x", ""},
		{"bad url", URL("U"), []string{"ftp://example.com"}, nil, "valid URL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.field.Clean(ctx, tc.values)
			if tc.errMsg != "" {
				assert.ErrorContains(t, err, tc.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestModelChoice(t *testing.T) {
	author := &model.Model{AppLabel: "lib", Name: "author", Display: func(r *model.Record) string { return r.Str("name") }}
	ada := model.New(author, map[string]any{"name": "Ada"})
	ada.SetPK(1)
	bob := model.New(author, map[string]any{"name": "Bob"})
	bob.SetPK(2)
	notBob := func(r *model.Record) bool { return r.Str("name") != "Bob" }
	fld := ModelChoice("Author", author, notBob)

	_, err := fld.Clean(context.Background(), []string{"1"})
	assert.ErrorContains(t, err, "no record resolver")

	ctx := WithResolver(context.Background(), records{1: ada, 2: bob})
	got, err := fld.Clean(ctx, []string{"1"})
	require.NoError(t, err)
	assert.Same(t, ada, got)
	for _, raw := range []string{"2", "9", "x"} {
		_, err = fld.Clean(ctx, []string{raw})
		assert.ErrorContains(t, err, "Select a valid choice")
	}

	opts, err := fld.Options(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Choice{{Value: int64(1), Label: "Ada"}}, opts)

	form := New("_method", "").Add("author", fld.WithInitial(ada))
	bound, err := form.BoundFields(ctx)
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, "_method-author", bound[0].HTMLName)
	assert.Equal(t, []Option{{Value: "", Label: "---------"}, {Value: "1", Label: "Ada", Selected: true}}, bound[0].Options)
}

func TestFieldForMapsModelFields(t *testing.T) {
	reg, book := bookModel(t)
	title, _ := book.Field("title")
	f, err := FieldFor(reg, title)
	require.NoError(t, err)
	assert.Equal(t, TextInput, f.Widget)
	assert.Equal(t, "Title", f.Label)
	assert.True(t, f.Required)

	pages, _ := book.Field("pages")
	f, err = FieldFor(reg, pages)
	require.NoError(t, err)
	assert.Equal(t, NumberInput, f.Widget)
	assert.False(t, f.Required)

	slug, _ := book.Field("slug")
	_, err = FieldFor(reg, slug)
	assert.ErrorContains(t, err, "not editable")
}
