package engine_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radsite/internal/action"
	"radsite/internal/app"
	"radsite/internal/auth"
	"radsite/internal/callctx"
	"radsite/internal/config"
	"radsite/internal/db"
	"radsite/internal/engine"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/view"
	"radsite/internal/view/generic"
)

type testApp struct {
	label    string
	models   []*model.Model
	register func(site *app.Site) error
}

func (a testApp) Label() string          { return a.label }
func (a testApp) Models() []*model.Model { return a.models }
func (a testApp) Register(site *app.Site) error {
	if a.register == nil {
		return nil
	}
	return a.register(site)
}

func noteModel() *model.Model {
	return &model.Model{AppLabel: "notes", Name: "note", Fields: []*model.Field{
		{Name: "title", Type: model.String, Required: true},
	}, Display: func(r *model.Record) string { return r.Str("title") }}
}

func notesApp(note *model.Model) testApp {
	return testApp{label: "notes", models: []*model.Model{note}, register: func(site *app.Site) error {
		if _, err := site.Actions.Register(action.Spec{
			Name:   "create",
			Owner:  note,
			Params: []callctx.Param{callctx.Required("title")},
			Func: func(ctx context.Context, args callctx.Args) (any, error) {
				rec := model.New(note, map[string]any{"title": args.Str("title")})
				return rec, site.Repo.Save(ctx, rec)
			},
		}); err != nil {
			return err
		}
		if err := site.Views.RegisterModelView(note, view.List, false, &generic.ListView{Model: note}); err != nil {
			return err
		}
		return site.Views.RegisterModelView(note, view.Detail, true, &generic.DetailView{Model: note})
	}}
}

func newEngine(t *testing.T, apps ...app.App) (*engine.Engine, error) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	site := config.Default().Site
	site.SecretKey = "test-secret"
	return engine.New(engine.Config{
		DB:     conn,
		Site:   site,
		Apps:   apps,
		Now:    func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		Logger: log.New(&bytes.Buffer{}, "", 0),
	})
}

func TestNewRegistersAndFreezes(t *testing.T) {
	note := noteModel()
	e, err := newEngine(t, notesApp(note))
	require.NoError(t, err)

	assert.True(t, e.Actions.Frozen())
	_, err = e.Actions.Register(action.Spec{Name: "late", Owner: note, Func: func(context.Context, callctx.Args) (any, error) { return nil, nil }})
	assert.ErrorIs(t, err, action.ErrFrozen)
	assert.Error(t, e.Views.RegisterView("late", []string{"/late"}, generic.Home{}))

	routes, err := e.Views.Routes(e.Env)
	require.NoError(t, err)
	var names []string
	for _, r := range routes {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"home", "login", "logout", "notes_note_list", "notes_note_detail"}, names)

	assert.Equal(t, auth.Cached, e.Auth.Default)
	assert.Equal(t, "/login", e.Auth.LoginURL)
	assert.Len(t, e.Env.Nav(), 1)
}

func TestTablesAreCreatedAndEventsRecorded(t *testing.T) {
	note := noteModel()
	e, err := newEngine(t, notesApp(note))
	require.NoError(t, err)
	ctx := context.Background()

	a, err := e.Actions.FindFor(note, "create")
	require.NoError(t, err)
	res, err := a.Call(ctx, map[string]any{"title": "hello"})
	require.NoError(t, err)
	rec := res.(*model.Record)
	assert.True(t, rec.Saved())

	got, err := e.Repo.Get(ctx, note, rec.PK())
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Str("title"))

	evts, err := e.Repo.ListEvents(ctx, repo.EventFilters{})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "notes_note_create", evts[0].Action)
	assert.Equal(t, "2024-01-01T00:00:00Z", evts[0].TS)
}

func TestAppsCanReplaceSiteViews(t *testing.T) {
	replaced := testApp{label: "users", register: func(site *app.Site) error {
		return site.Views.RegisterView("login", []string{"/login"}, generic.Login{}, view.Replace(generic.LoginSource))
	}}
	_, err := newEngine(t, replaced)
	require.NoError(t, err)

	clash := testApp{label: "users", register: func(site *app.Site) error {
		return site.Views.RegisterView("login", []string{"/login"}, generic.Login{})
	}}
	_, err = newEngine(t, clash)
	var collision *view.CollisionError
	assert.True(t, errors.As(err, &collision))
}

func TestConfigurationErrorsAbortStartup(t *testing.T) {
	note := noteModel()
	dup := testApp{label: "again", models: []*model.Model{{AppLabel: "notes", Name: "note"}}}
	_, err := newEngine(t, notesApp(note), dup)
	assert.ErrorContains(t, err, "already registered")

	failing := testApp{label: "broken", register: func(*app.Site) error { return errors.New("boom") }}
	_, err = newEngine(t, failing)
	assert.ErrorContains(t, err, "app broken: boom")

	badView := testApp{label: "bad", register: func(site *app.Site) error {
		return site.Views.RegisterView("bad", []string{"/bad"}, 42)
	}}
	_, err = newEngine(t, badView)
	assert.ErrorContains(t, err, "is not a view")

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	_, err = engine.New(engine.Config{DB: conn})
	assert.ErrorContains(t, err, "secret")
}
