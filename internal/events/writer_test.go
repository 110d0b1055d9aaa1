package events

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radsite/internal/action"
	"radsite/internal/auth"
	"radsite/internal/callctx"
	"radsite/internal/db"
	"radsite/internal/domain"
	"radsite/internal/migrate"
	"radsite/internal/model"
	"radsite/internal/repo"
)

func newWriter(t *testing.T, models *model.Registry) Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return Writer{Repo: repo.Repo{DB: conn, Models: models}, Now: func() time.Time { return now }}
}

func TestAppend(t *testing.T) {
	w := newWriter(t, model.NewRegistry())
	ctx := context.Background()
	e, err := w.Append(ctx, TypeActionCalled, "misc_ping", Entity{}, "3", EventPayload{"k": "v"})
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.NotEmpty(t, e.UID)
	assert.Equal(t, "2024-05-01T12:00:00Z", e.TS)

	got, err := w.Repo.ListEvents(ctx, repo.EventFilters{Action: "misc_ping"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.UID, got[0].UID)
	assert.JSONEq(t, `{"k":"v"}`, got[0].Payload)
	assert.Equal(t, "3", got[0].ActorID)
}

func TestSubscribeRecordsActionsAndTransitions(t *testing.T) {
	thing := &model.Model{AppLabel: "tests", Name: "thing", Fields: []*model.Field{
		{Name: "state", Type: model.Int},
	}}
	models := model.NewRegistry()
	require.NoError(t, models.Register(thing))
	require.NoError(t, models.Link())
	w := newWriter(t, models)

	reg := action.NewRegistry(models, nil)
	w.Subscribe(reg.Hooks)
	a, err := reg.RegisterTransition(action.TransitionSpec{
		Spec: action.Spec{
			Name:  "close",
			Owner: thing,
			Func:  func(context.Context, callctx.Args) (any, error) { return nil, nil },
		},
		Field:  "state",
		Source: []any{int64(1)},
		Target: int64(2),
	})
	require.NoError(t, err)

	user := &domain.User{ID: 9, Username: "ops"}
	ctx := auth.WithIdentity(context.Background(), auth.Identity{Level: auth.Cached, User: user})
	inst := model.Load(thing, 4, map[string]any{"state": int64(1)})
	_, err = a.Call(ctx, map[string]any{action.KeyInstance: inst, action.KeyRequestUser: user})
	require.NoError(t, err)

	got, err := w.Repo.ListEvents(context.Background(), repo.EventFilters{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// newest first: the action post hook runs after the transition completes
	assert.Equal(t, TypeActionCalled, got[0].Type)
	assert.Equal(t, TypeTransitionApplied, got[1].Type)
	for _, e := range got {
		assert.Equal(t, "tests_thing_close", e.Action)
		assert.Equal(t, "tests.thing", e.EntityKind)
		assert.Equal(t, "4", e.EntityID)
		assert.Equal(t, "9", e.ActorID)
	}
	assert.JSONEq(t, `{"field":"state","from":1,"to":2}`, got[1].Payload)
}

func TestFailedInsertDoesNotFailTheCall(t *testing.T) {
	thing := &model.Model{AppLabel: "tests", Name: "thing", Fields: []*model.Field{
		{Name: "state", Type: model.Int},
	}}
	models := model.NewRegistry()
	require.NoError(t, models.Register(thing))
	require.NoError(t, models.Link())
	w := newWriter(t, models)
	var logs bytes.Buffer
	w.Logger = log.New(&logs, "", 0)

	reg := action.NewRegistry(models, nil)
	w.Subscribe(reg.Hooks)
	a, err := reg.RegisterTransition(action.TransitionSpec{
		Spec: action.Spec{
			Name:  "close",
			Owner: thing,
			Func:  func(context.Context, callctx.Args) (any, error) { return "done", nil },
		},
		Field:  "state",
		Source: []any{int64(1)},
		Target: int64(2),
	})
	require.NoError(t, err)

	require.NoError(t, w.Repo.DB.Close())
	inst := model.Load(thing, 4, map[string]any{"state": int64(1)})
	res, err := a.Call(context.Background(), map[string]any{action.KeyInstance: inst})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, int64(2), inst.Get("state"))
	assert.Contains(t, logs.String(), "WARNING: tests_thing_close: event not recorded")
}

func TestEntityOf(t *testing.T) {
	thing := &model.Model{AppLabel: "tests", Name: "thing"}
	assert.Equal(t, Entity{}, EntityOf(nil))
	assert.Equal(t, Entity{}, EntityOf(model.New(thing, nil)))
	assert.Equal(t, Entity{Kind: "tests.thing", ID: "2"}, EntityOf(model.Load(thing, 2, nil)))
}
