package partners_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radsite/internal/action"
	"radsite/internal/apps"
	"radsite/internal/apps/contacts"
	"radsite/internal/apps/partners"
	"radsite/internal/config"
	"radsite/internal/db"
	"radsite/internal/engine"
	"radsite/internal/form"
	"radsite/internal/model"
	"radsite/internal/repo"
)

type fixture struct {
	e        *engine.Engine
	partners *partners.App
	contacts *contacts.App
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	site := config.Default().Site
	site.SecretKey = "partners-test-secret"
	e, err := engine.New(engine.Config{
		DB:     conn,
		Site:   site,
		Apps:   apps.Available(),
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	p, _ := e.App(partners.Label)
	c, _ := e.App(contacts.Label)
	return fixture{e: e, partners: p.(*partners.App), contacts: c.(*contacts.App)}
}

func (f fixture) partner(t *testing.T, status int64) *model.Record {
	t.Helper()
	ctx := context.Background()
	contact := model.New(f.contacts.Contact, map[string]any{"first_name": "Initech"})
	require.NoError(t, f.e.Repo.Save(ctx, contact))
	rec := model.New(f.partners.Partner, map[string]any{"contact": contact, "status": status})
	require.NoError(t, f.e.Repo.Save(ctx, rec))
	return rec
}

func TestAvailableTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[int64][]string{
		partners.StatusNew:      {"approve_partner", "disable_partner", "reject_partner"},
		partners.StatusApproved: {"disable_partner", "reject_partner"},
		partners.StatusRejected: {"approve_partner", "disable_partner"},
		partners.StatusDisabled: {"approve_partner"},
	}
	for status, want := range cases {
		rec := model.New(f.partners.Partner, map[string]any{"status": status})
		rec.SetPK(1)
		items, err := f.e.Actions.Available(ctx, action.Query{Instance: rec}, nil)
		require.NoError(t, err)
		var got []string
		for _, a := range items {
			got = append(got, a.Name)
		}
		sort.Strings(got)
		assert.Equal(t, want, got, "status %d", status)
	}
}

func TestApproveRecordsTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.partner(t, partners.StatusNew)

	approve, err := f.e.Actions.FindFor(f.partners.Partner, "approve_partner")
	require.NoError(t, err)
	ok, err := approve.CheckConditions(ctx, nil, rec, nil)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = approve.Call(ctx, map[string]any{action.KeyInstance: rec})
	require.NoError(t, err)
	assert.Equal(t, partners.StatusApproved, rec.Get("status"))

	stored, err := f.e.Repo.Get(ctx, f.partners.Partner, rec.PK())
	require.NoError(t, err)
	assert.Equal(t, partners.StatusApproved, stored.Get("status"))

	evts, err := f.e.Repo.ListEvents(ctx, repo.EventFilters{Type: "transition.applied"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "partners_partner_approve_partner", evts[0].Action)
	assert.JSONEq(t, `{"field":"status","from":10,"to":100}`, evts[0].Payload)
}

func TestRejectStoresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.partner(t, partners.StatusApproved)

	why := partners.RejectForm()
	why.Bind(url.Values{"reason": {"20"}, "may_reeval": {"2025-01-31"}})
	require.True(t, why.Validate(ctx))

	reject, err := f.e.Actions.FindFor(f.partners.Partner, "reject_partner")
	require.NoError(t, err)
	_, err = reject.Call(ctx, map[string]any{action.KeyInstance: rec, "why": why})
	require.NoError(t, err)

	stored, err := f.e.Repo.Get(ctx, f.partners.Partner, rec.PK())
	require.NoError(t, err)
	assert.Equal(t, partners.StatusRejected, stored.Get("status"))
	assert.Equal(t, partners.ReasonStartup, stored.Get("reject_reason"))
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), stored.Get("reevaluate_on"))
}

func TestRejectFormsAreSynthesized(t *testing.T) {
	f := newFixture(t)
	reject, err := f.e.Actions.FindFor(f.partners.Partner, "reject_partner")
	require.NoError(t, err)
	set := reject.Forms().Build(nil, nil)
	assert.Equal(t, []string{form.MethodForm, "why"}, set.Names())
	why, ok := set.Get("why")
	require.True(t, ok)
	assert.Equal(t, "why", why.Prefix)
	assert.Equal(t, "Why", why.Title)

	disable, err := f.e.Actions.FindFor(f.partners.Partner, "disable_partner")
	require.NoError(t, err)
	fld, ok := disable.Forms().Build(nil, nil).Method().Field("reconsider")
	require.True(t, ok)
	assert.Equal(t, form.Checkbox, fld.Widget)
}

func TestDisableKeepsReconsider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.partner(t, partners.StatusNew)
	disable, err := f.e.Actions.FindFor(f.partners.Partner, "disable_partner")
	require.NoError(t, err)
	_, err = disable.Call(ctx, map[string]any{action.KeyInstance: rec, "reconsider": true})
	require.NoError(t, err)

	stored, err := f.e.Repo.Get(ctx, f.partners.Partner, rec.PK())
	require.NoError(t, err)
	assert.Equal(t, partners.StatusDisabled, stored.Get("status"))
	assert.Equal(t, true, stored.Get("reconsider"))
}

func TestCreateRejectsSecondPartnerForContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contact := model.New(f.contacts.Contact, map[string]any{"first_name": "Hooli"})
	require.NoError(t, f.e.Repo.Save(ctx, contact))
	create, err := f.e.Actions.FindFor(f.partners.Partner, "create")
	require.NoError(t, err)

	res, err := create.Call(ctx, map[string]any{"contact": contact})
	require.NoError(t, err)
	assert.Equal(t, partners.StatusNew, res.(*model.Record).Get("status"))

	_, err = create.Call(ctx, map[string]any{"contact": contact})
	var invalid *form.ValidationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "contact", invalid.Field)
}
