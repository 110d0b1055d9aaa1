package action

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radsite/internal/callctx"
	"radsite/internal/domain"
	"radsite/internal/form"
	"radsite/internal/model"
)

const (
	stateA = 10
	stateB = 20
	stateC = 30
	stateD = 40
)

type fixture struct {
	models *model.Registry
	reg    *Registry
	base   *model.Model
	thing  *model.Model
	gadget *model.Model
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	base := &model.Model{AppLabel: "tests", Name: "base", Abstract: true, Fields: []*model.Field{
		{Name: "note", Type: model.String, MaxLength: 40},
	}}
	thing := &model.Model{AppLabel: "tests", Name: "thing", Bases: []*model.Model{base}, Fields: []*model.Field{
		{Name: "name", Type: model.String, Required: true, MaxLength: 20},
		{Name: "state", Type: model.Int, Default: stateA},
	}}
	gadget := &model.Model{AppLabel: "tests", Name: "gadget", Fields: []*model.Field{
		{Name: "label", Type: model.String},
	}}
	models := model.NewRegistry()
	require.NoError(t, models.Register(base, thing, gadget))
	require.NoError(t, models.Link())
	return fixture{models: models, reg: NewRegistry(models, nil), base: base, thing: thing, gadget: gadget}
}

func noop(ctx context.Context, args callctx.Args) (any, error) { return nil, nil }

func TestDuplicateRegistrationKeepsFirst(t *testing.T) {
	f := newFixture(t)
	first, err := f.reg.Register(Spec{Name: "rename", Owner: f.thing, NeedsInstance: true, Func: noop})
	require.NoError(t, err)
	_, err = f.reg.Register(Spec{Name: "rename", Owner: f.thing, Func: noop, VerboseName: "Other"})
	var dup *DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "tests_thing_rename", dup.FullName)

	found, err := f.reg.Find("tests_thing_rename")
	require.NoError(t, err)
	assert.Same(t, first, found)
}

func TestFindMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Find("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.reg.FindFor(f.thing, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindForMatchesExactOwner(t *testing.T) {
	f := newFixture(t)
	a, err := f.reg.Register(Spec{Name: "touch", Owner: f.base, NeedsInstance: true, Func: noop})
	require.NoError(t, err)
	got, err := f.reg.FindFor(f.base, "touch")
	require.NoError(t, err)
	assert.Same(t, a, got)
	_, err = f.reg.FindFor(f.thing, "touch")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDefaultNames(t *testing.T) {
	f := newFixture(t)
	owned, err := f.reg.Register(Spec{Name: "change_name", Owner: f.thing, NeedsInstance: true, Func: noop})
	require.NoError(t, err)
	assert.Equal(t, "tests_thing_change_name", owned.FullName)
	assert.Equal(t, "Change Name", owned.VerboseName)
	assert.Equal(t, "dot circle", owned.Icon)

	rogue, err := f.reg.Register(Spec{Name: "ping", Module: "radsite/internal/apps/users/actions", Func: noop})
	require.NoError(t, err)
	assert.Equal(t, "users_ping", rogue.FullName)

	orphan, err := f.reg.Register(Spec{Name: "pong", Func: noop})
	require.NoError(t, err)
	assert.Equal(t, "__nomodule_pong", orphan.FullName)
}

func TestFrozenRegistryRejectsAdds(t *testing.T) {
	f := newFixture(t)
	f.reg.Freeze()
	_, err := f.reg.Register(Spec{Name: "late", Func: noop})
	assert.ErrorIs(t, err, ErrFrozen)
}

func TestUnresolvableParamFailsRegistration(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Register(Spec{
		Name:   "weird",
		Owner:  f.thing,
		Params: []callctx.Param{callctx.Required("instance"), callctx.Required("mystery")},
		Func:   noop,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
	assert.Empty(t, f.reg.All())
}

func TestCandidatesByTarget(t *testing.T) {
	f := newFixture(t)
	create, _ := f.reg.Register(Spec{Name: "create", Owner: f.thing, Func: noop})
	rename, _ := f.reg.Register(Spec{Name: "rename", Owner: f.thing, NeedsInstance: true, Func: noop})
	touch, _ := f.reg.Register(Spec{Name: "touch", Owner: f.base, NeedsInstance: true, Func: noop})
	gadgetMake, _ := f.reg.Register(Spec{Name: "make", Owner: f.gadget, Func: noop})
	rogue, _ := f.reg.Register(Spec{Name: "rogue", Module: "misc", Func: noop})
	setState, _ := f.reg.Register(Spec{Name: "set_state", Owner: f.thing, NeedsInstance: true, Field: "state", Func: noop})

	inst := model.New(f.thing, map[string]any{"name": "x"})
	assert.Equal(t, []*Action{rename, touch, setState}, f.reg.Candidates(Query{Instance: inst}))
	assert.Equal(t, []*Action{create, rogue}, f.reg.Candidates(Query{Model: f.thing}))
	assert.Equal(t, []*Action{gadgetMake, rogue}, f.reg.Candidates(Query{Model: f.gadget}))
	assert.Equal(t, []*Action{rename, touch}, f.reg.Candidates(Query{Instance: inst, Field: Unbound()}))
	assert.Equal(t, []*Action{setState}, f.reg.Candidates(Query{Instance: inst, Field: Attached("state")}))
	assert.Len(t, f.reg.Candidates(Query{}), 6)
}

func TestAvailableIsSubsetOfCandidates(t *testing.T) {
	f := newFixture(t)
	onlyStaff := When("staff", func(_ context.Context, args callctx.Args) bool {
		u := callctx.Get[*domain.User](args, KeyUser)
		return u != nil && u.Username == "staff"
	}, callctx.Typed[*domain.User](KeyUser))
	_, err := f.reg.Register(Spec{Name: "open", Owner: f.thing, NeedsInstance: true, Func: noop})
	require.NoError(t, err)
	_, err = f.reg.Register(Spec{Name: "guarded", Owner: f.thing, NeedsInstance: true, Conditions: []Condition{onlyStaff}, Func: noop})
	require.NoError(t, err)

	inst := model.New(f.thing, nil)
	q := Query{Instance: inst}
	candidates := f.reg.Candidates(q)
	avail, err := f.reg.Available(context.Background(), q, &domain.User{Username: "guest"})
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, "open", avail[0].Name)
	for _, a := range avail {
		assert.Contains(t, candidates, a)
	}
	avail, err = f.reg.Available(context.Background(), q, &domain.User{Username: "staff"})
	require.NoError(t, err)
	assert.Len(t, avail, 2)
}

func TestCheckConditionsRejectsWrongTargetKind(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.reg.Register(Spec{Name: "rename", Owner: f.thing, NeedsInstance: true, Func: noop})
	cls, _ := f.reg.Register(Spec{Name: "create", Owner: f.thing, Func: noop})
	rec := model.New(f.thing, nil)
	ctx := context.Background()

	ok, err := inst.CheckConditions(ctx, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = cls.CheckConditions(ctx, nil, rec, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = inst.CheckConditions(ctx, nil, rec, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCallFiresHooksAroundFunction(t *testing.T) {
	f := newFixture(t)
	var trail []string
	f.reg.Hooks.OnActionPre(func(_ context.Context, e Event) error {
		_, hasAction := e.Values[KeyAction]
		assert.False(t, hasAction)
		trail = append(trail, "pre")
		return nil
	})
	f.reg.Hooks.OnActionPost(func(_ context.Context, e Event) error {
		_, hasAction := e.Values[KeyAction]
		assert.False(t, hasAction)
		assert.Equal(t, "done", e.Result)
		trail = append(trail, "post")
		return nil
	})
	a, err := f.reg.Register(Spec{
		Name:   "create",
		Owner:  f.thing,
		Params: []callctx.Param{callctx.Required("cls"), callctx.Required("action"), callctx.Required("name")},
		Func: func(_ context.Context, args callctx.Args) (any, error) {
			assert.Same(t, f.thing, args.Value("cls"))
			assert.NotNil(t, args.Value("action"))
			trail = append(trail, "call:"+args.Str("name"))
			return "done", nil
		},
	})
	require.NoError(t, err)
	res, err := a.Call(context.Background(), map[string]any{"name": "bolt", "request_user": nil})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, []string{"pre", "call:bolt", "post"}, trail)
}

func TestCallErrorSkipsPostHook(t *testing.T) {
	f := newFixture(t)
	posted := false
	f.reg.Hooks.OnActionPost(func(context.Context, Event) error { posted = true; return nil })
	a, err := f.reg.Register(Spec{Name: "fail", Module: "misc", Func: func(context.Context, callctx.Args) (any, error) {
		return nil, &NotAllowedError{Action: "misc_fail", Reason: "nope"}
	}})
	require.NoError(t, err)
	_, err = a.Call(context.Background(), nil)
	var na *NotAllowedError
	assert.True(t, errors.As(err, &na))
	assert.False(t, posted)
}

func TestActionURL(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.reg.Register(Spec{Name: "rename", Owner: f.thing, NeedsInstance: true, Func: noop})
	cls, _ := f.reg.Register(Spec{Name: "create", Owner: f.thing, Func: noop})
	rec := model.Load(f.thing, 7, nil)

	u, err := inst.URL(rec, "")
	require.NoError(t, err)
	assert.Equal(t, "/action/tests_thing_rename/7", u)
	_, err = inst.URL(nil, "")
	assert.Error(t, err)
	u, err = cls.URL(nil, "/tests/thing/list?page=2")
	require.NoError(t, err)
	assert.Equal(t, "/action/tests_thing_create?next=%2Ftests%2Fthing%2Flist%3Fpage%3D2", u)
}

func TestFormsSynthesisedOnRegistration(t *testing.T) {
	f := newFixture(t)
	reason := form.Char("Reason", 50)
	a, err := f.reg.Register(Spec{
		Name:          "rename",
		Owner:         f.thing,
		NeedsInstance: true,
		Params: []callctx.Param{
			callctx.Required("instance"),
			callctx.Required("name"),
			callctx.Optional("note", "n/a"),
			callctx.Optional("reason", reason),
		},
		Func: noop,
	})
	require.NoError(t, err)
	set := a.Forms().Build(nil, nil)
	method := set.Method()
	assert.Equal(t, []string{"name", "note", "reason"}, method.Names())
	note, _ := method.Field("note")
	assert.False(t, note.Required)
	assert.Equal(t, "n/a", note.Initial)
}

func newTransition(t *testing.T, f fixture) *Action {
	t.Helper()
	a, err := f.reg.RegisterTransition(TransitionSpec{
		Spec: Spec{
			Name:   "finish",
			Owner:  f.thing,
			Params: []callctx.Param{callctx.Required("instance")},
			Func: func(_ context.Context, args callctx.Args) (any, error) {
				inst := callctx.Get[*model.Record](args, "instance")
				return inst.Get("state"), nil
			},
		},
		Field:  "state",
		Source: []any{stateA, stateB},
		Target: stateC,
	})
	require.NoError(t, err)
	return a
}

func TestTransitionFromSourceStates(t *testing.T) {
	for _, start := range []int64{stateA, stateB} {
		f := newFixture(t)
		var trail []TransitionEvent
		f.reg.Hooks.OnTransitionPre(func(_ context.Context, e TransitionEvent) error {
			trail = append(trail, e)
			return nil
		})
		f.reg.Hooks.OnTransitionPost(func(_ context.Context, e TransitionEvent) error {
			trail = append(trail, e)
			return nil
		})
		a := newTransition(t, f)
		inst := model.Load(f.thing, 1, map[string]any{"state": start})

		ok, err := a.CheckConditions(context.Background(), nil, inst, nil)
		require.NoError(t, err)
		require.True(t, ok)

		res, err := a.Call(context.Background(), map[string]any{"instance": inst})
		require.NoError(t, err)
		assert.Equal(t, stateC, res, "function sees the target state")
		assert.Equal(t, stateC, inst.Get("state"))
		require.Len(t, trail, 2)
		assert.Equal(t, start, trail[0].Old)
		assert.Equal(t, stateC, trail[0].New)
		assert.Equal(t, start, trail[1].Old)
		assert.Equal(t, stateC, trail[1].New)
	}
}

func TestTransitionOutsideSourceIsUnavailable(t *testing.T) {
	f := newFixture(t)
	a := newTransition(t, f)
	for _, state := range []int64{stateC, stateD} {
		inst := model.Load(f.thing, 1, map[string]any{"state": state})
		ok, err := a.CheckConditions(context.Background(), nil, inst, nil)
		require.NoError(t, err)
		assert.False(t, ok)
		avail, err := f.reg.Available(context.Background(), Query{Instance: inst}, nil)
		require.NoError(t, err)
		assert.Empty(t, avail)
	}
}

func TestTransitionMetadata(t *testing.T) {
	f := newFixture(t)
	a := newTransition(t, f)
	assert.True(t, a.NeedsInstance)
	assert.Equal(t, "state", a.Field)
	require.NotNil(t, a.Transition)
	assert.Equal(t, stateC, a.Transition.Target)
	assert.Equal(t, []*Action{a}, f.reg.Candidates(Query{Instance: model.New(f.thing, nil), Field: Attached("state")}))
}

func TestTransitionNeedsOwnerField(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.RegisterTransition(TransitionSpec{Spec: Spec{Name: "x", Owner: f.thing, Func: noop}, Field: "missing", Source: []any{1}, Target: 2})
	assert.ErrorIs(t, err, model.ErrUnknownField)
	_, err = f.reg.RegisterTransition(TransitionSpec{Spec: Spec{Name: "x", Func: noop}, Field: "state", Source: []any{1}, Target: 2})
	assert.Error(t, err)
}
