package action

import (
	"context"
	"fmt"

	"radsite/internal/callctx"
	"radsite/internal/model"
)

// TransitionSpec declares an action moving Field of an instance from one of
// Source to Target.
type TransitionSpec struct {
	Spec
	Field  string
	Source []any
	Target any
}

// RegisterTransition registers a transition. The action gains an implicit
// first condition requiring the current field value to be in Source.
//
// Firing reads the current value, runs the pre hooks, sets Target on the
// in-memory instance, calls Func, then runs the post hooks. Persisting the
// instance is left to Func.
func (r *Registry) RegisterTransition(ts TransitionSpec) (*Action, error) {
	spec := ts.Spec
	if spec.Owner == nil {
		return nil, fmt.Errorf("transition %s needs an owner", spec.Name)
	}
	mf, err := spec.Owner.Field(ts.Field)
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", spec.Name, err)
	}
	if !mf.Kind.IsConcrete() {
		return nil, fmt.Errorf("transition %s: field %q is not stored on %s", spec.Name, ts.Field, spec.Owner.Key())
	}
	if len(ts.Source) == 0 {
		return nil, fmt.Errorf("transition %s has no source state", spec.Name)
	}
	t := &Transition{Field: ts.Field, Source: append([]any(nil), ts.Source...), Target: ts.Target}
	spec.NeedsInstance = true
	spec.Field = ts.Field
	inSource := When("in_source", func(_ context.Context, args callctx.Args) bool {
		inst := callctx.Get[*model.Record](args, KeyInstance)
		return inst != nil && t.Allows(inst.Get(t.Field))
	}, callctx.Typed[*model.Record](KeyInstance))
	spec.Conditions = append([]Condition{inSource}, spec.Conditions...)

	userFn := spec.Func
	a, err := r.Build(spec)
	if err != nil {
		return nil, err
	}
	a.Transition = t
	userSig := a.Signature
	a.invoke = callctx.Signature{
		Name:   a.FullName,
		Params: []callctx.Param{callctx.Typed[*model.Record](KeyInstance)},
		Extra:  true,
	}
	a.fn = func(ctx context.Context, args callctx.Args) (any, error) {
		inst := callctx.Get[*model.Record](args, KeyInstance)
		if inst == nil {
			return nil, fmt.Errorf("transition %s needs an instance", a.FullName)
		}
		old := inst.Get(t.Field)
		if err := a.reg.Hooks.fireTransitionPre(ctx, TransitionEvent{Action: a, Instance: inst, Field: t.Field, Old: old, New: t.Target}); err != nil {
			return nil, err
		}
		inst.Set(t.Field, t.Target)
		res, err := a.reg.Caller.Call(ctx, userSig, userFn, args)
		if err != nil {
			return nil, err
		}
		if err := a.reg.Hooks.fireTransitionPost(ctx, TransitionEvent{Action: a, Instance: inst, Field: t.Field, Old: old, New: inst.Get(t.Field)}); err != nil {
			return nil, err
		}
		return res, nil
	}
	if err := r.Add(a); err != nil {
		return nil, err
	}
	return a, nil
}
