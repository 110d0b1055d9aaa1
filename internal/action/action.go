package action

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"radsite/internal/callctx"
	"radsite/internal/domain"
	"radsite/internal/form"
	"radsite/internal/model"
)

// Names under which the dispatcher offers values to actions and conditions.
const (
	KeyUser        = "user"
	KeyRequestUser = "request_user"
	KeyInstance    = "instance"
	KeySelf        = "self"
	KeyAction      = "action"
	KeyModel       = "cls"
)

// URLPrefix is the path every action endpoint lives under.
const URLPrefix = "/action/"

const defaultIcon = "dot circle"

// Condition is a predicate gating an action. Test receives the subset of the
// condition context that Params names.
type Condition struct {
	Name   string
	Params []callctx.Param
	Test   func(ctx context.Context, args callctx.Args) bool
}

// When builds a condition.
func When(name string, test func(ctx context.Context, args callctx.Args) bool, params ...callctx.Param) Condition {
	return Condition{Name: name, Params: params, Test: test}
}

// Spec declares an action for registration.
type Spec struct {
	Name        string
	FullName    string
	VerboseName string
	Icon        string
	// Module names the defining package; it prefixes the full name of actions without an owner.
	Module        string
	Owner         *model.Model
	NeedsInstance bool
	// Field attaches the action to one attribute of Owner.
	Field      string
	Conditions []Condition
	Params     []callctx.Param
	Extra      bool
	Func       callctx.Func
}

// Action is a registered operation. It is not modified after registration.
type Action struct {
	Name          string
	FullName      string
	VerboseName   string
	Icon          string
	NeedsInstance bool
	Owner         *model.Model
	Field         string
	Conditions    []Condition
	Signature     callctx.Signature
	Transition    *Transition

	fn     callctx.Func
	invoke callctx.Signature
	forms  *form.Factory
	reg    *Registry
}

// Transition describes the state change a transition action performs.
type Transition struct {
	Field  string
	Source []any
	Target any
}

// Allows reports whether a transition may fire from value.
func (t *Transition) Allows(value any) bool {
	for _, s := range t.Source {
		if model.Equal(s, value) {
			return true
		}
	}
	return false
}

func (a *Action) String() string { return a.FullName }

// Forms returns the synthesised form factory of the action.
func (a *Action) Forms() *form.Factory { return a.forms }

// Module derives the prefix used for actions without an owner.
func Module(path string) string {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '.' })
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "actions" {
			return parts[i]
		}
	}
	return "__nomodule"
}

// DefaultFullName derives the registry key of an action.
func DefaultFullName(owner *model.Model, module, name string) string {
	if owner != nil {
		return owner.AppLabel + "_" + owner.Name + "_" + name
	}
	return Module(module) + "_" + name
}

// DefaultVerboseName title-cases the action name.
func DefaultVerboseName(name string) string {
	return cases.Title(language.Und).String(strings.ReplaceAll(name, "_", " "))
}

// CheckConditions reports whether the action may run against instance for user.
// The target kind must match: instance actions need an instance, others must not get one.
func (a *Action) CheckConditions(ctx context.Context, cls *model.Model, instance *model.Record, user *domain.User) (bool, error) {
	if (instance != nil) != a.NeedsInstance {
		return false, nil
	}
	if cls == nil && instance != nil {
		cls = instance.Model()
	}
	values := map[string]any{KeyAction: a, KeyModel: nil}
	if cls != nil {
		values[KeyModel] = cls
	}
	for _, k := range []string{KeyUser, KeyRequestUser} {
		values[k] = nil
		if user != nil {
			values[k] = user
		}
	}
	for _, k := range []string{KeyInstance, KeySelf} {
		values[k] = nil
		if instance != nil {
			values[k] = instance
		}
	}
	for _, c := range a.Conditions {
		sig := callctx.Signature{Name: a.FullName + "." + c.Name, Params: c.Params}
		args, err := a.reg.Caller.Resolve(sig, values)
		if err != nil {
			return false, err
		}
		if !c.Test(ctx, args) {
			return false, nil
		}
	}
	return true, nil
}

// Call runs the action function with values, surrounded by the action hooks.
func (a *Action) Call(ctx context.Context, values map[string]any) (any, error) {
	vals := make(map[string]any, len(values)+2)
	for k, v := range values {
		vals[k] = v
	}
	if err := a.reg.Hooks.fireActionPre(ctx, Event{Action: a, Values: vals}); err != nil {
		return nil, err
	}
	vals[KeyAction] = a
	vals[KeyModel] = nil
	if a.Owner != nil {
		vals[KeyModel] = a.Owner
	}
	res, err := a.reg.Caller.Call(ctx, a.invoke, a.fn, vals)
	if err != nil {
		return nil, err
	}
	delete(vals, KeyAction)
	if err := a.reg.Hooks.fireActionPost(ctx, Event{Action: a, Values: vals, Result: res}); err != nil {
		return nil, err
	}
	return res, nil
}

// URL returns the endpoint of the action, optionally with a next parameter.
func (a *Action) URL(instance *model.Record, next string) (string, error) {
	path := URLPrefix + a.FullName
	if a.NeedsInstance {
		if instance == nil {
			return "", fmt.Errorf("action %s needs an instance", a.FullName)
		}
		path += "/" + strconv.FormatInt(instance.PK(), 10)
	}
	if next != "" {
		path += "?next=" + url.QueryEscape(next)
	}
	return path, nil
}
