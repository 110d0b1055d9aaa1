// Package callctx invokes functions with the subset of a named context they declare.
//
// Actions and their conditions are always offered a superset of values (the
// acting user, the target instance, the action itself ...). Each callable
// declares the names it consumes through a Signature and the Caller builds the
// exact argument set, failing on the first required name that has no value.
package callctx

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"runtime"
)

// Param declares one named input of a callable.
type Param struct {
	Name string
	// Type, when set, is checked softly against the supplied value.
	Type       reflect.Type
	Default    any
	HasDefault bool
}

// Required declares an untyped parameter without default.
func Required(name string) Param {
	return Param{Name: name}
}

// Typed declares a parameter expecting values of type T.
func Typed[T any](name string) Param {
	return Param{Name: name, Type: reflect.TypeFor[T]()}
}

// Optional declares a parameter falling back to def.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, HasDefault: true}
}

// WithDefault returns a copy of p falling back to def.
func (p Param) WithDefault(def any) Param {
	p.Default = def
	p.HasDefault = true
	return p
}

// Signature lists the inputs of a callable.
type Signature struct {
	Name   string
	Params []Param
	// Extra passes through every supplied value that no Param consumes.
	Extra bool
}

// Has reports whether the signature declares name.
func (s Signature) Has(name string) bool {
	for _, p := range s.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Names lists the declared parameter names in order.
func (s Signature) Names() []string {
	out := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		out = append(out, p.Name)
	}
	return out
}

// Args is the resolved argument set handed to a Func.
type Args map[string]any

// Value returns the argument called name.
func (a Args) Value(name string) any { return a[name] }

// Str returns the named argument when it holds a string.
func (a Args) Str(name string) string {
	s, _ := a[name].(string)
	return s
}

// Bool returns the named argument when it holds a bool.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Get returns the named argument converted to T, or T's zero value.
func Get[T any](a Args, name string) T {
	v, _ := a[name].(T)
	return v
}

// Func is a callable invoked through a Caller.
type Func func(ctx context.Context, args Args) (any, error)

// MissingParamError names the first parameter that could not be supplied.
type MissingParamError struct {
	Param string
	Func  string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing '%s' parameter to call '%s'", e.Param, e.Func)
}

// Caller resolves and invokes signatures. The zero value logs to log.Default.
type Caller struct {
	Logger *log.Logger
}

func (c Caller) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Resolve builds the argument set sig needs from values.
func (c Caller) Resolve(sig Signature, values map[string]any) (Args, error) {
	args := make(Args, len(sig.Params))
	for _, p := range sig.Params {
		v, ok := values[p.Name]
		if !ok {
			if !p.HasDefault {
				return nil, &MissingParamError{Param: p.Name, Func: sig.Name}
			}
			args[p.Name] = p.Default
			continue
		}
		if p.Type != nil && v != nil && !matches(reflect.TypeOf(v), p.Type) {
			file, line := callerLocation()
			c.logger().Printf("WARNING: %s:%d: '%s' expects '%s' to be of type '%s' not '%s'",
				file, line, sig.Name, p.Name, p.Type, reflect.TypeOf(v))
		}
		args[p.Name] = v
	}
	if sig.Extra {
		for k, v := range values {
			if _, ok := args[k]; !ok {
				args[k] = v
			}
		}
	}
	return args, nil
}

// Call resolves sig against values and invokes fn.
func (c Caller) Call(ctx context.Context, sig Signature, fn Func, values map[string]any) (any, error) {
	args, err := c.Resolve(sig, values)
	if err != nil {
		return nil, err
	}
	return fn(ctx, args)
}

func matches(got, want reflect.Type) bool {
	if got.AssignableTo(want) {
		return true
	}
	return want.Kind() == reflect.Interface && got.Implements(want)
}

// callerLocation reports the first frame outside this package.
func callerLocation() (string, int) {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if !isOwnFrame(fr.Function) {
			return fr.File, fr.Line
		}
		if !more {
			return fr.File, fr.Line
		}
	}
}

func isOwnFrame(fn string) bool {
	const pkg = "radsite/internal/callctx."
	return len(fn) >= len(pkg) && fn[:len(pkg)] == pkg
}
