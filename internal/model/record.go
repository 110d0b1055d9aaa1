package model

import (
	"fmt"
	"reflect"
	"time"
)

// Record is an instance of a model. Relation values hold the related primary key.
type Record struct {
	model  *Model
	pk     int64
	values map[string]any
}

// New builds an unsaved record with field defaults applied.
func New(m *Model, values map[string]any) *Record {
	r := &Record{model: m, values: map[string]any{}}
	for _, f := range m.ConcreteFields() {
		if f.Default != nil {
			r.values[f.Name] = f.Default
		}
	}
	for k, v := range values {
		r.Set(k, v)
	}
	return r
}

// Load rebuilds a stored record.
func Load(m *Model, pk int64, values map[string]any) *Record {
	r := &Record{model: m, pk: pk, values: map[string]any{}}
	for k, v := range values {
		r.values[k] = v
	}
	return r
}

func (r *Record) Model() *Model { return r.model }

func (r *Record) PK() int64 { return r.pk }

func (r *Record) SetPK(pk int64) { r.pk = pk }

// Saved reports whether the record has a primary key.
func (r *Record) Saved() bool { return r.pk != 0 }

func (r *Record) Get(name string) any {
	if name == "id" || name == "pk" {
		return r.pk
	}
	return r.values[name]
}

// Set stores a field value; related records collapse to their primary key.
func (r *Record) Set(name string, v any) {
	if rec, ok := v.(*Record); ok {
		if rec == nil {
			v = nil
		} else {
			v = rec.PK()
		}
	}
	r.values[name] = v
}

// Attr resolves a field value or a computed attribute.
func (r *Record) Attr(name string) (any, bool) {
	if fn, ok := r.model.Computed[name]; ok {
		return fn(r), true
	}
	if name == "id" || name == "pk" {
		return r.pk, true
	}
	if f, err := r.model.Field(name); err == nil && f.Kind.IsConcrete() {
		return r.values[name], true
	}
	return nil, false
}

// Values returns a copy of the stored values.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r *Record) String() string {
	if r == nil {
		return ""
	}
	if r.model.Display != nil {
		return r.model.Display(r)
	}
	return fmt.Sprintf("%s object (%d)", r.model.Label(), r.pk)
}

// Str returns the value of a field as a string, empty for nil.
func (r *Record) Str(name string) string {
	v := r.Get(name)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int64 converts integer-like values.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// Equal compares field values, treating integer types as interchangeable.
func Equal(a, b any) bool {
	if ai, ok := Int64(a); ok {
		bi, ok := Int64(b)
		return ok && ai == bi
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}
