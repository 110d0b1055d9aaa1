package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownField = errors.New("unknown field")

// Model is the metadata of one entity type.
type Model struct {
	AppLabel          string
	Name              string
	VerboseName       string
	VerboseNamePlural string
	Icon              string
	Abstract          bool
	Ordering          []string
	Fields            []*Field
	// Bases lists abstract parents; their fields are inherited and IsA matches them.
	Bases []*Model
	// Display renders a record for humans. Nil falls back to "<verbose name> object (<pk>)".
	Display func(*Record) string
	// Computed attributes are addressable by name from headlines and column lists.
	Computed map[string]func(*Record) any
	// BeforeSave derives stored values right before a record is written.
	BeforeSave func(*Record)
	// DefaultRelatedName names the reverse accessor of forward relations that
	// leave RelatedName empty.
	DefaultRelatedName string

	reverse []*Field
}

// Key is the dotted identity used by registries, e.g. "contacts.contact".
func (m *Model) Key() string { return m.AppLabel + "." + m.Name }

// Table is the storage table name.
func (m *Model) Table() string { return m.AppLabel + "_" + m.Name }

func (m *Model) String() string { return m.Key() }

// Label returns the singular verbose name.
func (m *Model) Label() string {
	if m.VerboseName != "" {
		return m.VerboseName
	}
	return m.Name
}

// PluralLabel returns the plural verbose name.
func (m *Model) PluralLabel() string {
	if m.VerboseNamePlural != "" {
		return m.VerboseNamePlural
	}
	return m.Label() + "s"
}

// IsA reports whether m is other or inherits from it.
func (m *Model) IsA(other *Model) bool {
	if m == nil || other == nil {
		return false
	}
	if m == other {
		return true
	}
	for _, b := range m.Bases {
		if b.IsA(other) {
			return true
		}
	}
	return false
}

// Field looks up a forward or reverse field by name.
func (m *Model) Field(name string) (*Field, error) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	for _, f := range m.reverse {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no field %q", ErrUnknownField, m.Key(), name)
}

// HasField reports whether name resolves to a field of m.
func (m *Model) HasField(name string) bool {
	_, err := m.Field(name)
	return err == nil
}

// ConcreteFields returns the stored fields in declaration order.
func (m *Model) ConcreteFields() []*Field {
	out := make([]*Field, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.Kind.IsConcrete() {
			out = append(out, f)
		}
	}
	return out
}

// ReverseFields returns relations other models declare towards m.
func (m *Model) ReverseFields() []*Field {
	return append([]*Field(nil), m.reverse...)
}

// AllFields returns declared fields followed by reverse relations.
func (m *Model) AllFields() []*Field {
	out := append([]*Field(nil), m.Fields...)
	return append(out, m.reverse...)
}

// ToManyFields returns every to-many relation of m.
func (m *Model) ToManyFields() []*Field {
	var out []*Field
	for _, f := range m.AllFields() {
		if f.Kind.ToMany() {
			out = append(out, f)
		}
	}
	return out
}

func (m *Model) inherit() {
	var inherited []*Field
	seen := map[string]bool{}
	for _, f := range m.Fields {
		seen[f.Name] = true
	}
	for _, b := range m.Bases {
		b.inherit()
		for _, f := range b.Fields {
			if seen[f.Name] {
				continue
			}
			cp := *f
			inherited = append(inherited, &cp)
			seen[f.Name] = true
		}
	}
	m.Fields = append(inherited, m.Fields...)
}

func humanize(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
