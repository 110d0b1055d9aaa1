package model

import (
	"fmt"
	"strings"
)

// Kind classifies a field by how it relates the owning model to others.
type Kind int

const (
	Plain Kind = iota
	ForeignKey
	OneToOne
	OneToOneRel
	ManyToOneRel
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case ForeignKey:
		return "foreign_key"
	case OneToOne:
		return "one_to_one"
	case OneToOneRel:
		return "one_to_one_rel"
	case ManyToOneRel:
		return "many_to_one_rel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsRelation reports whether the field points at another model.
func (k Kind) IsRelation() bool { return k != Plain }

// IsConcrete reports whether the field is stored in the owning model's table.
func (k Kind) IsConcrete() bool { return k == Plain || k == ForeignKey || k == OneToOne }

// IsReverse reports whether the field is the computed reverse side of a relation.
func (k Kind) IsReverse() bool { return k == OneToOneRel || k == ManyToOneRel }

// ToOne reports whether following the field yields at most one record.
func (k Kind) ToOne() bool { return k == ForeignKey || k == OneToOne || k == OneToOneRel }

// ToMany reports whether following the field yields a set of records.
func (k Kind) ToMany() bool { return k == ManyToOneRel }

// Type is the value type of a plain field.
type Type int

const (
	String Type = iota
	Text
	Int
	Bool
	Date
	DateTime
	Email
	URL
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Text:
		return "text"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Date:
		return "date"
	case DateTime:
		return "datetime"
	case Email:
		return "email"
	case URL:
		return "url"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

type Choice struct {
	Value any
	Label string
}

// Field describes one attribute of a model.
//
// For forward relations Related names the target model key and RelatedName the
// accessor installed on the target by Registry.Link. Reverse relations carry the
// forward field's name in RemoteField.
type Field struct {
	Name        string
	Kind        Kind
	Type        Type
	VerboseName string
	Required    bool
	ReadOnly    bool
	Default     any
	Choices     []Choice
	MaxLength   int
	HelpText    string
	Related     string
	RelatedName string
	RemoteField string
}

// Column returns the storage column for concrete fields.
func (f *Field) Column() string {
	if f.Kind == ForeignKey || f.Kind == OneToOne {
		return f.Name + "_id"
	}
	return f.Name
}

// Label returns the verbose name, falling back to the humanised field name.
func (f *Field) Label() string {
	if f.VerboseName != "" {
		return f.VerboseName
	}
	return strings.ReplaceAll(f.Name, "_", " ")
}

// ChoiceLabel returns the display label for v when the field declares choices.
func (f *Field) ChoiceLabel(v any) (string, bool) {
	for _, c := range f.Choices {
		if Equal(c.Value, v) {
			return c.Label, true
		}
	}
	return "", false
}

// Editable reports whether forms may set the field.
func (f *Field) Editable() bool {
	return !f.ReadOnly && f.Kind.IsConcrete()
}
