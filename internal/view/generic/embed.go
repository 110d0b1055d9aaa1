package generic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"radsite/internal/action"
	"radsite/internal/auth"
	"radsite/internal/form"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/view"
)

// EmbedParam is the query parameter selecting an embedded section of a view.
const EmbedParam = "_embed_related"

const DefaultEmbedLimit = 15

type EmbedKind int

const (
	// EmbedDetail shows the single record behind a to-one relation.
	EmbedDetail EmbedKind = iota + 1
	// EmbedList shows the records behind a to-many relation.
	EmbedList
)

func (k EmbedKind) String() string {
	switch k {
	case EmbedDetail:
		return view.EmbedDetail
	case EmbedList:
		return view.EmbedList
	}
	return "unknown"
}

// Embeddable describes a section of a parent view showing related records.
//
// Registered as the embeddetail or embedlist model view of a model it becomes
// the template every synthesised section for that model starts from.
type Embeddable struct {
	Kind  EmbedKind
	Name  string
	Title string
	Model *model.Model
	// Field is the relation on the parent model the section follows.
	Field    string
	Fields   Fields
	Headline Headline
	// Limit caps the rows of list sections. Zero means DefaultEmbedLimit.
	Limit int
}

func (e *Embeddable) limit() int {
	if e.Limit > 0 {
		return e.Limit
	}
	return DefaultEmbedLimit
}

// Embed declares one embedded section of a parent view.
type Embed struct {
	field string
	view  *Embeddable
}

// Related embeds the relation called field, synthesising its section.
func Related(field string) Embed { return Embed{field: field} }

// Explicit embeds a fully declared section.
func Explicit(e *Embeddable) Embed { return Embed{view: e} }

func kindFor(f *model.Field) (EmbedKind, error) {
	switch f.Kind {
	case model.ForeignKey, model.OneToOne, model.OneToOneRel:
		return EmbedDetail, nil
	case model.ManyToOneRel:
		return EmbedList, nil
	}
	return 0, fmt.Errorf("cannot embed field %q of kind %s", f.Name, f.Kind)
}

// section is a resolved embeddable bound to its parent model.
type section struct {
	Embeddable
	env     *view.Env
	parent  *model.Model
	rel     *model.Field
	columns []string
}

// DefaultEmbeds lists every to-many relation of m.
func DefaultEmbeds(m *model.Model) []Embed {
	var out []Embed
	for _, f := range m.ToManyFields() {
		out = append(out, Related(f.Name))
	}
	return out
}

// buildSections resolves decls against parent once, at view build time.
func buildSections(env *view.Env, parent *model.Model, decls []Embed) ([]*section, map[string]*section, error) {
	var order []*section
	byName := map[string]*section{}
	for _, d := range decls {
		var (
			s   *section
			err error
		)
		if d.view != nil {
			s, err = explicitSection(env, parent, d.view)
		} else {
			s, err = synthesize(env, parent, d.field)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("embed in %s: %w", parent.Key(), err)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, nil, fmt.Errorf("embed in %s: duplicate section %q", parent.Key(), s.Name)
		}
		byName[s.Name] = s
		order = append(order, s)
	}
	return order, byName, nil
}

func synthesize(env *view.Env, parent *model.Model, name string) (*section, error) {
	rel, err := parent.Field(name)
	if err != nil {
		return nil, err
	}
	kind, err := kindFor(rel)
	if err != nil {
		return nil, err
	}
	target, err := env.Models.Related(rel)
	if err != nil {
		return nil, err
	}
	var e Embeddable
	if it, ok := env.Views.ModelView(target, kind.String()); ok {
		base, ok := it.View.(*Embeddable)
		if !ok {
			return nil, fmt.Errorf("view %s is %T, not an embeddable", it.Name, it.View)
		}
		e = *base
		e.Fields.Exclude = append([]string(nil), base.Fields.Exclude...)
	}
	e.Kind = kind
	e.Name = rel.Name
	e.Model = target
	e.Field = rel.Name
	if rel.Kind.IsReverse() {
		e.Fields.Exclude = append(e.Fields.Exclude, rel.RemoteField)
	}
	switch {
	case rel.VerboseName != "":
		e.Title = rel.VerboseName
	case kind == EmbedList:
		e.Title = target.PluralLabel()
	default:
		e.Title = target.Label()
	}
	return newSection(env, parent, rel, e)
}

func explicitSection(env *view.Env, parent *model.Model, decl *Embeddable) (*section, error) {
	switch {
	case decl.Name == "":
		return nil, errors.New("embeddable needs a name")
	case decl.Title == "":
		return nil, fmt.Errorf("embeddable %q needs a title", decl.Name)
	case decl.Model == nil:
		return nil, fmt.Errorf("embeddable %q needs a model", decl.Name)
	case decl.Field == "":
		return nil, fmt.Errorf("embeddable %q needs a parent field", decl.Name)
	}
	rel, err := parent.Field(decl.Field)
	if err != nil {
		return nil, err
	}
	kind, err := kindFor(rel)
	if err != nil {
		return nil, err
	}
	if decl.Kind != 0 && decl.Kind != kind {
		return nil, fmt.Errorf("embeddable %q is a %s but %q needs a %s", decl.Name, decl.Kind, rel.Name, kind)
	}
	e := *decl
	e.Kind = kind
	return newSection(env, parent, rel, e)
}

func newSection(env *view.Env, parent *model.Model, rel *model.Field, e Embeddable) (*section, error) {
	if err := e.Fields.Validate(e.Model); err != nil {
		return nil, err
	}
	cols, _ := e.Fields.Resolve(e.Model)
	cols = slices.DeleteFunc(cols, func(n string) bool { return slices.Contains(e.Fields.Exclude, n) })
	return &section{Embeddable: e, env: env, parent: parent, rel: rel, columns: cols}, nil
}

// localField names the field of the embedded model pointing back at the parent.
func (s *section) localField() string {
	if s.rel.Kind.IsReverse() {
		return s.rel.RemoteField
	}
	return ""
}

// Block is an embedded section as shown inside its parent page.
type Block struct {
	Name  string
	Title string
	URL   string
	HTML  template.HTML
}

// block renders the section inline for the parent page.
func (s *section) block(ctx context.Context, r *http.Request, parent *model.Record) (Block, error) {
	name, data, err := s.data(ctx, r, parent)
	if err != nil {
		return Block{}, err
	}
	var buf bytes.Buffer
	if err := s.env.Render.Execute(&buf, name, data); err != nil {
		return Block{}, err
	}
	return Block{
		Name:  s.Name,
		Title: s.Title,
		URL:   r.URL.Path + "?" + EmbedParam + "=" + url.QueryEscape(s.Name),
		HTML:  template.HTML(buf.String()),
	}, nil
}

// serve answers a request delegated by the parent view.
func (s *section) serve(w http.ResponseWriter, r *http.Request, parent *model.Record) {
	ctx := s.env.Context(r.Context())
	name, data, err := s.data(ctx, r, parent)
	if err != nil {
		s.env.ServerError(w, r, err)
		return
	}
	s.env.Render.Fragment(w, http.StatusOK, name, data)
}

func (s *section) data(ctx context.Context, r *http.Request, parent *model.Record) (string, any, error) {
	if s.Kind == EmbedList {
		d, err := s.listData(ctx, r, parent)
		return "embed_list", d, err
	}
	rec, err := s.env.Repo.Related(ctx, parent, s.rel)
	if errors.Is(err, repo.ErrNotFound) {
		return "embed_noexist", NoExist{Name: s.Name, Title: s.Title, CreateURL: s.createURL(r, parent)}, nil
	}
	if err != nil {
		return "", nil, err
	}
	d, err := s.detailData(ctx, r, rec)
	return "embed_detail", d, err
}

// EmbeddedList is the data of an embedded list fragment.
type EmbeddedList struct {
	Name        string
	Title       string
	Table       Table
	Total       int
	Shown       int
	CreateURL   string
	MoreInfoURL string
}

// EmbeddedDetail is the data of an embedded detail fragment.
type EmbeddedDetail struct {
	Name      string
	Title     string
	Fields    []FieldValue
	DetailURL string
	Actions   []ActionLink
}

// NoExist is shown when a to-one relation has no target yet.
type NoExist struct {
	Name      string
	Title     string
	CreateURL string
}

func (s *section) listData(ctx context.Context, r *http.Request, parent *model.Record) (EmbeddedList, error) {
	q, err := repo.RelatedQuery(parent, s.rel)
	if err != nil {
		return EmbeddedList{}, err
	}
	flt, _ := parseFilters(s.Model, r.URL.Query(), "embed_filter_"+s.Name+"-")
	q.Filters = append(q.Filters, flt...)
	total, err := s.env.Repo.Count(ctx, s.Model, q)
	if err != nil {
		return EmbeddedList{}, err
	}
	q.Limit = s.limit()
	items, err := s.env.Repo.List(ctx, s.Model, q)
	if err != nil {
		return EmbeddedList{}, err
	}
	table, err := buildTable(ctx, s.env, s.Model, s.columns, items, nil)
	if err != nil {
		return EmbeddedList{}, err
	}
	out := EmbeddedList{
		Name:      s.Name,
		Title:     s.Title,
		Table:     table,
		Total:     total,
		Shown:     len(items),
		CreateURL: s.createURL(r, parent),
	}
	if u, err := s.env.Views.Reverse(view.ModelName(s.Model, view.List)); err == nil {
		out.MoreInfoURL = u + "?" + url.Values{s.localField(): {strconv.FormatInt(parent.PK(), 10)}}.Encode()
	}
	return out, nil
}

func (s *section) detailData(ctx context.Context, r *http.Request, rec *model.Record) (EmbeddedDetail, error) {
	out := EmbeddedDetail{Name: s.Name, Title: s.Title, DetailURL: s.env.Views.URLFor(rec)}
	for _, n := range s.columns {
		c, err := Format(ctx, s.env, rec, n)
		if err != nil {
			return out, err
		}
		out.Fields = append(out.Fields, FieldValue{Name: n, Label: Label(s.Model, n), Cell: c})
	}
	links, err := actionLinks(ctx, s.env, action.Query{Instance: rec, Field: action.Unbound()}, auth.UserFrom(ctx), r.URL.Path)
	if err != nil {
		return out, err
	}
	out.Actions = links
	return out, nil
}

// createURL points at the create view or action of the embedded model,
// prefilled with the parent. Empty when neither exists or the relation
// cannot be set from the embedded side.
func (s *section) createURL(r *http.Request, parent *model.Record) string {
	local := s.localField()
	if local == "" {
		return ""
	}
	pk := strconv.FormatInt(parent.PK(), 10)
	if u, err := s.env.Views.Reverse(view.ModelName(s.Model, view.Create)); err == nil {
		return u + "?" + url.Values{local: {pk}}.Encode()
	}
	a, err := s.env.Actions.FindFor(s.Model, "create")
	if err != nil {
		return ""
	}
	u, err := a.URL(nil, r.URL.Path)
	if err != nil {
		return ""
	}
	return u + "&" + url.Values{form.MethodForm + "-" + local: {pk}}.Encode()
}
