package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"radsite/internal/model"
)

const (
	OpExact     = "exact"
	OpIContains = "icontains"
)

type Filter struct {
	Field string
	Op    string
	Value any
}

// Query selects records of one model. Zero Limit means no limit.
type Query struct {
	Filters []Filter
	OrderBy []string
	Limit   int
	Offset  int
}

// Where appends an exact-match filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: OpExact, Value: value})
	return q
}

// Get loads one record by primary key.
func (r Repo) Get(ctx context.Context, m *model.Model, pk int64) (*model.Record, error) {
	items, err := r.List(ctx, m, Query{Filters: []Filter{{Field: "id", Op: OpExact, Value: pk}}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// List returns the records matching q.
func (r Repo) List(ctx context.Context, m *model.Model, q Query) ([]*model.Record, error) {
	fields := m.ConcreteFields()
	cols := []string{"id"}
	for _, f := range fields {
		cols = append(cols, f.Column())
	}
	where, args, err := whereClause(m, q.Filters)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(m, q.OrderBy)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s%s%s`, strings.Join(cols, ","), m.Table(), where, order)
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	} else if q.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, q.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", m.Key(), err)
	}
	defer rows.Close()
	var res []*model.Record
	for rows.Next() {
		var pk int64
		raw := make([]any, len(fields))
		dest := []any{&pk}
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		values := make(map[string]any, len(fields))
		for i, f := range fields {
			v, err := decode(f, raw[i])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", m.Key(), f.Name, err)
			}
			values[f.Name] = v
		}
		res = append(res, model.Load(m, pk, values))
	}
	return res, rows.Err()
}

// Count returns the number of records matching q's filters.
func (r Repo) Count(ctx context.Context, m *model.Model, q Query) (int, error) {
	where, args, err := whereClause(m, q.Filters)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, m.Table(), where), args...).Scan(&n)
	return n, err
}

// Save inserts unsaved records and updates saved ones.
func (r Repo) Save(ctx context.Context, rec *model.Record) error {
	m := rec.Model()
	if m.BeforeSave != nil {
		m.BeforeSave(rec)
	}
	fields := m.ConcreteFields()
	cols := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		v, err := encode(f, rec.Get(f.Name))
		if err != nil {
			return fmt.Errorf("%s.%s: %w", m.Key(), f.Name, err)
		}
		cols = append(cols, f.Column())
		args = append(args, v)
	}
	if !rec.Saved() {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
		query := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`, m.Table(), strings.Join(cols, ","), marks)
		if len(cols) == 0 {
			query = fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES`, m.Table())
		}
		res, err := r.DB.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert %s: %w", m.Key(), err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		rec.SetPK(id)
		return nil
	}
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + "=?"
	}
	args = append(args, rec.PK())
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id=?`, m.Table(), strings.Join(sets, ",")), args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", m.Key(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record.
func (r Repo) Delete(ctx context.Context, rec *model.Record) error {
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=?`, rec.Model().Table()), rec.PK())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Related follows a to-one relation of parent. A missing target yields ErrNotFound.
func (r Repo) Related(ctx context.Context, parent *model.Record, f *model.Field) (*model.Record, error) {
	target, err := r.Models.Related(f)
	if err != nil {
		return nil, err
	}
	switch f.Kind {
	case model.ForeignKey, model.OneToOne:
		pk, ok := model.Int64(parent.Get(f.Name))
		if !ok {
			return nil, ErrNotFound
		}
		return r.Get(ctx, target, pk)
	case model.OneToOneRel:
		items, err := r.List(ctx, target, Query{}.Where(f.RemoteField, parent.PK()))
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, ErrNotFound
		}
		return items[0], nil
	default:
		return nil, fmt.Errorf("field %q is not a to-one relation", f.Name)
	}
}

// RelatedQuery returns the query selecting the records a to-many relation of parent holds.
func RelatedQuery(parent *model.Record, f *model.Field) (Query, error) {
	if !f.Kind.ToMany() {
		return Query{}, fmt.Errorf("field %q is not a to-many relation", f.Name)
	}
	return Query{}.Where(f.RemoteField, parent.PK()), nil
}

func whereClause(m *model.Model, filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	var args []any
	for _, flt := range filters {
		col := "id"
		var f *model.Field
		if flt.Field != "id" && flt.Field != "pk" {
			var err error
			f, err = m.Field(flt.Field)
			if err != nil {
				return "", nil, err
			}
			if !f.Kind.IsConcrete() {
				return "", nil, fmt.Errorf("cannot filter on %s.%s", m.Key(), f.Name)
			}
			col = f.Column()
		}
		switch flt.Op {
		case "", OpExact:
			if flt.Value == nil {
				clauses = append(clauses, col+" IS NULL")
				continue
			}
			v := flt.Value
			if f != nil {
				enc, err := encode(f, v)
				if err != nil {
					return "", nil, err
				}
				v = enc
			}
			clauses = append(clauses, col+"=?")
			args = append(args, v)
		case OpIContains:
			clauses = append(clauses, "LOWER("+col+") LIKE ?")
			args = append(args, "%"+strings.ToLower(fmt.Sprint(flt.Value))+"%")
		default:
			return "", nil, fmt.Errorf("unsupported lookup %q", flt.Op)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func orderClause(m *model.Model, order []string) (string, error) {
	if len(order) == 0 {
		order = m.Ordering
	}
	parts := make([]string, 0, len(order)+1)
	for _, o := range order {
		dir := "ASC"
		name := o
		if strings.HasPrefix(o, "-") {
			dir = "DESC"
			name = o[1:]
		}
		col := "id"
		if name != "id" && name != "pk" {
			f, err := m.Field(name)
			if err != nil {
				return "", err
			}
			if !f.Kind.IsConcrete() {
				return "", fmt.Errorf("cannot order by %s.%s", m.Key(), f.Name)
			}
			col = f.Column()
		}
		parts = append(parts, col+" "+dir)
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ","), nil
}

const dateLayout = "2006-01-02"

func encode(f *model.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Kind.IsRelation() {
		pk, ok := model.Int64(v)
		if !ok {
			return nil, fmt.Errorf("relation value %v is not a primary key", v)
		}
		return pk, nil
	}
	switch f.Type {
	case model.Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case model.Int:
		n, ok := model.Int64(v)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
		return n, nil
	case model.Date:
		if t, ok := v.(time.Time); ok {
			return t.Format(dateLayout), nil
		}
	case model.DateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func decode(f *model.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if f.Kind.IsRelation() {
		pk, ok := model.Int64(v)
		if !ok {
			return nil, fmt.Errorf("bad key %v", v)
		}
		return pk, nil
	}
	switch f.Type {
	case model.Bool:
		n, ok := model.Int64(v)
		if !ok {
			return nil, fmt.Errorf("bad bool %v", v)
		}
		return n != 0, nil
	case model.Int:
		n, ok := model.Int64(v)
		if !ok {
			return nil, fmt.Errorf("bad integer %v", v)
		}
		return n, nil
	case model.Date:
		s, _ := v.(string)
		if s == "" {
			return nil, nil
		}
		return time.Parse(dateLayout, s)
	case model.DateTime:
		s, _ := v.(string)
		if s == "" {
			return nil, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}
