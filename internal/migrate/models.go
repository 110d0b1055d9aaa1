package migrate

import (
	"database/sql"
	"fmt"
	"strings"

	"radsite/internal/model"
)

// SyncModels creates missing tables for the concrete models.
func SyncModels(db *sql.DB, models ...*model.Model) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := syncModels(tx, models); err != nil {
		return err
	}
	return tx.Commit()
}

func syncModels(tx *sql.Tx, models []*model.Model) error {
	for _, m := range models {
		if m.Abstract {
			continue
		}
		if _, err := tx.Exec(createTable(m)); err != nil {
			return fmt.Errorf("create table %s: %w", m.Table(), err)
		}
	}
	return nil
}

func createTable(m *model.Model) string {
	cols := []string{"id INTEGER PRIMARY KEY AUTOINCREMENT"}
	var constraints []string
	for _, f := range m.ConcreteFields() {
		col := fmt.Sprintf("%s %s", f.Column(), sqlType(f))
		if f.Kind == model.OneToOne {
			col += " UNIQUE"
		}
		cols = append(cols, col)
		if f.Kind.IsRelation() {
			table := strings.ReplaceAll(f.Related, ".", "_")
			constraints = append(constraints, fmt.Sprintf("FOREIGN KEY(%s) REFERENCES %s(id) ON DELETE CASCADE", f.Column(), table))
		}
	}
	cols = append(cols, constraints...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", m.Table(), strings.Join(cols, ",\n  "))
}

func sqlType(f *model.Field) string {
	if f.Kind.IsRelation() {
		return "INTEGER"
	}
	switch f.Type {
	case model.Int, model.Bool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}
