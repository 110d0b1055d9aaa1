// Package migrate bootstraps the database: versioned SQL scripts for the
// framework tables and CREATE TABLE statements derived from model metadata.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"

	"radsite/internal/model"
)

//go:embed sql/*.sql
var scriptsFS embed.FS

// Script is one versioned SQL file, named "<version>_<name>.sql".
type Script struct {
	Version int
	Name    string
	SQL     string
}

func scripts() ([]Script, error) {
	entries, err := fs.ReadDir(scriptsFS, "sql")
	if err != nil {
		return nil, err
	}
	out := make([]Script, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := scriptsFS.ReadFile(path.Join("sql", e.Name()))
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(e.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", e.Name(), err)
		}
		out = append(out, Script{Version: v, Name: e.Name(), SQL: string(data)})
	}
	slices.SortFunc(out, func(a, b Script) int { return a.Version - b.Version })
	return out, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func version(q querier) (int, error) {
	var v int
	err := q.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// Pending lists the scripts not applied yet.
func Pending(db *sql.DB) ([]Script, error) {
	all, err := scripts()
	if err != nil {
		return nil, err
	}
	var exists int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return all, nil
	}
	current, err := version(db)
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	return slices.DeleteFunc(all, func(s Script) bool { return s.Version <= current }), nil
}

// Migrate applies pending scripts, then creates missing tables for models,
// in one transaction.
func Migrate(db *sql.DB, models ...*model.Model) error {
	all, err := scripts()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	current, err := version(tx)
	if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current == 0 {
		if _, err := tx.Exec(`DELETE FROM schema_version; INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	}
	for _, s := range all {
		if s.Version <= current {
			continue
		}
		if _, err := tx.Exec(s.SQL); err != nil {
			return fmt.Errorf("migration %s: %w", s.Name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, s.Version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = s.Version
	}
	if err := syncModels(tx, models); err != nil {
		return err
	}
	return tx.Commit()
}
