package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
)

var migrationName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

type migration struct {
	version string
	up      string
	hasDown bool
}

// ApplyMigrations runs every pending *.up.sql file in dir, one transaction each.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string) error {
	return applyMigrationsFS(ctx, db, os.DirFS(dir))
}

func applyMigrationsFS(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	migrations, err := collectMigrations(fsys)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.up] {
			continue
		}
		if err := runMigration(ctx, db, fsys, m); err != nil {
			return err
		}
	}
	return nil
}

// collectMigrations returns migrations ordered by version. Every version needs
// exactly one up and one down file.
func collectMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		m := byVersion[match[1]]
		if m == nil {
			m = &migration{version: match[1]}
			byVersion[match[1]] = m
		}
		switch match[2] {
		case "up":
			if m.up != "" {
				return nil, fmt.Errorf("migration %s: duplicate up file", m.version)
			}
			m.up = entry.Name()
		case "down":
			if m.hasDown {
				return nil, fmt.Errorf("migration %s: duplicate down file", m.version)
			}
			m.hasDown = true
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || !m.hasDown {
			return nil, fmt.Errorf("migration %s: needs both up and down files", m.version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].up < out[j].up })
	return out, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func runMigration(ctx context.Context, db *sql.DB, fsys fs.FS, m migration) error {
	contents, err := fs.ReadFile(fsys, m.up)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.up, err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", m.up, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute migration %s: %w", m.up, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.up); err != nil {
		return fmt.Errorf("record migration %s: %w", m.up, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.up, err)
	}
	return nil
}
