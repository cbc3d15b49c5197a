package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

// Migration is one forward-only schema change.
type Migration struct {
	Name string
	SQL  string
}

// MigrationState reports whether a migration file has been applied.
type MigrationState struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// LoadMigrationFiles reads all .sql files from dir, sorted by name.
func LoadMigrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, Migration{Name: strings.TrimSuffix(name, ".sql"), SQL: string(data)})
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// RunMigrations applies, in order, every migration not yet recorded in schema_migrations. Each
// migration runs in its own transaction together with its bookkeeping row.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	if _, err := pool.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("%s - create schema_migrations: %w", migrationsLogPrefix, err)
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	pending := 0
	for _, m := range migrations {
		if _, done := applied[m.Name]; done {
			continue
		}
		pending++
		slog.Info(fmt.Sprintf("%s - Applying migration %s", migrationsLogPrefix, m.Name))
		if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		}); err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete (%d applied, %d already present)",
		migrationsLogPrefix, pending, len(migrations)-pending))
	return nil
}

// MigrationStatus returns the state of every migration file in migrationPath.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) ([]MigrationState, error) {
	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return nil, err
	}

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'schema_migrations')`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to check schema: %w", migrationsLogPrefix, err)
	}
	applied := map[string]time.Time{}
	if exists {
		if applied, err = appliedMigrations(ctx, pool); err != nil {
			return nil, err
		}
	}
	return migrationStates(files, applied), nil
}

func migrationStates(files []Migration, applied map[string]time.Time) []MigrationState {
	out := make([]MigrationState, 0, len(files))
	for _, f := range files {
		at, ok := applied[f.Name]
		out = append(out, MigrationState{Name: f.Name, Applied: ok, AppliedAt: at})
	}
	return out
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]time.Time, error) {
	rows, err := pool.Query(ctx, `SELECT name, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - list applied migrations: %w", migrationsLogPrefix, err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var at time.Time
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("%s - scan applied migration: %w", migrationsLogPrefix, err)
		}
		out[name] = at
	}
	return out, rows.Err()
}

// ErrMigrationDownUnsupported is returned by MigrationDown; migrations are forward-only.
var ErrMigrationDownUnsupported = errors.New("migration down is not supported (migrations are forward-only); restore a database backup to roll back")

// MigrationDown always fails with ErrMigrationDownUnsupported.
func MigrationDown(context.Context, *pgxpool.Pool, string) error {
	return ErrMigrationDownUnsupported
}
