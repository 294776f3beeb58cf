package postgres

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migration is one embedded schema step
type Migration struct {
	Version string
	SQL     string
}

// Migrations returns the embedded migrations ordered by file name
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read embedded migrations")
	}

	out := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "read migration %s", e.Name())
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(e.Name(), ".sql"),
			SQL:     string(body),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// migrationLockID serializes concurrent Migrate calls against one database
const migrationLockID = 720_315_001

// Migrate applies every pending migration in one transaction. An advisory lock
// keeps parallel processes (or test packages) from applying the same version twice.
func Migrate(ctx context.Context, db *sqlx.DB) (int, error) {
	log := logger.Get().With("component", "postgres_migrate")

	migrations, err := Migrations()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin migrations")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return 0, errors.Wrap(err, "lock migrations")
	}
	if _, err := tx.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, errors.Wrap(err, "create schema_migrations")
	}

	var versions []string
	if err := tx.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations`); err != nil {
		return 0, errors.Wrap(err, "list applied migrations")
	}
	applied := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}

	var pending []string
	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return 0, errors.Wrapf(err, "apply migration %s", m.Version)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
			return 0, errors.Wrapf(err, "record migration %s", m.Version)
		}
		pending = append(pending, m.Version)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit migrations")
	}
	for _, v := range pending {
		log.Infow("Applied migration", "version", v)
	}
	return len(pending), nil
}
