package db

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockKey is the pg_advisory_xact_lock key guarding Migrate.
const migrationLockKey = 52017

// Migrate applies all pending SQL migrations in lexicographic order inside a
// single transaction. A transaction-scoped advisory lock keeps overlapping
// deploys from racing each other.
func Migrate(ctx context.Context, pool Pool) error {
	log := zap.L().With(zap.String("component", "db.migrate"))

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "db: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	return InTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
			return eris.Wrap(err, "db: acquire migration advisory lock")
		}

		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				filename   TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`); err != nil {
			return eris.Wrap(err, "db: ensure migration table")
		}

		applied, err := appliedMigrations(ctx, tx)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			name := entry.Name()
			if applied[name] {
				continue
			}

			data, err := migrationFS.ReadFile("migrations/" + name)
			if err != nil {
				return eris.Wrapf(err, "db: read migration %s", name)
			}

			log.Info("applying migration", zap.String("file", name))
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return eris.Wrapf(err, "db: apply migration %s", name)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())",
				name,
			); err != nil {
				return eris.Wrapf(err, "db: record migration %s", name)
			}
		}
		return nil
	})
}

// MigrationNames lists the embedded migration files in apply order.
func MigrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func appliedMigrations(ctx context.Context, q Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "db: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
