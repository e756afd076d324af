// Package db owns the Postgres schema and applies it at startup.
package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/sqlutil"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	createMigrationsTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name        TEXT PRIMARY KEY,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`

	// serialises concurrent starts of several binaries
	migrationLockSQL = `SELECT pg_advisory_xact_lock(7254001)`

	appliedSQL       = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`
	recordAppliedSQL = `INSERT INTO schema_migrations (name) VALUES ($1)`
)

type migrationTx struct {
	tx pgx.Tx
}

func newMigrationTx(tx pgx.Tx) *migrationTx {
	return &migrationTx{tx: tx}
}

// MigrationNames lists the embedded migrations in apply order.
func MigrationNames() ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	names, err := MigrationNames()
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		applied := false
		err = sqlutil.Run(ctx, pool, newMigrationTx, func(m *migrationTx) error {
			if _, err := m.tx.Exec(ctx, migrationLockSQL); err != nil {
				return err
			}
			if err := m.tx.QueryRow(ctx, appliedSQL, name).Scan(&applied); err != nil || applied {
				return err
			}
			if _, err := m.tx.Exec(ctx, string(body), pgx.QueryExecModeSimpleProtocol); err != nil {
				return err
			}
			_, err := m.tx.Exec(ctx, recordAppliedSQL, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
		if !applied {
			log.Info().Str("migration", name).Msg("migration applied")
		}
	}
	return nil
}
