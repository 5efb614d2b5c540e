// Package migrations holds the Postgres schema and applies it in order.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/saviobatista/atc-online/internal/logging"
)

// ErrNothingToRollback is returned by Rollback when no migration is applied
var ErrNothingToRollback = errors.New("no migrations to rollback")

// Migration is one named schema change with its reversal
type Migration struct {
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies migrations and records them in the migrations table
type Migrator struct {
	db *sql.DB
}

// New creates a new Migrator
func New(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the migrations table if it doesn't exist
func (m *Migrator) Initialize(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Applied returns the names of the applied migrations
func (m *Migrator) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close rows")
		}
	}()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// inTx runs stmt and the bookkeeping query in one transaction
func (m *Migrator) inTx(ctx context.Context, name, stmt, record string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logging.Warn().Err(err).Str("migration", name).Msg("Failed to rollback transaction")
		}
	}()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, record, name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// Apply runs one migration forward
func (m *Migrator) Apply(ctx context.Context, migration *Migration) error {
	return m.inTx(ctx, migration.Name, migration.UpSQL, `INSERT INTO migrations (name) VALUES ($1)`)
}

// Revert runs one migration backward
func (m *Migrator) Revert(ctx context.Context, migration *Migration) error {
	return m.inTx(ctx, migration.Name, migration.DownSQL, `DELETE FROM migrations WHERE name = $1`)
}

// Migrate applies every migration in list that is not yet applied, in order
func (m *Migrator) Migrate(ctx context.Context, list []*Migration) error {
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range list {
		if applied[migration.Name] {
			continue
		}
		if err := m.Apply(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}
		logging.Info().Str("migration", migration.Name).Msg("Applied migration")
	}
	return nil
}

// Rollback reverts the last applied migration in list
func (m *Migrator) Rollback(ctx context.Context, list []*Migration) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var last *Migration
	for i := len(list) - 1; i >= 0; i-- {
		if applied[list[i].Name] {
			last = list[i]
			break
		}
	}
	if last == nil {
		return ErrNothingToRollback
	}

	if err := m.Revert(ctx, last); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", last.Name, err)
	}
	logging.Info().Str("migration", last.Name).Msg("Rolled back migration")
	return nil
}
