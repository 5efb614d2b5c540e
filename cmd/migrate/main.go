package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/saviobatista/atc-online/internal/config"
	"github.com/saviobatista/atc-online/internal/db/migrations"
	"github.com/saviobatista/atc-online/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logging.Error().Err(err).Msg("Migration failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	dbURL, rollback, err := parseFlags(args, cfg.DBConnStr)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	return migrate(db, rollback)
}

// parseFlags reads -db and -rollback. The database defaults to defaultDB.
func parseFlags(args []string, defaultDB string) (string, bool, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbURL := fs.String("db", defaultDB, "Database connection string")
	rollback := fs.Bool("rollback", false, "Rollback the last migration")
	if err := fs.Parse(args); err != nil {
		return "", false, err
	}
	return *dbURL, *rollback, nil
}

// migrate applies every pending migration, or rolls back the last applied
// one
func migrate(db *sql.DB, rollback bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(db)
	if rollback {
		if err := migrator.Rollback(ctx, migrations.All); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		return nil
	}
	if err := migrator.Migrate(ctx, migrations.All); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
