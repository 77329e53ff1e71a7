package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/feevault/distributor"
)

const migrationsDir = "db/clickhouse/migrations"

// slogGooseLogger adapts slog.Logger to goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func CreateDatabase(ctx context.Context, log *slog.Logger, conn Connection, database string) error {
	log.Info("clickhouse: creating database", "database", database)
	return conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database))
}

// Up runs all pending migrations.
func Up(ctx context.Context, log *slog.Logger, cfg Config) error {
	log.Info("clickhouse: running migrations (up)", "database", cfg.Database)
	return withGoose(log, cfg, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("clickhouse: migrations completed")
		return nil
	})
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, log *slog.Logger, cfg Config) error {
	log.Info("clickhouse: rolling back migration (down)", "database", cfg.Database)
	return withGoose(log, cfg, func(db *sql.DB) error {
		if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		return nil
	})
}

// MigrationStatus logs the status of all migrations.
func MigrationStatus(ctx context.Context, log *slog.Logger, cfg Config) error {
	return withGoose(log, cfg, func(db *sql.DB) error {
		return goose.StatusContext(ctx, db, migrationsDir)
	})
}

func withGoose(log *slog.Logger, cfg Config, fn func(db *sql.DB) error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	db := clickhouse.OpenDB(cfg.options())
	defer db.Close()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(distributor.ClickHouseMigrationsFS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}
