package admin

import (
	"context"
	"log/slog"

	"github.com/malbeclabs/feevault/distributor/pkg/postgres"
)

// PgMigrateConfig holds configuration for PostgreSQL migrations
type PgMigrateConfig = postgres.ConnConfig

// PgMigrateUp runs all pending PostgreSQL migrations
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg PgMigrateConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Info("running PostgreSQL migrations (up)", "host", cfg.Host, "database", cfg.Database)
	if err := postgres.Up(ctx, log, cfg.ConnString()); err != nil {
		return err
	}
	log.Info("PostgreSQL migrations completed")
	return nil
}

// PgMigrateDown rolls back the last PostgreSQL migration
func PgMigrateDown(ctx context.Context, log *slog.Logger, cfg PgMigrateConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Info("rolling back PostgreSQL migration (down)", "host", cfg.Host, "database", cfg.Database)
	if err := postgres.Down(ctx, log, cfg.ConnString()); err != nil {
		return err
	}
	log.Info("PostgreSQL migration rollback completed")
	return nil
}

// PgMigrateStatus shows the status of all PostgreSQL migrations
func PgMigrateStatus(ctx context.Context, log *slog.Logger, cfg PgMigrateConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Info("PostgreSQL migration status")
	return postgres.Status(ctx, log, cfg.ConnString())
}
