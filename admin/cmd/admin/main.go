package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/feevault/admin/internal/admin"
	"github.com/malbeclabs/feevault/distributor/pkg/clickhouse"
	"github.com/malbeclabs/feevault/distributor/pkg/postgres"
	"github.com/malbeclabs/feevault/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// PostgreSQL configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set PG_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "PostgreSQL port (or set PG_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "feevault", "PostgreSQL database (or set PG_DATABASE env var)")
	pgUsernameFlag := flag.String("pg-username", "feevault", "PostgreSQL username (or set PG_USERNAME env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set PG_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode (or set PG_SSLMODE env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL migrations using goose")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL migration status")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse event history migrations using goose")
	clickhouseMigrateDownFlag := flag.Bool("clickhouse-migrate-down", false, "Roll back the last ClickHouse migration")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show ClickHouse migration status")
	resetEventsFlag := flag.Bool("reset-events", false, "Drop the feevault event history tables from ClickHouse")
	seedRegistryFlag := flag.String("seed-registry", "", "Initialize the vaults and investor directories in the given registry YAML")
	vaultStatusFlag := flag.Bool("vault-status", false, "Print the distribution state of every vault")

	// Options
	positionProgramFlag := flag.String("position-program", solana.SystemProgramID.String(), "Program used to derive position addresses when seeding")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	// A missing .env is fine.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)
	ctx := context.Background()

	// Override flags with environment variables if set
	overrides := map[string]*string{
		"PG_HOST":             pgHostFlag,
		"PG_PORT":             pgPortFlag,
		"PG_DATABASE":         pgDatabaseFlag,
		"PG_USERNAME":         pgUsernameFlag,
		"PG_PASSWORD":         pgPasswordFlag,
		"PG_SSLMODE":          pgSSLModeFlag,
		"CLICKHOUSE_ADDR_TCP": clickhouseAddrFlag,
		"CLICKHOUSE_DATABASE": clickhouseDatabaseFlag,
		"CLICKHOUSE_USERNAME": clickhouseUsernameFlag,
		"CLICKHOUSE_PASSWORD": clickhousePasswordFlag,
	}
	for env, dst := range overrides {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	pgCfg := admin.PgMigrateConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}
	chCfg := clickhouse.Config{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}

	// Execute commands
	if *pgMigrateFlag {
		return admin.PgMigrateUp(ctx, log, pgCfg)
	}
	if *pgMigrateDownFlag {
		return admin.PgMigrateDown(ctx, log, pgCfg)
	}
	if *pgMigrateStatusFlag {
		return admin.PgMigrateStatus(ctx, log, pgCfg)
	}

	if *clickhouseMigrateFlag {
		if *clickhouseAddrFlag == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate")
		}
		return clickhouse.Up(ctx, log, chCfg)
	}
	if *clickhouseMigrateDownFlag {
		if *clickhouseAddrFlag == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-down")
		}
		return clickhouse.Down(ctx, log, chCfg)
	}
	if *clickhouseMigrateStatusFlag {
		if *clickhouseAddrFlag == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-status")
		}
		return clickhouse.MigrationStatus(ctx, log, chCfg)
	}
	if *resetEventsFlag {
		if *clickhouseAddrFlag == "" {
			return fmt.Errorf("--clickhouse-addr is required for --reset-events")
		}
		return admin.ResetEventHistory(ctx, log, chCfg, admin.ResetEventsConfig{
			DryRun: *dryRunFlag,
			Yes:    *yesFlag,
			In:     os.Stdin,
			Out:    os.Stdout,
		})
	}

	if *seedRegistryFlag != "" || *vaultStatusFlag {
		if err := pgCfg.Validate(); err != nil {
			return err
		}
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{ConnString: pgCfg.ConnString()})
		if err != nil {
			return err
		}
		defer pool.Close()

		if *seedRegistryFlag != "" {
			program, err := solana.PublicKeyFromBase58(*positionProgramFlag)
			if err != nil {
				return fmt.Errorf("invalid --position-program: %w", err)
			}
			return admin.SeedRegistry(ctx, log, pool, admin.SeedRegistryConfig{
				Path:            *seedRegistryFlag,
				PositionProgram: program,
				DryRun:          *dryRunFlag,
			})
		}

		rows, err := admin.LoadVaultStatus(ctx, log, pool, time.Now())
		if err != nil {
			return err
		}
		return admin.WriteVaultStatus(os.Stdout, rows)
	}

	flag.Usage()
	return nil
}
