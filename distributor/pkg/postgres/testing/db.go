package postgrestesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/malbeclabs/feevault/utils/pkg/retry"
)

const (
	defaultImage    = "postgres:16-alpine"
	defaultDatabase = "feevault"
	defaultUser     = "feevault"
	defaultPassword = "feevault"
)

var startRetry = retry.Config{
	MaxAttempts: 3,
	BaseBackoff: 750 * time.Millisecond,
	MaxBackoff:  3 * time.Second,
	Retryable:   retry.MatchAny("wait until ready", "mapped port", "timeout", "deadline exceeded"),
}

// DBConfig selects the image the container runs. Empty fields take defaults.
type DBConfig struct {
	Image string
}

// DB is a PostgreSQL container shared by the tests of one package.
type DB struct {
	log       *slog.Logger
	connStr   string
	container *tcpostgres.PostgresContainer
}

func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	image := defaultImage
	if cfg != nil && cfg.Image != "" {
		image = cfg.Image
	}

	container, err := retry.DoValue(ctx, startRetry, func() (*tcpostgres.PostgresContainer, error) {
		return tcpostgres.Run(ctx, image,
			tcpostgres.WithDatabase(defaultDatabase),
			tcpostgres.WithUsername(defaultUser),
			tcpostgres.WithPassword(defaultPassword),
			tcpostgres.WithSQLDriver("pgx"),
			testcontainers.WithWaitStrategy(WaitForPostgres()),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to build postgres connection string: %w", err)
	}
	return &DB{log: log, connStr: connStr, container: container}, nil
}

// ConnStr points at the container's default database.
func (db *DB) ConnStr() string { return db.connStr }

func (db *DB) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(ctx); err != nil {
		db.log.Error("failed to terminate postgres container", "error", err)
	}
}

// NewTestDatabase creates a uniquely named database and returns its connection string.
// The database is dropped when the test ends.
func NewTestDatabase(t *testing.T, db *DB) string {
	ctx := t.Context()
	name := "feevault_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	root, err := pgx.Connect(ctx, db.connStr)
	require.NoError(t, err)
	_, err = root.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := root.Exec(ctx, "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)"); err != nil {
			db.log.Error("failed to drop test database", "database", name, "error", err)
		}
		_ = root.Close(ctx)
	})

	cfg, err := pgx.ParseConfig(db.connStr)
	require.NoError(t, err)
	return strings.Replace(db.connStr, "/"+cfg.Database+"?", "/"+name+"?", 1)
}

// WaitForPostgres waits for the second ready line; the first one is logged before init scripts run.
func WaitForPostgres() *wait.LogStrategy {
	return wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(60 * time.Second)
}
