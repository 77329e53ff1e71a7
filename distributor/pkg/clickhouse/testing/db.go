package clickhousetesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/malbeclabs/feevault/distributor/pkg/clickhouse"
	"github.com/malbeclabs/feevault/utils/pkg/retry"
)

const (
	defaultImage    = "clickhouse/clickhouse-server:latest"
	defaultDatabase = "test"
	defaultUser     = "default"
	defaultPassword = "password"
	nativePort      = nat.Port("9000/tcp")
)

var (
	startRetry = retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 750 * time.Millisecond,
		MaxBackoff:  3 * time.Second,
		Retryable:   retry.MatchAny("wait until ready", "mapped port", "timeout", "deadline exceeded"),
	}
	dialRetry = retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		Retryable:   retry.MatchAny("handshake", "packet", "failed to ping", "connection refused", "connection reset", "dial tcp", "timeout"),
	}
)

// DBConfig selects the image the container runs. Empty fields take defaults.
type DBConfig struct {
	Image string
}

// DB is a ClickHouse container shared by the tests of one package. Each test gets its own
// database on it through NewTestClientWithInfo.
type DB struct {
	log       *slog.Logger
	addr      string
	container *tcch.ClickHouseContainer
}

func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	image := defaultImage
	if cfg != nil && cfg.Image != "" {
		image = cfg.Image
	}

	container, err := retry.DoValue(ctx, startRetry, func() (*tcch.ClickHouseContainer, error) {
		return tcch.Run(ctx, image,
			tcch.WithDatabase(defaultDatabase),
			tcch.WithUsername(defaultUser),
			tcch.WithPassword(defaultPassword),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start clickhouse container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve clickhouse host: %w", err)
	}
	port, err := container.MappedPort(ctx, nativePort)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve clickhouse port: %w", err)
	}
	return &DB{log: log, addr: host + ":" + port.Port(), container: container}, nil
}

// Addr is the native protocol address of the container.
func (db *DB) Addr() string { return db.addr }

// MigrationConfig returns a client config bound to database on this container.
func (db *DB) MigrationConfig(database string) clickhouse.Config {
	return clickhouse.Config{
		Addr:     db.addr,
		Database: database,
		Username: defaultUser,
		Password: defaultPassword,
	}
}

func (db *DB) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(ctx); err != nil {
		db.log.Error("failed to terminate clickhouse container", "error", err)
	}
}

// TestClientInfo is a client bound to a per-test database.
type TestClientInfo struct {
	Client   clickhouse.Client
	Database string
}

// NewTestClientWithInfo creates a uniquely named database and a client bound to it.
// The database is dropped when the test ends.
func NewTestClientWithInfo(t *testing.T, db *DB) (*TestClientInfo, error) {
	ctx := t.Context()
	connect := func(database string) (clickhouse.Client, error) {
		return retry.DoValue(ctx, dialRetry, func() (clickhouse.Client, error) {
			return clickhouse.NewClient(ctx, db.log, db.MigrationConfig(database))
		})
	}

	root, err := connect(defaultDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	rootConn, err := root.Conn(ctx)
	require.NoError(t, err)

	name := "feevault_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, clickhouse.CreateDatabase(ctx, db.log, rootConn, name))

	client, err := connect(name)
	if err != nil {
		root.Close()
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rootConn.Exec(ctx, "DROP DATABASE IF EXISTS "+name); err != nil {
			db.log.Error("failed to drop test database", "database", name, "error", err)
		}
		client.Close()
		root.Close()
	})
	return &TestClientInfo{Client: client, Database: name}, nil
}
