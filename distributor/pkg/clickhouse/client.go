package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const DefaultDatabase = "default"

// ContextWithSyncInsert disables async inserts on ctx so rows are readable as soon as the
// insert returns.
func ContextWithSyncInsert(ctx context.Context) context.Context {
	return clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"async_insert":                  0,
		"wait_for_async_insert":         1,
		"insert_deduplicate":            0,
		"select_sequential_consistency": 1,
	}))
}

type Client interface {
	Conn(ctx context.Context) (Connection, error)
	Close() error
}

// Connection is the subset of the driver used by the event history. Closing it is a no-op;
// the underlying pool belongs to the Client.
type Connection interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	// Secure enables TLS, as required by ClickHouse Cloud.
	Secure      bool
	DialTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Addr == "" {
		return errors.New("clickhouse addr is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return nil
}

func (cfg Config) options() *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{}
	}
	return opts
}

type pooledClient struct {
	conn driver.Conn
}

// borrowed wraps the shared driver connection so callers can Close it freely.
type borrowed struct {
	driver.Conn
}

func (borrowed) Close() error { return nil }

// NewClient opens a connection pool and pings it.
func NewClient(ctx context.Context, log *slog.Logger, cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := cfg.options()
	opts.Settings = clickhouse.Settings{"max_execution_time": 60}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info("clickhouse: client initialized", "addr", cfg.Addr, "database", cfg.Database, "secure", cfg.Secure)
	return &pooledClient{conn: conn}, nil
}

func (c *pooledClient) Conn(context.Context) (Connection, error) {
	return borrowed{c.conn}, nil
}

func (c *pooledClient) Close() error {
	return c.conn.Close()
}
