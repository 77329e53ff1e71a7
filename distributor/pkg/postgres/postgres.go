package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/feevault/distributor"
)

const migrationsDir = "db/postgres/migrations"

// ConnConfig holds PostgreSQL connection settings.
type ConnConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

func (cfg *ConnConfig) Validate() error {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.Database == "" {
		return errors.New("postgres database is required")
	}
	if cfg.Username == "" {
		return errors.New("postgres username is required")
	}
	return nil
}

// ConnString renders the settings as a postgres:// URL.
func (cfg ConnConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.SSLMode),
	}
	return u.String()
}

type PoolConfig struct {
	ConnString      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func (cfg *PoolConfig) Validate() error {
	if cfg.ConnString == "" {
		return errors.New("connection string is required")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	if cfg.MinConns <= 0 {
		cfg.MinConns = 2
	}
	if cfg.MaxConnLifetime <= 0 {
		cfg.MaxConnLifetime = time.Hour
	}
	if cfg.MaxConnIdleTime <= 0 {
		cfg.MaxConnIdleTime = 30 * time.Minute
	}
	return nil
}

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// Up runs all pending migrations.
func Up(ctx context.Context, log *slog.Logger, connString string) error {
	log.Info("postgres: running migrations (up)")
	return withGoose(connString, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("postgres: migrations completed")
		return nil
	})
}

// Down rolls back the last migration.
func Down(ctx context.Context, log *slog.Logger, connString string) error {
	log.Info("postgres: rolling back migration (down)")
	return withGoose(connString, func(db *sql.DB) error {
		if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		return nil
	})
}

// Status logs the status of all migrations.
func Status(ctx context.Context, log *slog.Logger, connString string) error {
	log.Info("postgres: migration status")
	return withGoose(connString, func(db *sql.DB) error {
		if err := goose.StatusContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		return nil
	})
}

func withGoose(connString string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(distributor.PostgresMigrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}
