package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/feevault/distributor/pkg/audit"
	"github.com/malbeclabs/feevault/distributor/pkg/clickhouse"
	"github.com/malbeclabs/feevault/distributor/pkg/cranker"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/malbeclabs/feevault/distributor/pkg/metrics"
	"github.com/malbeclabs/feevault/distributor/pkg/postgres"
	"github.com/malbeclabs/feevault/distributor/pkg/registry"
	"github.com/malbeclabs/feevault/distributor/pkg/server"
	"github.com/malbeclabs/feevault/distributor/pkg/store/memstore"
	"github.com/malbeclabs/feevault/distributor/pkg/store/pgstore"
	"github.com/malbeclabs/feevault/distributor/pkg/vesting"
	"github.com/malbeclabs/feevault/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr    = "0.0.0.0:8080"
	defaultCrankSchedule = "@every 10m"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// backend is what both stores provide to the engine, cranker, server and registry.
type backend interface {
	distribution.Store
	cranker.Directory
	cranker.VaultLister
	server.Treasury
	registry.Directory
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logJSONFlag := flag.Bool("log-json", false, "emit JSON log lines (or set LOG_JSON=true)")
	envFileFlag := flag.String("env-file", ".env", "dotenv file to load before reading environment overrides")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP listen address (or set LISTEN_ADDR env var)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "maximum time to wait for in-flight requests during shutdown")
	corsOriginsFlag := flag.StringSlice("cors-origins", nil, "allowed CORS origins (or set CORS_ORIGINS env var, comma separated)")
	crankRateFlag := flag.Int("crank-rate-per-minute", 60, "permissionless crank and fee requests allowed per client IP per minute (0 disables)")
	crankBurstFlag := flag.Int("crank-burst", 10, "burst size for the crank rate limit")

	// Storage
	storeFlag := flag.String("store", "memory", "state store: memory or postgres (or set FEEVAULT_STORE env var)")
	postgresURLFlag := flag.String("postgres-url", "", "PostgreSQL connection URL (or set POSTGRES_URL env var)")
	pgMigrateFlag := flag.Bool("pg-migrate", false, "apply pending PostgreSQL migrations on startup")

	// ClickHouse
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) for the event history (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", clickhouse.DefaultDatabase, "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Registry and chain
	registryFlag := flag.String("registry", "", "registry YAML with pools, vaults and investor directories (or set FEEVAULT_REGISTRY env var)")
	solanaRPCURLFlag := flag.String("solana-rpc-url", "", "Solana RPC URL for vesting streams; empty uses registry schedules (or set SOLANA_RPC_URL env var)")
	streamProgramFlag := flag.String("stream-program", "", "program that must own every stream account")
	positionProgramFlag := flag.String("position-program", solana.SystemProgramID.String(), "program used to derive position addresses")

	// Cranker
	crankScheduleFlag := flag.String("crank-schedule", defaultCrankSchedule, "cron schedule for the built-in cranker")
	crankConcurrencyFlag := flag.Int("crank-concurrency", 4, "vaults cranked concurrently")
	crankDisabledFlag := flag.Bool("crank-disabled", false, "do not run the built-in cranker")

	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	if os.Getenv("LOG_JSON") == "true" {
		*logJSONFlag = true
	}
	log := logger.NewWithConfig(logger.Config{Verbose: *verboseFlag, JSON: *logJSONFlag})

	// Override flags with environment variables if set
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		*listenAddrFlag = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		if err := flag.Set("cors-origins", v); err != nil {
			return fmt.Errorf("invalid CORS_ORIGINS: %w", err)
		}
	}
	if v := os.Getenv("FEEVAULT_STORE"); v != "" {
		*storeFlag = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		*postgresURLFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_ADDR_TCP"); v != "" {
		*clickhouseAddrFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		*clickhouseDatabaseFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_USERNAME"); v != "" {
		*clickhouseUsernameFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		*clickhousePasswordFlag = v
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}
	if v := os.Getenv("FEEVAULT_REGISTRY"); v != "" {
		*registryFlag = v
	}
	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		*solanaRPCURLFlag = v
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Release:     version,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized")
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx, log, *storeFlag, *postgresURLFlag, *pgMigrateFlag)
	if err != nil {
		return err
	}
	defer closeStore()

	// Vesting schedules come from chain when an RPC URL is configured, otherwise from the registry.
	var (
		source       vesting.Source
		staticSource *vesting.StaticSource
	)
	if *solanaRPCURLFlag != "" {
		var owner solana.PublicKey
		if *streamProgramFlag != "" {
			if owner, err = solana.PublicKeyFromBase58(*streamProgramFlag); err != nil {
				return fmt.Errorf("invalid --stream-program: %w", err)
			}
		}
		rpcSource, err := vesting.NewRPCSource(vesting.RPCSourceConfig{
			Logger: log,
			RPC:    solanarpc.New(*solanaRPCURLFlag),
			Owner:  owner,
		})
		if err != nil {
			return fmt.Errorf("failed to create vesting source: %w", err)
		}
		source = rpcSource
		log.Info("vesting: reading streams from chain", "rpc_url", *solanaRPCURLFlag)
	} else {
		staticSource = vesting.NewStaticSource()
		source = staticSource
	}

	positionProgram, err := solana.PublicKeyFromBase58(*positionProgramFlag)
	if err != nil {
		return fmt.Errorf("invalid --position-program: %w", err)
	}

	sinks := audit.Multi{audit.NewLogSink(log)}
	var history server.History
	if *clickhouseAddrFlag != "" {
		chClient, err := clickhouse.NewClient(ctx, log, clickhouse.Config{
			Addr:     *clickhouseAddrFlag,
			Database: *clickhouseDatabaseFlag,
			Username: *clickhouseUsernameFlag,
			Password: *clickhousePasswordFlag,
			Secure:   *clickhouseSecureFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create clickhouse client: %w", err)
		}
		defer chClient.Close()

		chSink, err := audit.NewClickHouseSink(audit.ClickHouseSinkConfig{
			Logger:     log,
			ClickHouse: chClient,
		})
		if err != nil {
			return fmt.Errorf("failed to create clickhouse sink: %w", err)
		}
		sinks = append(sinks, chSink)
		history = chSink
	}

	pools := distribution.NewStaticPools()
	clock := clockwork.NewRealClock()
	engine, err := distribution.NewEngine(distribution.EngineConfig{
		Logger:    log,
		Clock:     clock,
		Store:     store,
		Vesting:   source,
		Pools:     pools,
		Positions: distribution.DerivedPositions{ProgramID: positionProgram},
		Events:    sinks,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if *registryFlag != "" {
		reg, err := registry.Load(*registryFlag)
		if err != nil {
			return err
		}
		if err := reg.Apply(ctx, registry.ApplyConfig{
			Logger:    log,
			Engine:    engine,
			Directory: store,
			Vesting:   staticSource,
			Pools:     pools,
		}); err != nil {
			return fmt.Errorf("failed to apply registry: %w", err)
		}
		log.Info("registry loaded", "path", *registryFlag, "pools", len(reg.Pools), "vaults", len(reg.Vaults))
	}

	srvCfg := server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		Engine:          engine,
		Treasury:        store,
		History:         history,
		CORSOrigins:     *corsOriginsFlag,
		Clock:           clock,
		ErrorReporter:   func(err error) { sentry.CaptureException(err) },
	}
	if *crankRateFlag > 0 {
		srvCfg.CrankRateLimit = rate.Every(time.Minute / time.Duration(*crankRateFlag))
		srvCfg.CrankBurst = *crankBurstFlag
	}

	if !*crankDisabledFlag {
		c, err := cranker.New(cranker.Config{
			Logger:      log,
			Clock:       clock,
			Engine:      engine,
			Directory:   store,
			Vaults:      store,
			Schedule:    *crankScheduleFlag,
			Concurrency: *crankConcurrencyFlag,
			ErrorReporter: func(vault solana.PublicKey, err error) {
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("vault", vault.String())
					sentry.CaptureException(err)
				})
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create cranker: %w", err)
		}
		if err := c.Start(ctx); err != nil {
			return err
		}
		srvCfg.Ready = c
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info("feevault stopped")
	return nil
}

func openStore(ctx context.Context, log *slog.Logger, kind, postgresURL string, migrate bool) (backend, func(), error) {
	switch kind {
	case "memory":
		log.Warn("store: using in-memory state; nothing survives a restart")
		return memstore.New(), func() {}, nil
	case "postgres":
		if postgresURL == "" {
			conn := postgres.ConnConfig{
				Host:     os.Getenv("PG_HOST"),
				Port:     os.Getenv("PG_PORT"),
				Database: os.Getenv("PG_DATABASE"),
				Username: os.Getenv("PG_USERNAME"),
				Password: os.Getenv("PG_PASSWORD"),
				SSLMode:  os.Getenv("PG_SSLMODE"),
			}
			if err := conn.Validate(); err != nil {
				return nil, nil, fmt.Errorf("--postgres-url or PG_* settings are required for --store=postgres: %w", err)
			}
			postgresURL = conn.ConnString()
		}
		if migrate {
			if err := postgres.Up(ctx, log, postgresURL); err != nil {
				return nil, nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{ConnString: postgresURL})
		if err != nil {
			return nil, nil, err
		}
		store, err := pgstore.New(pgstore.Config{Logger: log, Pool: pool})
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("store: using postgres")
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q: expected memory or postgres", kind)
}
