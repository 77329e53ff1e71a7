package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/feevault/distributor/pkg/audit"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"golang.org/x/time/rate"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Engine is the distribution engine surface exposed over HTTP.
type Engine interface {
	InitializePolicy(ctx context.Context, params distribution.InitializePolicyParams) (*distribution.Policy, error)
	InitializePosition(ctx context.Context, params distribution.InitializePositionParams) (*distribution.Position, error)
	Crank(ctx context.Context, req distribution.CrankRequest) (*distribution.CrankResult, error)
	Policy(ctx context.Context, vault solana.PublicKey) (*distribution.Policy, error)
	Position(ctx context.Context, vault solana.PublicKey) (*distribution.Position, error)
	Progress(ctx context.Context, vault solana.PublicKey) (*distribution.Progress, error)
	Now() int64
}

// Treasury reads and credits the fees held for each vault.
type Treasury interface {
	AccrueFees(ctx context.Context, vault solana.PublicKey, amount uint64) error
	Treasury(ctx context.Context, vault solana.PublicKey) (balance, accrued uint64, err error)
}

// History serves previously published distribution events.
type History interface {
	Events(ctx context.Context, vault solana.PublicKey, limit int) ([]audit.Record, error)
}

// ReadinessChecker reports whether a background component has finished starting.
type ReadinessChecker interface {
	Ready() bool
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	Engine   Engine
	Treasury Treasury
	History  History          // optional
	Ready    ReadinessChecker // optional

	CORSOrigins []string

	// Clock drives the rate limiter. Defaults to the real clock.
	Clock clockwork.Clock

	// CrankRateLimit bounds permissionless writes per client IP. Zero disables limiting.
	CrankRateLimit rate.Limit
	CrankBurst     int

	// ErrorReporter receives unexpected handler errors. Optional.
	ErrorReporter func(err error)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Treasury == nil {
		return errors.New("treasury is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.CrankRateLimit > 0 && cfg.CrankBurst <= 0 {
		cfg.CrankBurst = 1
	}
	return nil
}
