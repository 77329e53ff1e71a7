package cranker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/malbeclabs/feevault/distributor/pkg/metrics"
	"github.com/malbeclabs/feevault/utils/pkg/retry"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Engine is the part of the distribution engine the cranker drives.
type Engine interface {
	Crank(ctx context.Context, req distribution.CrankRequest) (*distribution.CrankResult, error)
	Progress(ctx context.Context, vault solana.PublicKey) (*distribution.Progress, error)
	Now() int64
}

// Directory returns each vault's ordered investor list.
type Directory interface {
	Investors(ctx context.Context, vault solana.PublicKey) ([]distribution.PageEntry, error)
}

// VaultLister lists the vaults to crank.
type VaultLister interface {
	Vaults(ctx context.Context) ([]solana.PublicKey, error)
}

type Config struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Engine      Engine
	Directory   Directory
	Vaults      VaultLister
	Schedule    string
	Concurrency int
	PageSize    int
	Retry       retry.Config

	// ErrorReporter receives every failed vault run. Optional.
	ErrorReporter func(vault solana.PublicKey, err error)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Directory == nil {
		return errors.New("investor directory is required")
	}
	if cfg.Vaults == nil {
		return errors.New("vault lister is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PageSize <= 0 || cfg.PageSize > distribution.MaxPageSize {
		cfg.PageSize = distribution.MaxPageSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Pages splits investors into consecutive pages of at most size entries.
func Pages(investors []distribution.PageEntry, size int) [][]distribution.PageEntry {
	if size <= 0 {
		size = distribution.MaxPageSize
	}
	pages := make([][]distribution.PageEntry, 0, (len(investors)+size-1)/size)
	for start := 0; start < len(investors); start += size {
		end := min(start+size, len(investors))
		pages = append(pages, investors[start:end])
	}
	return pages
}

// VaultRun describes what one run did for one vault.
type VaultRun struct {
	Vault       solana.PublicKey
	Skipped     bool
	Pages       int
	DayClosed   bool
	Distributed uint64
	Creator     uint64
}

// Cranker periodically walks every vault through its distribution day.
type Cranker struct {
	log *slog.Logger
	cfg Config

	runMu     sync.Mutex
	readyOnce sync.Once
	readyCh   chan struct{}
}

func New(cfg Config) (*Cranker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Cranker{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
	}, nil
}

// Ready reports whether the first run has finished.
func (c *Cranker) Ready() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

func (c *Cranker) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for cranker: %w", ctx.Err())
	}
}

// Start runs once immediately and then on the configured schedule until ctx is done.
func (c *Cranker) Start(ctx context.Context) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(c.cfg.Schedule, func() { c.safeRun(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cranker: %w", err)
	}

	go func() {
		c.log.Info("cranker: starting", "schedule", c.cfg.Schedule, "concurrency", c.cfg.Concurrency)
		c.safeRun(ctx)
		scheduler.Start()
		<-ctx.Done()
		<-scheduler.Stop().Done()
		c.log.Info("cranker: stopped")
	}()
	return nil
}

func (c *Cranker) safeRun(ctx context.Context) {
	defer c.readyOnce.Do(func() { close(c.readyCh) })
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cranker: run panicked", "panic", r)
			metrics.CrankerRunTotal.WithLabelValues("panic").Inc()
		}
	}()

	if ctx.Err() != nil {
		return
	}
	if _, err := c.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("cranker: run failed", "error", err)
	}
}

// RunOnce processes every vault whose day is open or due. Vault failures are joined into the
// returned error; other vaults still run.
func (c *Cranker) RunOnce(ctx context.Context) ([]VaultRun, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	start := c.cfg.Clock.Now()
	defer func() {
		metrics.CrankerRunDuration.Observe(c.cfg.Clock.Since(start).Seconds())
	}()

	vaults, err := c.cfg.Vaults.Vaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vaults: %w", err)
	}

	runs := make([]VaultRun, len(vaults))
	errs := make([]error, len(vaults))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, vault := range vaults {
		g.Go(func() error {
			run, err := c.runVault(ctx, vault)
			runs[i] = run
			if err != nil {
				metrics.CrankerRunTotal.WithLabelValues("error").Inc()
				c.log.Error("cranker: vault run failed", "vault", vault, "error", err)
				if c.cfg.ErrorReporter != nil {
					c.cfg.ErrorReporter(vault, err)
				}
				errs[i] = fmt.Errorf("vault %s: %w", vault, err)
				return nil
			}
			if run.Skipped {
				metrics.CrankerRunTotal.WithLabelValues("skipped").Inc()
			} else {
				metrics.CrankerRunTotal.WithLabelValues("success").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	var cranked int
	for _, r := range runs {
		if !r.Skipped {
			cranked++
		}
	}
	c.log.Info("cranker: run completed",
		"vaults", len(vaults),
		"cranked", cranked,
		"duration", c.cfg.Clock.Since(start).String())

	return runs, errors.Join(errs...)
}

func (c *Cranker) runVault(ctx context.Context, vault solana.PublicKey) (VaultRun, error) {
	run := VaultRun{Vault: vault}

	progress, err := c.cfg.Engine.Progress(ctx, vault)
	if err != nil {
		return run, fmt.Errorf("failed to load progress: %w", err)
	}
	if progress.Phase(c.cfg.Engine.Now()) == distribution.PhaseWaiting {
		run.Skipped = true
		return run, nil
	}

	investors, err := c.cfg.Directory.Investors(ctx, vault)
	if err != nil {
		return run, fmt.Errorf("failed to load investors: %w", err)
	}
	pages := Pages(investors, c.cfg.PageSize)

	// A directory that shrank mid-day is closed with an empty final page.
	for cursor := int(progress.PaginationCursor); ; cursor++ {
		var page []distribution.PageEntry
		if cursor < len(pages) {
			page = pages[cursor]
		}
		last := cursor >= len(pages)-1
		expected := uint32(cursor)

		res, err := retry.DoValue(ctx, c.retryConfig(vault), func() (*distribution.CrankResult, error) {
			return c.cfg.Engine.Crank(ctx, distribution.CrankRequest{
				Vault:          vault,
				Page:           page,
				IsLastPage:     last,
				ExpectedCursor: &expected,
			})
		})
		if err != nil {
			switch {
			case errors.Is(err, distribution.ErrPaginationStateMismatch):
				c.log.Info("cranker: page already processed elsewhere", "vault", vault, "cursor", cursor)
				return run, nil
			case errors.Is(err, distribution.ErrTooEarlyForDistribution):
				run.Skipped = run.Pages == 0
				return run, nil
			}
			return run, err
		}

		run.Pages++
		run.Distributed += res.TotalDistributed
		run.Creator += res.CreatorAmount
		if res.DayClosed {
			run.DayClosed = true
			return run, nil
		}
	}
}

func (c *Cranker) retryConfig(vault solana.PublicKey) retry.Config {
	cfg := c.cfg.Retry
	cfg.Retryable = func(err error) bool {
		return distribution.KindOf(err) == distribution.KindInternal && retry.IsRetryable(err)
	}
	cfg.OnRetry = func(attempt int, err error) {
		c.log.Warn("cranker: retrying crank", "vault", vault, "attempt", attempt, "error", err)
	}
	return cfg
}

