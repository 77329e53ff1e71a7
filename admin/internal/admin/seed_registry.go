package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/malbeclabs/feevault/distributor/pkg/registry"
	"github.com/malbeclabs/feevault/distributor/pkg/store/pgstore"
	"github.com/malbeclabs/feevault/distributor/pkg/vesting"
)

type SeedRegistryConfig struct {
	Path            string
	PositionProgram solana.PublicKey
	DryRun          bool
}

// SeedRegistry initializes every vault in the registry file and replaces its investor directory
// in PostgreSQL. Vaults that already exist keep their policy and position.
func SeedRegistry(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, cfg SeedRegistryConfig) error {
	if cfg.Path == "" {
		return errors.New("registry path is required")
	}
	reg, err := registry.Load(cfg.Path)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		for _, v := range reg.Vaults {
			fmt.Printf("[DRY RUN] vault %s: %d investor(s), position=%t\n", v.Policy.Vault, len(v.Investors), v.Position != nil)
		}
		fmt.Printf("[DRY RUN] Would seed %d vault(s) and %d pool(s)\n", len(reg.Vaults), len(reg.Pools))
		return nil
	}

	store, err := pgstore.New(pgstore.Config{Logger: log, Pool: pool})
	if err != nil {
		return err
	}
	program := cfg.PositionProgram
	if program.IsZero() {
		program = solana.SystemProgramID
	}
	pools := distribution.NewStaticPools()
	source := vesting.NewStaticSource()
	engine, err := distribution.NewEngine(distribution.EngineConfig{
		Logger:    log,
		Clock:     clockwork.NewRealClock(),
		Store:     store,
		Vesting:   source,
		Pools:     pools,
		Positions: distribution.DerivedPositions{ProgramID: program},
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if err := reg.Apply(ctx, registry.ApplyConfig{
		Logger:    log,
		Engine:    engine,
		Directory: store,
		Vesting:   source,
		Pools:     pools,
	}); err != nil {
		return err
	}
	log.Info("registry seeded", "path", cfg.Path, "vaults", len(reg.Vaults))
	return nil
}
