package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/malbeclabs/feevault/distributor/pkg/store/pgstore"
)

// VaultStatus is one row of the status report.
type VaultStatus struct {
	Progress *distribution.Progress
	Phase    distribution.Phase
	Balance  uint64
	Accrued  uint64
	Entries  int
}

// LoadVaultStatus reads the distribution state of every vault in PostgreSQL.
func LoadVaultStatus(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, now time.Time) ([]VaultStatus, error) {
	store, err := pgstore.New(pgstore.Config{Logger: log, Pool: pool})
	if err != nil {
		return nil, err
	}
	vaults, err := store.Vaults(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]VaultStatus, len(vaults))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, vault := range vaults {
		g.Go(func() error {
			var st VaultStatus
			err := store.WithTx(gctx, vault, func(ctx context.Context, tx distribution.Tx) error {
				var err error
				st.Progress, err = tx.Progress(ctx)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to load progress for %s: %w", vault, err)
			}
			st.Phase = st.Progress.Phase(now.Unix())
			if st.Balance, st.Accrued, err = store.Treasury(gctx, vault); err != nil {
				return err
			}
			investors, err := store.Investors(gctx, vault)
			if err != nil {
				return err
			}
			st.Entries = len(investors)
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteVaultStatus renders rows as an aligned table.
func WriteVaultStatus(w io.Writer, rows []VaultStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VAULT\tPHASE\tCURSOR\tINVESTORS\tDAY CLAIMED\tDAY DISTRIBUTED\tLIFETIME\tBALANCE\tACCRUED\tLAST DISTRIBUTION")
	for _, r := range rows {
		last := "never"
		if r.Progress.LastDistributionTime > 0 {
			last = time.Unix(r.Progress.LastDistributionTime, 0).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Progress.Vault, r.Phase, r.Progress.PaginationCursor, r.Entries,
			r.Progress.DayClaimed, r.Progress.DailyDistributed, r.Progress.LifetimeClaimed,
			r.Balance, r.Accrued, last)
	}
	return tw.Flush()
}
