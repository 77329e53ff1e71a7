package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/malbeclabs/feevault/distributor/pkg/clickhouse"
)

type ResetEventsConfig struct {
	DryRun bool
	// Yes skips the interactive confirmation.
	Yes bool
	In  io.Reader
	Out io.Writer
}

type chObject struct {
	name string
	view bool
}

// ResetEventHistory drops the feevault event tables and views, plus the goose version table, so
// the next --clickhouse-migrate recreates them empty.
func ResetEventHistory(ctx context.Context, log *slog.Logger, chCfg clickhouse.Config, cfg ResetEventsConfig) error {
	if err := chCfg.Validate(); err != nil {
		return err
	}
	client, err := clickhouse.NewClient(ctx, log, chCfg)
	if err != nil {
		return err
	}
	defer client.Close()
	conn, err := client.Conn(ctx)
	if err != nil {
		return err
	}

	rows, err := conn.Query(ctx, `
		SELECT name, toBool(engine IN ('View', 'MaterializedView')) AS is_view
		FROM system.tables
		WHERE database = ?
		  AND (name LIKE '%feevault%' OR name = 'goose_db_version')
		ORDER BY is_view DESC, name`, chCfg.Database)
	if err != nil {
		return fmt.Errorf("failed to list event tables: %w", err)
	}
	var objects []chObject
	for rows.Next() {
		var o chObject
		if err := rows.Scan(&o.name, &o.view); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan event table: %w", err)
		}
		objects = append(objects, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	out := cfg.Out
	if len(objects) == 0 {
		fmt.Fprintln(out, "No feevault tables found")
		return nil
	}
	fmt.Fprintf(out, "Database %q: the following will be dropped\n", chCfg.Database)
	for _, o := range objects {
		kind := "table"
		if o.view {
			kind = "view"
		}
		fmt.Fprintf(out, "  %-5s %s\n", kind, o.name)
	}
	if cfg.DryRun {
		fmt.Fprintln(out, "[DRY RUN] nothing dropped")
		return nil
	}
	if !cfg.Yes && !confirm(cfg.In, out) {
		fmt.Fprintln(out, "Cancelled")
		return nil
	}

	// Views sort first so they go before the tables they read from.
	for _, o := range objects {
		stmt := "DROP TABLE IF EXISTS " + o.name
		if o.view {
			stmt = "DROP VIEW IF EXISTS " + o.name
		}
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop %s: %w", o.name, err)
		}
		log.Info("clickhouse: dropped", "name", o.name, "view", o.view)
	}
	fmt.Fprintf(out, "Dropped %d object(s)\n", len(objects))
	return nil
}

func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "This cannot be undone. Type 'yes' to continue: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}
