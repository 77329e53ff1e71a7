package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
)

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// Store keeps vault records and treasuries in PostgreSQL.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, pool: cfg.Pool}, nil
}

// WithTx runs fn in one database transaction holding the vault's advisory lock.
func (s *Store) WithTx(ctx context.Context, vault solana.PublicKey, fn func(ctx context.Context, tx distribution.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := pgtx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Warn("pgstore: rollback failed", "vault", vault, "error", err)
		}
	}()

	if _, err := pgtx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, vault.String()); err != nil {
		return fmt.Errorf("failed to lock vault %s: %w", vault, err)
	}

	if err := fn(ctx, &tx{tx: pgtx, vault: vault}); err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Vaults lists every vault that has a policy.
func (s *Store) Vaults(ctx context.Context) ([]solana.PublicKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT vault_id FROM vault_records WHERE kind = $1 ORDER BY vault_id`, string(distribution.RecordPolicy))
	if err != nil {
		return nil, fmt.Errorf("failed to query vaults: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan vaults: %w", err)
	}
	out := make([]solana.PublicKey, 0, len(ids))
	for _, id := range ids {
		pk, err := solana.PublicKeyFromBase58(id)
		if err != nil {
			return nil, fmt.Errorf("invalid vault id %q: %w", id, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

type tx struct {
	tx    pgx.Tx
	vault solana.PublicKey
}

func (t *tx) getRecord(ctx context.Context, kind distribution.RecordKind, dst any) (int64, error) {
	var payload []byte
	var version int64
	err := t.tx.QueryRow(ctx,
		`SELECT payload, version FROM vault_records WHERE vault_id = $1 AND kind = $2`,
		t.vault.String(), string(kind),
	).Scan(&payload, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", distribution.ErrRecordNotFound, distribution.KeyFor(t.vault, kind))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", kind, err)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return version, nil
}

func (t *tx) insertRecord(ctx context.Context, kind distribution.RecordKind, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	key := distribution.KeyFor(t.vault, kind)
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO vault_records (record_id, vault_id, kind, payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (vault_id, kind) DO NOTHING`,
		key.ID(), t.vault.String(), string(kind), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", distribution.ErrRecordExists, key)
	}
	return nil
}

func (t *tx) Policy(ctx context.Context) (*distribution.Policy, error) {
	var p distribution.Policy
	if _, err := t.getRecord(ctx, distribution.RecordPolicy, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) InsertPolicy(ctx context.Context, policy *distribution.Policy) error {
	return t.insertRecord(ctx, distribution.RecordPolicy, policy)
}

func (t *tx) Progress(ctx context.Context) (*distribution.Progress, error) {
	var p distribution.Progress
	version, err := t.getRecord(ctx, distribution.RecordProgress, &p)
	if err != nil {
		return nil, err
	}
	p.Version = uint64(version)
	return &p, nil
}

func (t *tx) InsertProgress(ctx context.Context, progress *distribution.Progress) error {
	p := *progress
	p.Version = 1
	return t.insertRecord(ctx, distribution.RecordProgress, &p)
}

func (t *tx) UpdateProgress(ctx context.Context, progress *distribution.Progress) error {
	p := *progress
	p.Version++
	payload, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE vault_records
		 SET payload = $3, version = version + 1, updated_at = now()
		 WHERE vault_id = $1 AND kind = $2 AND version = $4`,
		t.vault.String(), string(distribution.RecordProgress), payload, int64(progress.Version),
	)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("progress version conflict for %s at version %d", t.vault, progress.Version)
	}
	progress.Version = p.Version
	return nil
}

func (t *tx) Position(ctx context.Context) (*distribution.Position, error) {
	var p distribution.Position
	if _, err := t.getRecord(ctx, distribution.RecordPosition, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) InsertPosition(ctx context.Context, position *distribution.Position) error {
	return t.insertRecord(ctx, distribution.RecordPosition, position)
}

func (t *tx) Custodian() distribution.FeeCustodian {
	return &custodian{tx: t.tx, vault: t.vault}
}
