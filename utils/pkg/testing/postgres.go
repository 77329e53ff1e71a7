package feetesting

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/feevault/distributor/pkg/postgres"
	postgrestesting "github.com/malbeclabs/feevault/distributor/pkg/postgres/testing"
	"github.com/stretchr/testify/require"
)

// NewPostgres creates a fresh database on the shared container, applies migrations and returns a pool for it.
func NewPostgres(t *testing.T, db *postgrestesting.DB) *pgxpool.Pool {
	connStr := postgrestesting.NewTestDatabase(t, db)

	err := postgres.Up(t.Context(), NewLogger(), connStr)
	require.NoError(t, err)

	pool, err := postgres.NewPool(t.Context(), postgres.PoolConfig{ConnString: connStr})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
