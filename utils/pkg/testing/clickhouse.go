package feetesting

import (
	"testing"

	"github.com/malbeclabs/feevault/distributor/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/feevault/distributor/pkg/clickhouse/testing"
	"github.com/stretchr/testify/require"
)

// ClickHouseInfo holds a migrated test client and its database name.
type ClickHouseInfo struct {
	Client   clickhouse.Client
	Database string
}

// NewClickHouse creates a fresh database on the shared container and applies the audit migrations.
func NewClickHouse(t *testing.T, db *clickhousetesting.DB) *ClickHouseInfo {
	info, err := clickhousetesting.NewTestClientWithInfo(t, db)
	require.NoError(t, err)

	err = clickhouse.Up(t.Context(), NewLogger(), db.MigrationConfig(info.Database))
	require.NoError(t, err)

	return &ClickHouseInfo{
		Client:   info.Client,
		Database: info.Database,
	}
}
