package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// newTestPool connects to TEST_DATABASE_URL, migrates, and truncates the tables.
// Tests are skipped in short mode or when no database is configured.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, Migrate(nil, connString, "up", nil))

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err, "Failed to connect to test database")
	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")

	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS vehicles (id BIGINT PRIMARY KEY)`)
	require.NoError(t, err)

	cleanup := func() {
		_, err := pool.Exec(ctx, `TRUNCATE vehicle_images, vehicles`)
		require.NoError(t, err)
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		pool.Close()
	})
	return pool
}
