package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chain-registry/internal/config"
	"github.com/stretchr/testify/require"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testDB connects to TEST_DATABASE_URL, migrates it and empties every table.
// The test is skipped when no database is configured or reachable.
func testDB(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping test - TEST_DATABASE_URL not set")
	}

	db, err := NewPostgresDB(&config.PostgresConfig{
		URL:            url,
		MaxConnections: 5,
		AcquireTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(url, "../../migrations/postgres"))

	_, err = db.Pool().Exec(testContext(t), `TRUNCATE chain_endpoint, endpoint, chain, ingest_run RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return db
}

func countRows(t *testing.T, db *PostgresDB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Pool().QueryRow(testContext(t), "SELECT count(*) FROM "+table).Scan(&n))
	return n
}
