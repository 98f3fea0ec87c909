package database_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}

func TestRunMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	connStr, cleanup := setupPostgres(t)
	defer cleanup()

	root := findProjectRoot(t)
	migrationsPath := "file://" + filepath.Join(root, "migrations")
	err := database.RunMigrations(connStr, migrationsPath)
	require.NoError(t, err)

	pool, err := database.Connect(context.Background(), connStr, 5)
	require.NoError(t, err)
	defer pool.Close()

	for _, table := range []string{
		"inbound_events",
		"event_failures",
		"commerce_orders",
		"commerce_customers",
		"commerce_products",
		"payment_records",
		"payment_customers",
		"subscriptions",
	} {
		var tableName string
		err = pool.QueryRow(context.Background(),
			"SELECT table_name FROM information_schema.tables WHERE table_name = $1", table).
			Scan(&tableName)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, tableName)
	}
}
