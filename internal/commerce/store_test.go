package commerce_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meridian-crm/meridian/internal/commerce"
	"github.com/meridian-crm/meridian/internal/platform/database"
)

func setupTestDB(t *testing.T) (*database.Pool, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("meridian_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = database.RunMigrations(connStr, "file://../../migrations")
	require.NoError(t, err)

	pool, err := database.Connect(ctx, connStr, 5)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestReconciler_OrderRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	rec := commerce.NewReconciler(pool, commerce.NewStore())
	ctx := context.Background()

	email := "buyer@example.com"
	total := "149.95"
	order, err := rec.ReconcileOrder(ctx, commerce.OrderPatch{
		ExternalID: "5512345",
		Email:      &email,
		TotalPrice: &total,
		LineItems:  []byte(`[{"sku":"WIDGET-1","quantity":2}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, "5512345", order.ExternalID)
	assert.Equal(t, "buyer@example.com", order.Email)
	assert.Equal(t, "149.95", order.TotalPrice)
	assert.NotZero(t, order.ID)
	assert.False(t, order.LastSyncedAt.IsZero())

	// Partial update leaves other columns alone.
	status := "paid"
	paidAt := time.Now().UTC().Truncate(time.Second)
	updated, err := rec.ReconcileOrder(ctx, commerce.OrderPatch{
		ExternalID:      "5512345",
		FinancialStatus: &status,
		PaidAt:          &paidAt,
	})
	require.NoError(t, err)
	assert.Equal(t, order.ID, updated.ID)
	assert.Equal(t, "paid", updated.FinancialStatus)
	assert.Equal(t, "buyer@example.com", updated.Email)
	assert.Equal(t, "149.95", updated.TotalPrice)
	require.NotNil(t, updated.PaidAt)
	assert.WithinDuration(t, paidAt, *updated.PaidAt, time.Second)
	assert.JSONEq(t, `[{"sku":"WIDGET-1","quantity":2}]`, string(updated.LineItems))

	// Same patch twice still yields one row.
	again, err := rec.ReconcileOrder(ctx, commerce.OrderPatch{
		ExternalID:      "5512345",
		FinancialStatus: &status,
	})
	require.NoError(t, err)
	assert.Equal(t, order.ID, again.ID)

	var count int
	err = pool.QueryRow(ctx, "SELECT COUNT(*) FROM commerce_orders").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReconciler_CustomerSoftDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	rec := commerce.NewReconciler(pool, commerce.NewStore())
	ctx := context.Background()

	email := "pat@example.com"
	first := "Pat"
	_, err := rec.ReconcileCustomer(ctx, commerce.CustomerPatch{
		ExternalID: "9001",
		Email:      &email,
		FirstName:  &first,
	})
	require.NoError(t, err)

	deleted, err := rec.SoftDeleteCustomer(ctx, "9001")
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, "pat@example.com", deleted.Email)

	// A later update resurrects the record.
	last := "Jones"
	revived, err := rec.ReconcileCustomer(ctx, commerce.CustomerPatch{
		ExternalID: "9001",
		LastName:   &last,
	})
	require.NoError(t, err)
	assert.Nil(t, revived.DeletedAt)
	assert.Equal(t, "Jones", revived.LastName)
	assert.Equal(t, "pat@example.com", revived.Email)
}

func TestReconciler_ProductTombstone(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	rec := commerce.NewReconciler(pool, commerce.NewStore())
	ctx := context.Background()

	// Delete for a product never seen before still leaves a tombstone.
	tomb, err := rec.SoftDeleteProduct(ctx, "77100")
	require.NoError(t, err)
	assert.Equal(t, "77100", tomb.ExternalID)
	require.NotNil(t, tomb.DeletedAt)

	var count int
	err = pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM commerce_products WHERE external_id = $1 AND deleted_at IS NOT NULL", "77100").
		Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
