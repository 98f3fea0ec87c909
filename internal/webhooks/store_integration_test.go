package webhooks_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/webhooks"
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

func insertTestEvent(t *testing.T, pool *database.Pool, store *webhooks.Store, source webhooks.Source, topic, externalID string, rejected bool) webhooks.InboundEvent {
	t.Helper()
	e := webhooks.InboundEvent{
		ID:         uuid.New(),
		Source:     source,
		Topic:      topic,
		ExternalID: externalID,
		Payload:    []byte(`{"id":"` + externalID + `"}`),
		Rejected:   rejected,
		ReceivedAt: time.Now().UTC(),
	}
	_, err := store.InsertEvent(context.Background(), pool, &e)
	require.NoError(t, err)
	return e
}

func TestStore_InsertAndListEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := webhooks.NewStore()
	ctx := context.Background()

	insertTestEvent(t, pool, store, webhooks.SourceShopify, "orders/create", "1001", false)
	insertTestEvent(t, pool, store, webhooks.SourceShopify, "orders/updated", "1001", false)
	insertTestEvent(t, pool, store, webhooks.SourceStripe, "charge.succeeded", "ch_1", false)
	insertTestEvent(t, pool, store, webhooks.SourceShopify, "orders/create", "1002", true)

	shopify := webhooks.SourceShopify
	events, err := store.ListEvents(ctx, pool, webhooks.ListEventsParams{Source: &shopify})
	require.NoError(t, err)
	assert.Len(t, events, 3)

	topic := "orders/create"
	events, err = store.ListEvents(ctx, pool, webhooks.ListEventsParams{Source: &shopify, Topic: &topic})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	extID := "ch_1"
	events, err = store.ListEvents(ctx, pool, webhooks.ListEventsParams{ExternalID: &extID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, webhooks.SourceStripe, events[0].Source)
	assert.JSONEq(t, `{"id":"ch_1"}`, string(events[0].Payload))
}

func TestStore_InsertEventBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := webhooks.NewStore()
	ctx := context.Background()

	batch := make([]webhooks.InboundEvent, 0, 25)
	for i := 0; i < 25; i++ {
		batch = append(batch, webhooks.InboundEvent{
			ID:         uuid.New(),
			Source:     webhooks.SourceStripe,
			Topic:      "payment_intent.succeeded",
			ExternalID: uuid.NewString(),
			Payload:    []byte(`{}`),
			ReceivedAt: time.Now().UTC(),
		})
	}
	require.NoError(t, store.InsertEventBatch(ctx, pool, batch))

	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM inbound_events").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 25, count)
}

func TestStore_Stats(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := webhooks.NewStore()
	ctx := context.Background()

	e1 := insertTestEvent(t, pool, store, webhooks.SourceShopify, "orders/create", "1001", false)
	insertTestEvent(t, pool, store, webhooks.SourceStripe, "charge.succeeded", "ch_1", false)
	insertTestEvent(t, pool, store, webhooks.SourceStripe, "charge.failed", "ch_2", true)

	require.NoError(t, store.InsertFailure(ctx, pool, &webhooks.EventFailure{
		EventID:    e1.ID,
		Source:     e1.Source,
		Topic:      e1.Topic,
		ExternalID: e1.ExternalID,
		Error:      "order reconciliation failed",
	}))

	stats, err := store.GetStats(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(3), stats.Today)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(1), stats.BySource[webhooks.SourceShopify])
	assert.Equal(t, int64(2), stats.BySource[webhooks.SourceStripe])
	assert.Equal(t, int64(1), stats.OpenFailures)
	assert.Equal(t, int64(1), stats.TotalFailures)
}

func TestStore_FailedEventsLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := webhooks.NewStore()
	ctx := context.Background()

	failed := insertTestEvent(t, pool, store, webhooks.SourceShopify, "orders/create", "1001", false)
	rejected := insertTestEvent(t, pool, store, webhooks.SourceShopify, "orders/create", "1002", true)
	insertTestEvent(t, pool, store, webhooks.SourceShopify, "orders/create", "1003", false)

	for _, e := range []webhooks.InboundEvent{failed, rejected} {
		require.NoError(t, store.InsertFailure(ctx, pool, &webhooks.EventFailure{
			EventID: e.ID, Source: e.Source, Topic: e.Topic, ExternalID: e.ExternalID, Error: "boom",
		}))
	}

	since := time.Now().UTC().Add(-time.Hour)

	// Rejected events never come back for replay, even with open failures.
	events, err := store.ListFailedEvents(ctx, pool, since, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, failed.ID, events[0].ID)

	require.NoError(t, store.MarkFailuresResolved(ctx, pool, failed.ID))

	events, err = store.ListFailedEvents(ctx, pool, since, 100)
	require.NoError(t, err)
	assert.Empty(t, events)

	stats, err := store.GetStats(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.OpenFailures)
	assert.Equal(t, int64(2), stats.TotalFailures)
}
