package webhooks

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeQuerier struct {
	mu    sync.Mutex
	execs []execCall
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) calls() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.execs...)
}

func testEvent(topic string) InboundEvent {
	return InboundEvent{
		ID:         uuid.New(),
		Source:     SourceShopify,
		Topic:      topic,
		Payload:    json.RawMessage(`{"id": 1}`),
		ReceivedAt: time.Now().UTC(),
	}
}

func TestAsyncRecorder_FlushesOnBatchSize(t *testing.T) {
	db := &fakeQuerier{}
	recorder := NewAsyncRecorder(db, NewStore(), RecorderConfig{
		BufferSize:    16,
		BatchSize:     2,
		FlushInterval: time.Hour,
	})
	defer recorder.Close()

	ctx := context.Background()
	recorder.Record(ctx, testEvent("orders/create"))
	recorder.Record(ctx, testEvent("orders/updated"))

	require.Eventually(t, func() bool {
		return len(db.calls()) == 1
	}, time.Second, 10*time.Millisecond)

	call := db.calls()[0]
	assert.True(t, strings.HasPrefix(call.sql, "INSERT INTO inbound_events"))
	assert.Len(t, call.args, 14)
}

func TestAsyncRecorder_CloseDrainsBuffer(t *testing.T) {
	db := &fakeQuerier{}
	recorder := NewAsyncRecorder(db, NewStore(), RecorderConfig{
		BufferSize:    16,
		BatchSize:     100,
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	recorder.Record(ctx, testEvent("orders/create"))
	recorder.Record(ctx, testEvent("customers/create"))
	recorder.Record(ctx, testEvent("products/create"))

	require.NoError(t, recorder.Close())

	calls := db.calls()
	require.NotEmpty(t, calls)
	total := 0
	for _, call := range calls {
		total += len(call.args) / 7
	}
	assert.Equal(t, 3, total)
}

func TestAsyncRecorder_RecordNeverBlocks(t *testing.T) {
	// No worker draining the channel: the second Record must drop, not block.
	recorder := &AsyncRecorder{ch: make(chan InboundEvent, 1)}

	ctx := context.Background()
	recorder.Record(ctx, testEvent("orders/create"))

	done := make(chan struct{})
	go func() {
		recorder.Record(ctx, testEvent("orders/updated"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
	assert.Len(t, recorder.ch, 1)
}

func TestBuildEventBatchInsert(t *testing.T) {
	events := []InboundEvent{testEvent("orders/create"), testEvent("orders/updated")}
	sql, args := buildEventBatchInsert(events)

	assert.Contains(t, sql, "($1, $2, $3, $4, $5, $6, $7)")
	assert.Contains(t, sql, "($8, $9, $10, $11, $12, $13, $14)")
	assert.Len(t, args, 14)
	assert.Equal(t, events[0].ID, args[0])
	assert.Equal(t, events[1].ID, args[7])
}

func TestSyncRecorder_WritesImmediately(t *testing.T) {
	db := &fakeQuerier{}
	recorder := NewSyncRecorder(db, NewStore())

	recorder.Record(context.Background(), testEvent("orders/create"))

	require.Len(t, db.calls(), 1)
	assert.True(t, strings.HasPrefix(db.calls()[0].sql, "INSERT INTO inbound_events"))
}
