package webhooks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/database"
)

// Recorder appends deliveries to the event log. Record is fire-and-forget:
// the webhook response never waits on event log durability.
type Recorder interface {
	Record(ctx context.Context, event InboundEvent)
	Close() error
}

// NopRecorder discards events, for tests.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, InboundEvent) {}
func (NopRecorder) Close() error                         { return nil }

// SyncRecorder writes each event in its own statement. Used when the async
// recorder is disabled by configuration.
type SyncRecorder struct {
	db    database.Querier
	store *Store
}

// NewSyncRecorder creates a synchronous event recorder.
func NewSyncRecorder(db database.Querier, store *Store) *SyncRecorder {
	return &SyncRecorder{db: db, store: store}
}

func (r *SyncRecorder) Record(ctx context.Context, event InboundEvent) {
	if _, err := r.store.InsertEvent(ctx, r.db, &event); err != nil {
		slog.Error("recording inbound event failed", "error", err, "source", event.Source, "topic", event.Topic)
	}
}

func (r *SyncRecorder) Close() error { return nil }

// RecorderConfig configures the async event recorder.
type RecorderConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// AsyncRecorder implements Recorder with a buffered channel and background
// worker flushing batched inserts.
type AsyncRecorder struct {
	ch     chan InboundEvent
	store  *Store
	db     database.Querier
	cfg    RecorderConfig
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewAsyncRecorder creates and starts an async event recorder.
func NewAsyncRecorder(db database.Querier, store *Store, cfg RecorderConfig) *AsyncRecorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &AsyncRecorder{
		ch:     make(chan InboundEvent, cfg.BufferSize),
		store:  store,
		db:     db,
		cfg:    cfg,
		cancel: cancel,
	}

	r.wg.Add(1)
	go r.worker(ctx)

	return r
}

// Record enqueues a delivery. Never blocks the caller — drops if buffer full.
func (r *AsyncRecorder) Record(_ context.Context, event InboundEvent) {
	select {
	case r.ch <- event:
	default:
		slog.Warn("event log buffer full, dropping delivery", "source", event.Source, "topic", event.Topic)
	}
}

// Close flushes remaining events and stops the worker.
func (r *AsyncRecorder) Close() error {
	r.cancel()
	r.wg.Wait()
	r.flush(r.drainAll())
	return nil
}

func (r *AsyncRecorder) worker(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []InboundEvent

	for {
		select {
		case <-ctx.Done():
			batch = append(batch, r.drainAll()...)
			r.flush(batch)
			return

		case e := <-r.ch:
			batch = append(batch, e)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = nil
			}
		}
	}
}

func (r *AsyncRecorder) flush(events []InboundEvent) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.InsertEventBatch(ctx, r.db, events); err != nil {
		slog.Error("event log flush failed", "error", err, "count", len(events))
	}
}

func (r *AsyncRecorder) drainAll() []InboundEvent {
	var events []InboundEvent
	for {
		select {
		case e := <-r.ch:
			events = append(events, e)
		default:
			return events
		}
	}
}
