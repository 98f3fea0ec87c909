package webhooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-crm/meridian/internal/platform/database"
)

// ReplayParams selects which logged deliveries to re-run.
type ReplayParams struct {
	Source     *Source
	Since      time.Time
	Limit      int
	FailedOnly bool
}

// ReplayReport summarizes one replay run.
type ReplayReport struct {
	Scanned   int `json:"scanned"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type listFailedFunc func(ctx context.Context, since time.Time, limit int) ([]InboundEvent, error)
type resolveFunc func(ctx context.Context, eventID uuid.UUID) error

// Replayer re-runs logged deliveries through the router. Replayed events
// skip signature verification: they were verified when first received and
// the original headers are gone.
type Replayer struct {
	router     *Router
	listFailed listFailedFunc
	listAll    listEventsFunc
	resolve    resolveFunc
}

// NewReplayer creates a replayer backed by the event store.
func NewReplayer(pool *database.Pool, store *Store, router *Router) *Replayer {
	return &Replayer{
		router: router,
		listFailed: func(ctx context.Context, since time.Time, limit int) ([]InboundEvent, error) {
			return store.ListFailedEvents(ctx, pool, since, limit)
		},
		listAll: func(ctx context.Context, p ListEventsParams) ([]InboundEvent, error) {
			return store.ListEvents(ctx, pool, p)
		},
		resolve: func(ctx context.Context, eventID uuid.UUID) error {
			return store.MarkFailuresResolved(ctx, pool, eventID)
		},
	}
}

// Replay routes each selected event again. One event failing does not stop
// the run; reconciliation idempotency makes re-running already-applied
// events safe.
func (r *Replayer) Replay(ctx context.Context, params ReplayParams) (*ReplayReport, error) {
	var events []InboundEvent
	var err error
	if params.FailedOnly {
		events, err = r.listFailed(ctx, params.Since, params.Limit)
	} else {
		events, err = r.listAll(ctx, ListEventsParams{
			Source: params.Source,
			After:  &params.Since,
			Limit:  params.Limit,
		})
	}
	if err != nil {
		return nil, err
	}

	report := &ReplayReport{}
	for _, event := range events {
		report.Scanned++
		if event.Rejected || event.Topic == "" {
			report.Skipped++
			continue
		}
		if params.Source != nil && event.Source != *params.Source {
			report.Skipped++
			continue
		}

		if err := r.routeEvent(ctx, event); err != nil {
			report.Failed++
			slog.Warn("replaying event failed",
				"event_id", event.ID, "source", event.Source, "topic", event.Topic, "error", err)
			continue
		}
		report.Succeeded++
		if params.FailedOnly {
			if err := r.resolve(ctx, event.ID); err != nil {
				slog.Error("resolving replayed event failed", "event_id", event.ID, "error", err)
			}
		}
	}
	return report, nil
}

func (r *Replayer) routeEvent(ctx context.Context, event InboundEvent) error {
	return r.router.Route(ctx, event.Source, event.Topic, json.RawMessage(event.Payload))
}
