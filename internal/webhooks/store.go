package webhooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-crm/meridian/internal/platform/database"
)

// Store handles event log persistence. Event rows are append-only; the
// only mutable state lives in the failures table.
type Store struct{}

// NewStore creates a webhook event store.
func NewStore() *Store {
	return &Store{}
}

// InsertEvent appends one delivery to the event log. IDs and receipt times
// are assigned by the caller so failure rows can reference an event before
// its insert lands.
func (s *Store) InsertEvent(ctx context.Context, q database.Querier, e *InboundEvent) (*InboundEvent, error) {
	_, err := q.Exec(ctx,
		`INSERT INTO inbound_events (id, source, topic, external_id, payload, rejected, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Source, e.Topic, e.ExternalID, e.Payload, e.Rejected, e.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting inbound event: %w", err)
	}
	return e, nil
}

// InsertEventBatch appends a batch of deliveries in one statement.
func (s *Store) InsertEventBatch(ctx context.Context, q database.Querier, events []InboundEvent) error {
	if len(events) == 0 {
		return nil
	}
	sql, args := buildEventBatchInsert(events)
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting inbound events: %w", err)
	}
	return nil
}

func buildEventBatchInsert(events []InboundEvent) (string, []any) {
	const cols = "(id, source, topic, external_id, payload, rejected, received_at)"
	var placeholders []string
	var args []any

	for i, e := range events {
		base := i * 7
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args, e.ID, e.Source, e.Topic, e.ExternalID, e.Payload, e.Rejected, e.ReceivedAt)
	}

	sql := fmt.Sprintf("INSERT INTO inbound_events %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args
}

// ListEventsParams defines filters for querying the event log.
type ListEventsParams struct {
	Source     *Source
	Topic      *string
	ExternalID *string
	After      *time.Time
	Before     *time.Time
	Limit      int
}

func buildListQuery(p ListEventsParams) (string, []any) {
	conditions := []string{"TRUE"}
	var args []any
	argN := 1

	if p.Source != nil {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argN))
		args = append(args, *p.Source)
		argN++
	}
	if p.Topic != nil {
		conditions = append(conditions, fmt.Sprintf("topic = $%d", argN))
		args = append(args, *p.Topic)
		argN++
	}
	if p.ExternalID != nil {
		conditions = append(conditions, fmt.Sprintf("external_id = $%d", argN))
		args = append(args, *p.ExternalID)
		argN++
	}
	if p.After != nil {
		conditions = append(conditions, fmt.Sprintf("received_at > $%d", argN))
		args = append(args, *p.After)
		argN++
	}
	if p.Before != nil {
		conditions = append(conditions, fmt.Sprintf("received_at < $%d", argN))
		args = append(args, *p.Before)
		argN++
	}

	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)

	sql := fmt.Sprintf(
		`SELECT id, source, topic, external_id, payload, rejected, received_at
		FROM inbound_events
		WHERE %s
		ORDER BY received_at DESC
		LIMIT $%d`,
		strings.Join(conditions, " AND "), argN,
	)
	return sql, args
}

// ListEvents returns logged deliveries matching the filters, newest first.
func (s *Store) ListEvents(ctx context.Context, q database.Querier, p ListEventsParams) ([]InboundEvent, error) {
	sql, args := buildListQuery(p)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing inbound events: %w", err)
	}
	defer rows.Close()

	var events []InboundEvent
	for rows.Next() {
		var e InboundEvent
		if err := rows.Scan(&e.ID, &e.Source, &e.Topic, &e.ExternalID, &e.Payload, &e.Rejected, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning inbound event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Stats summarizes the event log and outstanding failures.
type Stats struct {
	Total         int64            `json:"total"`
	Today         int64            `json:"today"`
	Rejected      int64            `json:"rejected"`
	BySource      map[Source]int64 `json:"by_source"`
	OpenFailures  int64            `json:"open_failures"`
	TotalFailures int64            `json:"total_failures"`
}

// GetStats computes delivery and failure counts.
func (s *Store) GetStats(ctx context.Context, q database.Querier) (*Stats, error) {
	stats := &Stats{BySource: map[Source]int64{}}

	var shopify, stripe int64
	err := q.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE received_at >= date_trunc('day', now())),
			COUNT(*) FILTER (WHERE rejected),
			COUNT(*) FILTER (WHERE source = 'shopify'),
			COUNT(*) FILTER (WHERE source = 'stripe')
		FROM inbound_events`,
	).Scan(&stats.Total, &stats.Today, &stats.Rejected, &shopify, &stripe)
	if err != nil {
		return nil, fmt.Errorf("counting inbound events: %w", err)
	}
	stats.BySource[SourceShopify] = shopify
	stats.BySource[SourceStripe] = stripe

	err = q.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT resolved) FROM event_failures`,
	).Scan(&stats.TotalFailures, &stats.OpenFailures)
	if err != nil {
		return nil, fmt.Errorf("counting event failures: %w", err)
	}
	return stats, nil
}

// InsertFailure records a processing failure for a logged event.
func (s *Store) InsertFailure(ctx context.Context, q database.Querier, f *EventFailure) error {
	_, err := q.Exec(ctx,
		`INSERT INTO event_failures (event_id, source, topic, external_id, error)
		VALUES ($1, $2, $3, $4, $5)`,
		f.EventID, f.Source, f.Topic, f.ExternalID, f.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting event failure: %w", err)
	}
	return nil
}

// MarkFailuresResolved closes all open failures for an event, after a
// successful replay.
func (s *Store) MarkFailuresResolved(ctx context.Context, q database.Querier, eventID uuid.UUID) error {
	_, err := q.Exec(ctx,
		`UPDATE event_failures SET resolved = TRUE WHERE event_id = $1 AND NOT resolved`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("resolving event failures: %w", err)
	}
	return nil
}

// ListFailedEvents returns accepted events with open failures, oldest
// first, for replay.
func (s *Store) ListFailedEvents(ctx context.Context, q database.Querier, since time.Time, limit int) ([]InboundEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := q.Query(ctx,
		`SELECT DISTINCT ON (e.id) e.id, e.source, e.topic, e.external_id, e.payload, e.rejected, e.received_at
		FROM inbound_events e
		JOIN event_failures f ON f.event_id = e.id
		WHERE NOT f.resolved AND NOT e.rejected AND e.received_at > $1
		ORDER BY e.id, e.received_at
		LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing failed events: %w", err)
	}
	defer rows.Close()

	var events []InboundEvent
	for rows.Next() {
		var e InboundEvent
		if err := rows.Scan(&e.ID, &e.Source, &e.Topic, &e.ExternalID, &e.Payload, &e.Rejected, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning failed event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
