package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies the external platform a webhook came from.
type Source string

const (
	SourceShopify Source = "shopify"
	SourceStripe  Source = "stripe"
)

// ErrUnknownTopic is returned by the router for topics no processor
// registered. Unknown topics are acknowledged, not failed: the platform
// keeps delivering them and a 4xx would only trigger retries.
var ErrUnknownTopic = errors.New("no handler registered for topic")

// InboundEvent is one verified (or rejected) webhook delivery, recorded
// append-only before any processing happens. Rows are never updated.
type InboundEvent struct {
	ID         uuid.UUID       `json:"id"`
	Source     Source          `json:"source"`
	Topic      string          `json:"topic"`
	ExternalID string          `json:"external_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Rejected   bool            `json:"rejected,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// EventFailure records a processing failure for a logged event. Failures
// live in their own table so the event log itself stays immutable.
type EventFailure struct {
	ID         uuid.UUID `json:"id"`
	EventID    uuid.UUID `json:"event_id"`
	Source     Source    `json:"source"`
	Topic      string    `json:"topic"`
	ExternalID string    `json:"external_id,omitempty"`
	Error      string    `json:"error"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
}

// MalformedEventError marks a payload that verified but could not be
// processed: invalid JSON, missing entity ID, wrong shape. Deliveries
// carrying one are acknowledged so the platform does not retry them.
type MalformedEventError struct {
	Source Source
	Topic  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event %q: %s", e.Source, e.Topic, e.Reason)
}
