package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/platform/middleware"
)

// maxWebhookBody caps delivery size. Both platforms stay well under this.
const maxWebhookBody = 1 << 20

type getStatsFunc func(ctx context.Context) (*Stats, error)
type listEventsFunc func(ctx context.Context, p ListEventsParams) ([]InboundEvent, error)
type recordFailureFunc func(ctx context.Context, f EventFailure)
type replayFunc func(ctx context.Context, p ReplayParams) (*ReplayReport, error)

// Handler serves webhook ingestion and the operational endpoints around
// the event log.
type Handler struct {
	verifiers map[Source]Verifier
	router    *Router
	recorder  Recorder
	now       func() time.Time

	getStats      getStatsFunc
	listEvents    listEventsFunc
	recordFailure recordFailureFunc
	replay        replayFunc

	admin        *ShopifyAdminClient
	callbackBase string
}

// NewHandler creates a webhook handler.
func NewHandler(verifiers map[Source]Verifier, router *Router, recorder Recorder) *Handler {
	if verifiers == nil {
		verifiers = map[Source]Verifier{}
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Handler{
		verifiers: verifiers,
		router:    router,
		recorder:  recorder,
		now:       time.Now,
	}
}

// WithEventStore wires the event log query and failure endpoints.
func (h *Handler) WithEventStore(pool *database.Pool, store *Store) *Handler {
	if pool == nil || store == nil {
		h.getStats = nil
		h.listEvents = nil
		h.recordFailure = nil
		return h
	}
	h.getStats = func(ctx context.Context) (*Stats, error) {
		return store.GetStats(ctx, pool)
	}
	h.listEvents = func(ctx context.Context, p ListEventsParams) ([]InboundEvent, error) {
		return store.ListEvents(ctx, pool, p)
	}
	h.recordFailure = func(ctx context.Context, f EventFailure) {
		if err := store.InsertFailure(ctx, pool, &f); err != nil {
			slog.Error("recording event failure failed", "error", err, "event_id", f.EventID)
		}
	}
	return h
}

// WithReplayer wires the replay endpoint.
func (h *Handler) WithReplayer(r *Replayer) *Handler {
	if r == nil {
		h.replay = nil
		return h
	}
	h.replay = r.Replay
	return h
}

// WithShopifyAdmin wires storefront webhook registration. callbackBase is
// the public base URL deliveries should be sent to.
func (h *Handler) WithShopifyAdmin(client *ShopifyAdminClient, callbackBase string) *Handler {
	h.admin = client
	h.callbackBase = callbackBase
	return h
}

// HandleShopifyWebhook ingests storefront deliveries.
// POST /webhooks/shopify
func (h *Handler) HandleShopifyWebhook(w http.ResponseWriter, r *http.Request) {
	h.serveWebhook(w, r, SourceShopify)
}

// HandleStripeWebhook ingests payment processor deliveries.
// POST /webhooks/stripe
func (h *Handler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.serveWebhook(w, r, SourceStripe)
}

// serveWebhook runs the ingestion pathway: read, verify, log, route.
// Only transport and signature problems produce non-2xx responses; once a
// delivery is verified and logged, processing failures are captured
// internally and the platform gets its acknowledgment.
func (h *Handler) serveWebhook(w http.ResponseWriter, r *http.Request, source Source) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading request body failed"})
		return
	}

	topic := h.extractTopic(source, r.Header, body)
	event := InboundEvent{
		ID:         uuid.New(),
		Source:     source,
		Topic:      topic,
		ExternalID: extractExternalID(source, body),
		Payload:    body,
		ReceivedAt: h.now().UTC(),
	}

	verifier, ok := h.verifiers[source]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown webhook source"})
		return
	}
	if err := verifier.Verify(r.Header, body, h.now()); err != nil {
		slog.Warn("webhook signature rejected",
			"source", source, "topic", topic, "error", err, "request_id", requestID)
		event.Rejected = true
		h.recorder.Record(ctx, event)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	h.recorder.Record(ctx, event)

	if topic == "" {
		slog.Warn("webhook delivery without a topic",
			"source", source, "event_id", event.ID, "request_id", requestID)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	err = h.router.Route(ctx, source, topic, body)
	switch {
	case err == nil:

	case errors.Is(err, ErrUnknownTopic):
		slog.Warn("unhandled webhook topic",
			"source", source, "topic", topic, "event_id", event.ID, "request_id", requestID)

	case isMalformed(err):
		slog.Warn("malformed webhook payload",
			"source", source, "topic", topic, "event_id", event.ID, "error", err, "request_id", requestID)

	default:
		slog.Error("webhook processing failed",
			"source", source, "topic", topic, "event_id", event.ID, "error", err, "request_id", requestID)
		if h.recordFailure != nil {
			h.recordFailure(ctx, EventFailure{
				EventID:    event.ID,
				Source:     source,
				Topic:      topic,
				ExternalID: event.ExternalID,
				Error:      err.Error(),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func isMalformed(err error) bool {
	var malformed *MalformedEventError
	return errors.As(err, &malformed)
}

func (h *Handler) extractTopic(source Source, headers http.Header, body []byte) string {
	switch source {
	case SourceShopify:
		return headers.Get("X-Shopify-Topic")
	case SourceStripe:
		topic, err := ExtractStripeTopic(body)
		if err != nil {
			return ""
		}
		return topic
	}
	return ""
}

// extractExternalID pulls the entity ID out of the payload, best-effort.
// It only feeds the event log and failure rows; processors re-parse.
func extractExternalID(source Source, body []byte) string {
	switch source {
	case SourceShopify:
		var payload struct {
			ID json.Number `json:"id"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return ""
		}
		return payload.ID.String()
	case SourceStripe:
		var event struct {
			Data struct {
				Object struct {
					ID string `json:"id"`
				} `json:"object"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &event); err != nil {
			return ""
		}
		return event.Data.Object.ID
	}
	return ""
}

// HandleStats summarizes the event log.
// GET /api/v1/webhooks/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.getStats == nil {
		writeJSON(w, http.StatusOK, &Stats{BySource: map[Source]int64{}})
		return
	}
	stats, err := h.getStats(r.Context())
	if err != nil {
		slog.Error("computing webhook stats failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats query failed"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleListEvents returns logged deliveries, newest first.
// GET /api/v1/webhooks/events?source=shopify&topic=orders/create&limit=50
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if h.listEvents == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}, "count": 0})
		return
	}

	var params ListEventsParams
	query := r.URL.Query()
	if raw := query.Get("source"); raw != "" {
		source := Source(raw)
		if source != SourceShopify && source != SourceStripe {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown source"})
			return
		}
		params.Source = &source
	}
	if raw := query.Get("topic"); raw != "" {
		params.Topic = &raw
	}
	if raw := query.Get("external_id"); raw != "" {
		params.ExternalID = &raw
	}
	if raw := query.Get("after"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			params.After = &t
		}
	}
	if raw := query.Get("before"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			params.Before = &t
		}
	}
	if raw := query.Get("limit"); raw != "" {
		var n int
		for _, c := range raw {
			if c < '0' || c > '9' {
				n = 0
				break
			}
			n = n*10 + int(c-'0')
		}
		params.Limit = n
	}

	events, err := h.listEvents(r.Context(), params)
	if err != nil {
		slog.Error("listing webhook events failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if events == nil {
		events = []InboundEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// HandleReplay re-runs logged deliveries through the router.
// POST /api/v1/webhooks/replay
func (h *Handler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	if h.replay == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "replay is not configured"})
		return
	}

	var req struct {
		Source     string `json:"source"`
		SinceHours int    `json:"since_hours"`
		Limit      int    `json:"limit"`
		FailedOnly *bool  `json:"failed_only"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	params := ReplayParams{Limit: req.Limit, FailedOnly: true}
	if req.FailedOnly != nil {
		params.FailedOnly = *req.FailedOnly
	}
	if req.Source != "" {
		source := Source(req.Source)
		if source != SourceShopify && source != SourceStripe {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown source"})
			return
		}
		params.Source = &source
	}
	hours := req.SinceHours
	if hours <= 0 {
		hours = 24
	}
	params.Since = h.now().UTC().Add(-time.Duration(hours) * time.Hour)

	report, err := h.replay(r.Context(), params)
	if err != nil {
		slog.Error("webhook replay failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "replay failed"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleRegisterShopifyWebhooks registers every routed storefront topic
// against the shop's admin API.
// POST /api/v1/webhooks/shopify/register
func (h *Handler) HandleRegisterShopifyWebhooks(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil || h.callbackBase == "" {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "shopify admin access is not configured"})
		return
	}

	address := h.callbackBase + "/webhooks/shopify"
	var registered []ShopifyWebhookRegistration
	var failed []map[string]string
	for _, topic := range h.router.Topics(SourceShopify) {
		reg, err := h.admin.RegisterWebhook(r.Context(), topic, address)
		if err != nil {
			slog.Error("registering shopify webhook failed", "topic", topic, "error", err)
			failed = append(failed, map[string]string{"topic": topic, "error": err.Error()})
			continue
		}
		registered = append(registered, *reg)
	}

	status := http.StatusOK
	if len(registered) == 0 && len(failed) > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"registered": registered, "failed": failed})
}

// HandleListShopifyRegistrations lists webhooks currently registered with
// the shop.
// GET /api/v1/webhooks/shopify/registrations
func (h *Handler) HandleListShopifyRegistrations(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "shopify admin access is not configured"})
		return
	}
	regs, err := h.admin.ListWebhooks(r.Context())
	if err != nil {
		slog.Error("listing shopify webhooks failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "listing registrations failed"})
		return
	}
	if regs == nil {
		regs = []ShopifyWebhookRegistration{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": regs, "count": len(regs)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
