package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// HandlerFunc processes one verified webhook payload for a single topic.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Router maps (source, topic) pairs to handlers. The routing table is
// static: processors register their topics at startup and the table is
// read-only afterwards, so no locking is needed.
type Router struct {
	routes map[Source]map[string]HandlerFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: map[Source]map[string]HandlerFunc{}}
}

// Handle registers a handler for a topic. Registering the same topic twice
// panics: a silent overwrite would hide a wiring mistake until production.
func (r *Router) Handle(source Source, topic string, fn HandlerFunc) {
	byTopic, ok := r.routes[source]
	if !ok {
		byTopic = map[string]HandlerFunc{}
		r.routes[source] = byTopic
	}
	if _, exists := byTopic[topic]; exists {
		panic(fmt.Sprintf("webhooks: duplicate handler for %s topic %q", source, topic))
	}
	byTopic[topic] = fn
}

// Route dispatches the payload to the topic's handler. Returns
// ErrUnknownTopic when no handler is registered.
func (r *Router) Route(ctx context.Context, source Source, topic string, payload json.RawMessage) error {
	fn, ok := r.routes[source][topic]
	if !ok {
		return fmt.Errorf("%w: %s %q", ErrUnknownTopic, source, topic)
	}
	return fn(ctx, payload)
}

// Topics returns the registered topics for a source, sorted.
func (r *Router) Topics(source Source) []string {
	topics := make([]string, 0, len(r.routes[source]))
	for topic := range r.routes[source] {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
