// Package feed carries store change events between API replicas over
// RabbitMQ so a live view sees writes made through any replica.
package feed

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/venux/panel/backend/internal/store"
)

// Meta describes an emitted change event.
type Meta struct {
	// Unique event ID
	ID string `json:"id"`
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Emitting service and version
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. venux.sessions.update.v1
	Type string `json:"type"`
}

// Envelope wraps a store event for the wire.
type Envelope struct {
	Meta Meta        `json:"meta"`
	Data store.Event `json:"data"`
}

// RoutingKey is the topic key for ev, e.g. "sessions.update".
func RoutingKey(ev store.Event) string {
	return fmt.Sprintf("%s.%s", ev.Table, eventSuffix(ev.Type))
}

// NewEnvelope wraps ev with fresh metadata.
func NewEnvelope(ev store.Event, producer string) Envelope {
	meta := Meta{
		ID:   ulid.Make().String(),
		Time: time.Now().UTC(),
		Type: fmt.Sprintf("venux.%s.%s.v1", ev.Table, eventSuffix(ev.Type)),
	}
	if producer != "" {
		meta.Producer = &producer
	}
	return Envelope{Meta: meta, Data: ev}
}

func eventSuffix(t store.EventType) string {
	switch t {
	case store.EventInsert:
		return "insert"
	case store.EventUpdate:
		return "update"
	case store.EventDelete:
		return "delete"
	default:
		return "change"
	}
}
