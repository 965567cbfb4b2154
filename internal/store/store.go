// Package store defines the row-oriented collaborator every panel page reads
// from and writes to, plus the pieces shared by its backends.
package store

import (
	"context"
	"errors"
	"time"
)

// Table names a collection of rows.
type Table string

const (
	TableSessions Table = "sessions"
	TableLeads    Table = "leads"
	TableBrokers  Table = "brokers"
)

// EventType selects which row changes a subscription receives.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Row is one JSON-shaped record.
type Row map[string]any

// Event describes a committed row change.
type Event struct {
	ID          string    `json:"id"`
	Table       Table     `json:"table"`
	Type        EventType `json:"type"`
	New         Row       `json:"new,omitempty"`
	Old         Row       `json:"old,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	ErrClosed        = errors.New("store closed")
	// ErrDisconnected ends subscriptions whose change channel went away.
	ErrDisconnected = errors.New("change channel disconnected")
)

// Subscription is a handle on a live change subscription.
type Subscription interface {
	// Cancel stops delivery. It is idempotent.
	Cancel()
	// Done is closed once the subscription has ended for any reason.
	Done() <-chan struct{}
	// Err reports why the subscription ended; nil after Cancel.
	Err() error
}

// Store is the query/mutation/subscription client used by the services.
type Store interface {
	Select(ctx context.Context, table Table, q Query) ([]Row, error)
	Update(ctx context.Context, table Table, patch Row, filters []Filter) (int, error)
	Subscribe(ctx context.Context, table Table, filters []Filter, event EventType, fn func(Event)) (Subscription, error)
	Close() error
}

// Inserter is implemented by backends that can load rows directly, used for
// seeding and tests.
type Inserter interface {
	Insert(ctx context.Context, table Table, rows ...Row) error
}

// Clone deep-copies a row so callers never share nested maps or slices.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case Row:
		return typed.Clone()
	case map[string]any:
		return map[string]any(Row(typed).Clone())
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = map[string]any(Row(item).Clone())
		}
		return out
	default:
		return v
	}
}
