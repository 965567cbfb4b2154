package feed

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/store"
)

var _ store.Store = (*Store)(nil)

// ErrInsertUnsupported is returned by Insert when the wrapped backend cannot load rows.
var ErrInsertUnsupported = errors.New("backend does not support inserts")

// Store decorates a backend so its writes are broadcast on the change feed
// and its subscriptions are served from the feed instead of the backend.
type Store struct {
	store.Store
	publisher Publisher
	hub       *store.Hub
	producer  string
	log       *zap.Logger
}

// NewStore wraps inner. hub must be the hub fed by the Consumer.
func NewStore(inner store.Store, publisher Publisher, hub *store.Hub, producer string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Store: inner, publisher: publisher, hub: hub, producer: producer, log: logger}
}

// Update writes through inner and broadcasts the new images of touched rows.
// A failed broadcast is logged; the write itself has already committed.
func (s *Store) Update(ctx context.Context, table store.Table, patch store.Row, filters []store.Filter) (int, error) {
	n, err := s.Store.Update(ctx, table, patch, filters)
	if err != nil || n == 0 {
		return n, err
	}
	rows, err := s.Store.Select(ctx, table, store.Where(filters...))
	if err != nil {
		s.log.Warn("reload for broadcast failed", zap.String("table", string(table)), zap.Error(err))
		return n, nil
	}
	for _, row := range rows {
		s.broadcast(ctx, store.NewEvent(table, store.EventUpdate, row, nil))
	}
	return n, nil
}

// Insert writes through inner when it supports inserts and broadcasts them.
func (s *Store) Insert(ctx context.Context, table store.Table, rows ...store.Row) error {
	inserter, ok := s.Store.(store.Inserter)
	if !ok {
		return ErrInsertUnsupported
	}
	if err := inserter.Insert(ctx, table, rows...); err != nil {
		return err
	}
	for _, row := range rows {
		s.broadcast(ctx, store.NewEvent(table, store.EventInsert, row.Clone(), nil))
	}
	return nil
}

// Subscribe registers fn on the feed hub.
func (s *Store) Subscribe(ctx context.Context, table store.Table, filters []store.Filter, event store.EventType, fn func(store.Event)) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := store.Columns(table); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(table, filters, event, fn)
}

// Close ends feed subscriptions and closes inner.
func (s *Store) Close() error {
	s.hub.Close()
	_ = s.publisher.Close()
	return s.Store.Close()
}

func (s *Store) broadcast(ctx context.Context, ev store.Event) {
	key := RoutingKey(ev)
	if err := s.publisher.Publish(ctx, key, NewEnvelope(ev, s.producer)); err != nil {
		s.log.Warn("broadcast change failed", zap.String("key", key), zap.Error(err))
	}
}
