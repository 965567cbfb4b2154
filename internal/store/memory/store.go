// Package memory implements store.Store with in-process tables, suitable for
// tests and the demo deployment.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/store"
)

var (
	_ store.Store    = (*Store)(nil)
	_ store.Inserter = (*Store)(nil)
)

// Store keeps rows keyed by id per table.
type Store struct {
	mu     sync.RWMutex
	tables map[store.Table]map[string]store.Row
	hub    *store.Hub
	closed bool
}

// NewStore returns an empty store with every known table created.
func NewStore(logger *zap.Logger) *Store {
	tables := make(map[store.Table]map[string]store.Row)
	for _, table := range store.Tables() {
		tables[table] = make(map[string]store.Row)
	}
	return &Store{
		tables: tables,
		hub:    store.NewHub(logger),
	}
}

// Hub exposes the change hub, e.g. to simulate a dropped channel in tests.
func (s *Store) Hub() *store.Hub { return s.hub }

// Insert upserts rows by id and emits INSERT or UPDATE events.
func (s *Store) Insert(ctx context.Context, table store.Table, rows ...store.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var events []store.Event

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	bucket, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	for _, row := range rows {
		id, ok := row["id"]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("insert into %s: row without id", table)
		}
		key := fmt.Sprint(id)
		old, existed := bucket[key]
		stored := row.Clone()
		bucket[key] = stored
		if existed {
			events = append(events, store.NewEvent(table, store.EventUpdate, stored.Clone(), old))
		} else {
			events = append(events, store.NewEvent(table, store.EventInsert, stored.Clone(), nil))
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.hub.Publish(ev)
	}
	return nil
}

// Select returns copies of the rows matching q.
func (s *Store) Select(ctx context.Context, table store.Table, q store.Query) ([]store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	bucket, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}

	keys := make([]string, 0, len(bucket))
	for key := range bucket {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([]store.Row, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, bucket[key])
	}

	matched := store.Apply(rows, q)
	out := make([]store.Row, len(matched))
	for i, row := range matched {
		out[i] = row.Clone()
	}
	return out, nil
}

// Update merges patch into every matching row and emits UPDATE events.
func (s *Store) Update(ctx context.Context, table store.Table, patch store.Row, filters []store.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, fmt.Errorf("empty patch for %s", table)
	}
	if _, ok := patch["id"]; ok {
		return 0, fmt.Errorf("%w: id is immutable", store.ErrUnknownColumn)
	}
	var events []store.Event

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, store.ErrClosed
	}
	bucket, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	for key, row := range bucket {
		if !store.Matches(row, filters) {
			continue
		}
		updated := row.Clone()
		for col, value := range patch.Clone() {
			updated[col] = value
		}
		bucket[key] = updated
		events = append(events, store.NewEvent(table, store.EventUpdate, updated.Clone(), row))
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.hub.Publish(ev)
	}
	return len(events), nil
}

// Subscribe registers fn on the in-process hub.
func (s *Store) Subscribe(ctx context.Context, table store.Table, filters []store.Filter, event store.EventType, fn func(store.Event)) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := store.Columns(table); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(table, filters, event, fn)
}

// Close ends all subscriptions and rejects further calls.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}
