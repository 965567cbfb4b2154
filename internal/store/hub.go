package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const defaultQueueSize = 64

// Hub fans committed row changes out to subscriptions. Each subscription has
// its own goroutine so events for one subscriber are delivered in order and a
// slow callback never blocks the writer.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*hubSubscription
	closed    bool
	queueSize int
	logger    *zap.Logger
}

// NewHub creates an empty hub. A nil logger disables logging.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:      make(map[string]*hubSubscription),
		queueSize: defaultQueueSize,
		logger:    logger,
	}
}

// NewEvent stamps an event with a sortable id and commit time.
func NewEvent(table Table, typ EventType, newRow, oldRow Row) Event {
	return Event{
		ID:          ulid.Make().String(),
		Table:       table,
		Type:        typ,
		New:         newRow,
		Old:         oldRow,
		CommittedAt: time.Now().UTC(),
	}
}

// Subscribe registers fn for events on table matching filters and event type.
func (h *Hub) Subscribe(table Table, filters []Filter, event EventType, fn func(Event)) (Subscription, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	if event == "" {
		event = EventAll
	}
	sub := &hubSubscription{
		id:      uuid.NewString(),
		hub:     h,
		table:   table,
		filters: append([]Filter(nil), filters...),
		event:   event,
		fn:      fn,
		queue:   make(chan Event, h.queueSize),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go sub.run()
	h.logger.Debug("subscription opened", zap.String("subscription", sub.id), zap.String("table", string(table)))
	return sub, nil
}

// Publish delivers ev to every matching subscription without blocking. A
// subscription whose queue is full is ended with ErrDisconnected.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	targets := make([]*hubSubscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.wants(ev) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- cloneEvent(ev):
		case <-sub.done:
		default:
			h.logger.Warn("subscriber queue full, disconnecting", zap.String("subscription", sub.id))
			sub.end(ErrDisconnected)
		}
	}
}

// Disconnect ends every current subscription with err but keeps the hub open
// for new ones.
func (h *Hub) Disconnect(err error) {
	if err == nil {
		err = ErrDisconnected
	}
	for _, sub := range h.drain() {
		sub.end(err)
	}
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	for _, sub := range h.drain() {
		sub.end(ErrClosed)
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) drain() []*hubSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*hubSubscription, 0, len(h.subs))
	for id, sub := range h.subs {
		out = append(out, sub)
		delete(h.subs, id)
	}
	return out
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

type hubSubscription struct {
	id      string
	hub     *Hub
	table   Table
	filters []Filter
	event   EventType
	fn      func(Event)
	queue   chan Event

	done    chan struct{}
	once    sync.Once
	stopped atomic.Bool
	errMu   sync.Mutex
	err     error
}

func (s *hubSubscription) wants(ev Event) bool {
	if ev.Table != s.table {
		return false
	}
	if s.event != EventAll && s.event != ev.Type {
		return false
	}
	row := ev.New
	if ev.Type == EventDelete {
		row = ev.Old
	}
	return Matches(row, s.filters)
}

func (s *hubSubscription) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			if s.stopped.Load() {
				return
			}
			s.fn(ev)
		}
	}
}

func (s *hubSubscription) Cancel() { s.end(nil) }

func (s *hubSubscription) Done() <-chan struct{} { return s.done }

func (s *hubSubscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *hubSubscription) end(err error) {
	s.once.Do(func() {
		s.stopped.Store(true)
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
		s.hub.remove(s.id)
	})
}

func cloneEvent(ev Event) Event {
	ev.New = ev.New.Clone()
	ev.Old = ev.Old.Clone()
	return ev
}
