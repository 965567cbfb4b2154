// Package live streams session row changes to an open view.
package live

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/metrics"
	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/store"
)

// Delta carries the instance list of an updated session row. Leads and
// brokers are not part of the live channel.
type Delta struct {
	Identity   tenant.Identity   `json:"tid"`
	EventID    string            `json:"event_id"`
	Instances  []tenant.Instance `json:"instances"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Subscriber opens live subscriptions on a store.
type Subscriber struct {
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSubscriber returns a subscriber. m may be nil.
func NewSubscriber(s store.Store, logger *zap.Logger, m *metrics.Metrics) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{store: s, logger: logger.Named("live"), metrics: m, now: time.Now}
}

// Subscribe delivers a Delta for every update of the session row of id.
// onDisconnect is called at most once, when the change channel ends for any
// reason other than Cancel; the view then falls back to manual refresh.
func (s *Subscriber) Subscribe(ctx context.Context, id tenant.Identity, onChange func(Delta), onDisconnect func(error)) (*Subscription, error) {
	sub := &Subscription{identity: id}
	log := s.logger.With(zap.String("tid", id.String()))

	inner, err := s.store.Subscribe(ctx, store.TableSessions, []store.Filter{store.Eq("id", string(id))}, store.EventUpdate, func(ev store.Event) {
		if sub.cancelled.Load() {
			return
		}
		session, err := tenant.DecodeSession(ev.New)
		if err != nil {
			log.Warn("dropping undecodable session event", zap.String("event", ev.ID), zap.Error(err))
			return
		}
		delta := Delta{
			Identity:   id,
			EventID:    ev.ID,
			Instances:  tenant.CloneInstances(session.Data.Instances),
			ReceivedAt: s.now(),
		}

		sub.deliver.Lock()
		defer sub.deliver.Unlock()
		if sub.cancelled.Load() {
			return
		}
		onChange(delta)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}
	sub.inner = inner
	s.metrics.LiveSubscribed()
	log.Debug("live subscription opened")

	go func() {
		<-inner.Done()
		s.metrics.LiveEnded()
		if sub.cancelled.Load() {
			return
		}
		cause := inner.Err()
		if cause == nil {
			cause = store.ErrDisconnected
		}
		log.Info("live channel ended, falling back to manual refresh", zap.Error(cause))
		sub.disconnectOnce.Do(func() {
			if onDisconnect != nil {
				onDisconnect(cause)
			}
		})
	}()
	return sub, nil
}

// Subscription is a live handle. Cancel is idempotent and safe for
// concurrent use; once it returns no callback is running or will run.
type Subscription struct {
	identity       tenant.Identity
	inner          store.Subscription
	cancelled      atomic.Bool
	deliver        sync.Mutex
	disconnectOnce sync.Once
}

// Cancel stops the subscription and waits for a delivery in progress to
// finish. It must not be called from inside onChange.
func (s *Subscription) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	// waits out a delivery that passed the cancelled check
	s.deliver.Lock()
	s.deliver.Unlock() //nolint:staticcheck
	s.inner.Cancel()
}

// Done is closed when the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.inner.Done() }

// Err reports why the underlying channel ended; nil after Cancel.
func (s *Subscription) Err() error { return s.inner.Err() }
