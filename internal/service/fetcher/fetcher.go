// Package fetcher loads everything one tenant view needs from the store.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/venux/panel/backend/internal/metrics"
	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/store"
)

// Warning sources.
const (
	SourceLeads   = "leads"
	SourceBrokers = "brokers"
)

// ErrSessionNotFound is returned (inside a FetchError) when the tenant has no
// session row.
var ErrSessionNotFound = errors.New("session not found")

// FetchError means the view could not be loaded at all. Views keep showing
// whatever they had before.
type FetchError struct {
	Identity tenant.Identity
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Identity, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Warning reports a secondary read that failed without failing the fetch.
type Warning struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// ViewModel is the normalized result of one fetch.
type ViewModel struct {
	Session   tenant.Session    `json:"session"`
	Instances []tenant.Instance `json:"instances"`
	Leads     []tenant.Lead     `json:"leads"`
	Brokers   []tenant.Broker   `json:"brokers"`
	Warnings  []Warning         `json:"warnings,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Fetcher reads views from a store.
type Fetcher struct {
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New returns a fetcher. m may be nil.
func New(s store.Store, logger *zap.Logger, m *metrics.Metrics) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{store: s, logger: logger.Named("fetcher"), metrics: m, now: time.Now}
}

// Fetch loads the session row, then its leads and brokers concurrently.
// Only the session read is fatal; the other two degrade to warnings.
func (f *Fetcher) Fetch(ctx context.Context, id tenant.Identity) (ViewModel, error) {
	started := f.now()
	vm, err := f.fetch(ctx, id)
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case len(vm.Warnings) > 0:
		result = "partial"
	}
	f.metrics.ObserveFetch(f.now().Sub(started), result)
	return vm, err
}

func (f *Fetcher) fetch(ctx context.Context, id tenant.Identity) (ViewModel, error) {
	rows, err := f.store.Select(ctx, store.TableSessions, store.Where(store.Eq("id", string(id))))
	if err != nil {
		return ViewModel{}, &FetchError{Identity: id, Err: err}
	}
	if len(rows) == 0 {
		return ViewModel{}, &FetchError{Identity: id, Err: ErrSessionNotFound}
	}
	session, err := tenant.DecodeSession(rows[0])
	if err != nil {
		return ViewModel{}, &FetchError{Identity: id, Err: err}
	}

	vm := ViewModel{
		Session:   session,
		Instances: tenant.CloneInstances(session.Data.Instances),
		Leads:     []tenant.Lead{},
		Brokers:   []tenant.Broker{},
	}
	if vm.Instances == nil {
		vm.Instances = []tenant.Instance{}
	}

	var (
		leads                  []tenant.Lead
		brokers                []tenant.Broker
		leadWarns, brokerWarns []Warning
	)

	// Each goroutine reports its failure as a warning and returns nil so the
	// group never cancels its sibling.
	g, gctx := errgroup.WithContext(ctx)
	if ids := session.InstanceIDs(); len(ids) > 0 {
		g.Go(func() error {
			leads, leadWarns = f.fetchLeads(gctx, ids)
			return nil
		})
	}
	g.Go(func() error {
		brokers, brokerWarns = f.fetchBrokers(gctx, id)
		return nil
	})
	_ = g.Wait()

	if leads != nil {
		vm.Leads = leads
	}
	if brokers != nil {
		vm.Brokers = brokers
	}
	vm.Warnings = append(leadWarns, brokerWarns...)
	for _, w := range vm.Warnings {
		f.metrics.FetchWarning(w.Source)
		f.logger.Warn("partial fetch", zap.String("tid", id.String()), zap.String("source", w.Source), zap.String("message", w.Message))
	}
	vm.FetchedAt = f.now()
	return vm, nil
}

func (f *Fetcher) fetchLeads(ctx context.Context, instanceIDs []string) ([]tenant.Lead, []Warning) {
	q := store.Where(store.In("instance_id", instanceIDs)).OrderBy("last_interaction", true)
	rows, err := f.store.Select(ctx, store.TableLeads, q)
	if err != nil {
		return nil, []Warning{{Source: SourceLeads, Message: err.Error()}}
	}
	out := make([]tenant.Lead, 0, len(rows))
	var warns []Warning
	for _, row := range rows {
		lead, err := tenant.DecodeLead(row)
		if err != nil {
			warns = append(warns, Warning{Source: SourceLeads, Message: err.Error()})
			continue
		}
		out = append(out, lead)
	}
	return out, warns
}

func (f *Fetcher) fetchBrokers(ctx context.Context, id tenant.Identity) ([]tenant.Broker, []Warning) {
	q := store.Where(store.Eq("owner_id", string(id))).OrderBy("name", false)
	rows, err := f.store.Select(ctx, store.TableBrokers, q)
	if err != nil {
		return nil, []Warning{{Source: SourceBrokers, Message: err.Error()}}
	}
	out := make([]tenant.Broker, 0, len(rows))
	var warns []Warning
	for _, row := range rows {
		broker, err := tenant.DecodeBroker(row)
		if err != nil {
			warns = append(warns, Warning{Source: SourceBrokers, Message: err.Error()})
			continue
		}
		out = append(out, broker)
	}
	return out, warns
}
