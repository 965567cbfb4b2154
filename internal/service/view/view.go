// Package view keeps the state of one open tenant view: the last fetched
// data, live deltas applied on top of it and the progress of edits.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/metrics"
	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/service/fetcher"
	"github.com/venux/panel/backend/internal/service/live"
	"github.com/venux/panel/backend/internal/service/stats"
)

// DefaultFetchTimeout bounds a single Refresh.
const DefaultFetchTimeout = 30 * time.Second

var (
	// ErrClosed is returned by calls on a closed controller.
	ErrClosed = errors.New("view closed")
	// ErrMutationInFlight rejects a second edit while one is being submitted.
	ErrMutationInFlight = errors.New("another instance update is in flight")
)

// MutationState is the progress of the current instance edit.
type MutationState string

const (
	MutationIdle       MutationState = "idle"
	MutationSubmitting MutationState = "submitting"
	MutationSuccess    MutationState = "success"
	MutationFailed     MutationState = "failed"
)

// MutationStatus reports the edit in progress and the outcome of the last one.
type MutationStatus struct {
	State      MutationState `json:"state"`
	InstanceID string        `json:"instance_id,omitempty"`
	Last       MutationState `json:"last,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// State is a snapshot handed to transports. It never shares slices with the
// controller.
type State struct {
	Identity  tenant.Identity     `json:"tid"`
	Seq       uint64              `json:"seq"`
	Loading   bool                `json:"loading"`
	Loaded    bool                `json:"loaded"`
	Name      string              `json:"name,omitempty"`
	Company   string              `json:"company,omitempty"`
	Plan      string              `json:"plan,omitempty"`
	Instances []tenant.Instance   `json:"instances"`
	Leads     []tenant.Lead       `json:"leads"`
	Brokers   []tenant.Broker     `json:"brokers"`
	Stats     stats.Stats         `json:"stats"`
	Summary   stats.BrokerSummary `json:"broker_summary"`
	Warnings  []fetcher.Warning   `json:"warnings,omitempty"`
	Error     string              `json:"error,omitempty"`
	Live      bool                `json:"live"`
	LiveError string              `json:"live_error,omitempty"`
	Mutation  MutationStatus      `json:"mutation"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// Fetcher loads a full view.
type Fetcher interface {
	Fetch(ctx context.Context, id tenant.Identity) (fetcher.ViewModel, error)
}

// Subscriber opens the live channel.
type Subscriber interface {
	Subscribe(ctx context.Context, id tenant.Identity, onChange func(live.Delta), onDisconnect func(error)) (*live.Subscription, error)
}

// Submitter writes instance edits.
type Submitter interface {
	SubmitInstanceUpdate(ctx context.Context, id tenant.Identity, instanceID string, patch tenant.InstancePatch) ([]tenant.Instance, error)
}

// Deps are the collaborators of a controller. Live and Submitter may be nil
// for read-only views.
type Deps struct {
	Fetcher   Fetcher
	Live      Subscriber
	Submitter Submitter
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Options tune a controller. Zero values select the defaults.
type Options struct {
	FetchTimeout time.Duration
	Location     *time.Location
	Now          func() time.Time
}

// Controller owns one viewer's state. Every fetch completion and live delta
// is tagged with a number from one counter and applied only if it is newer
// than the last applied one, so late results never overwrite fresher data.
type Controller struct {
	id   tenant.Identity
	deps Deps
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	seq       uint64
	applied   uint64
	inflight  int
	closed    bool
	state     State
	confirmed []tenant.Instance
	sub       *live.Subscription
	updates   chan State
}

// New returns a controller for id. Nothing is fetched until Refresh or Start.
func New(id tenant.Identity, deps Deps, opts Options) *Controller {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:      id,
		deps:    deps,
		opts:    opts,
		log:     logger.Named("view").With(zap.String("tid", id.String())),
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan State, 1),
	}
	c.state = State{
		Identity:  id,
		Instances: []tenant.Instance{},
		Leads:     []tenant.Lead{},
		Brokers:   []tenant.Broker{},
		Mutation:  MutationStatus{State: MutationIdle},
	}
	c.state.Stats = stats.Aggregate(nil, nil, c.now())
	return c
}

// Identity returns the tenant this view is scoped to.
func (c *Controller) Identity() tenant.Identity { return c.id }

// Updates delivers snapshots after every change. Intermediate snapshots are
// dropped when the reader falls behind; the latest one is always kept. The
// channel is closed by Close.
func (c *Controller) Updates() <-chan State { return c.updates }

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Start performs the initial fetch and opens the live channel. A failed fetch
// does not prevent the subscription.
func (c *Controller) Start(ctx context.Context) (State, error) {
	state, fetchErr := c.Refresh(ctx)
	if errors.Is(fetchErr, ErrClosed) {
		return state, fetchErr
	}
	if c.deps.Live == nil {
		return state, fetchErr
	}

	sub, err := c.deps.Live.Subscribe(c.ctx, c.id, c.applyDelta, c.handleDisconnect)
	if err != nil {
		c.log.Warn("live subscription unavailable", zap.Error(err))
		c.mu.Lock()
		c.state.Live = false
		c.state.LiveError = err.Error()
		c.publishLocked()
		state = c.snapshotLocked()
		c.mu.Unlock()
		return state, errors.Join(fetchErr, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Cancel()
		return state, ErrClosed
	}
	previous := c.sub
	c.sub = sub
	c.state.Live = true
	c.state.LiveError = ""
	c.publishLocked()
	state = c.snapshotLocked()
	c.mu.Unlock()

	// Cancel waits for a running applyDelta, which needs c.mu.
	if previous != nil {
		previous.Cancel()
	}
	return state, fetchErr
}

// Refresh fetches the view again. A failure keeps the previous data and is
// recorded in State.Error; it is returned as a *fetcher.FetchError.
func (c *Controller) Refresh(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return State{}, ErrClosed
	}
	seq := c.nextSeqLocked()
	c.inflight++
	c.state.Loading = true
	c.publishLocked()
	c.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	vm, err := c.deps.Fetcher.Fetch(fctx, c.id)
	cancel()
	if err != nil {
		var fetchErr *fetcher.FetchError
		if !errors.As(err, &fetchErr) {
			err = &fetcher.FetchError{Identity: c.id, Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if c.closed {
		return State{}, ErrClosed
	}
	c.state.Loading = c.inflight > 0
	if seq <= c.applied {
		c.deps.Metrics.StaleDiscarded("fetch")
		c.log.Debug("discarding stale fetch", zap.Uint64("seq", seq), zap.Uint64("applied", c.applied))
		c.publishLocked()
		return c.snapshotLocked(), nil
	}
	if err != nil {
		c.log.Warn("fetch failed, keeping previous data", zap.Error(err))
		c.state.Error = err.Error()
		c.publishLocked()
		return c.snapshotLocked(), err
	}

	c.applied = seq
	c.confirmed = tenant.CloneInstances(vm.Instances)
	c.state.Seq = seq
	c.state.Loaded = true
	c.state.Name = vm.Session.Name
	c.state.Company = vm.Session.Data.Company
	c.state.Plan = vm.Session.Data.Plan
	c.state.Instances = tenant.CloneInstances(vm.Instances)
	c.state.Leads = append([]tenant.Lead{}, vm.Leads...)
	c.state.Brokers = append([]tenant.Broker{}, vm.Brokers...)
	c.state.Warnings = append([]fetcher.Warning(nil), vm.Warnings...)
	c.state.Error = ""
	c.state.FetchedAt = vm.FetchedAt
	c.state.Summary = stats.SummarizeBrokers(vm.Brokers)
	c.recomputeLocked()
	c.publishLocked()
	return c.snapshotLocked(), nil
}

// SubmitInstanceUpdate applies patch locally, submits it and either confirms
// or rolls back the instance list.
func (c *Controller) SubmitInstanceUpdate(ctx context.Context, instanceID string, patch tenant.InstancePatch) (State, error) {
	if c.deps.Submitter == nil {
		return c.Snapshot(), errors.New("view is read-only")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return State{}, ErrClosed
	}
	if c.state.Mutation.State == MutationSubmitting {
		c.mu.Unlock()
		return c.Snapshot(), ErrMutationInFlight
	}
	c.state.Mutation = MutationStatus{State: MutationSubmitting, InstanceID: instanceID, Last: c.state.Mutation.Last}
	if idx := tenant.FindInstance(c.state.Instances, instanceID); idx >= 0 {
		optimistic := tenant.CloneInstances(c.state.Instances)
		optimistic[idx] = patch.Apply(optimistic[idx])
		c.state.Instances = optimistic
		c.recomputeLocked()
	}
	c.publishLocked()
	c.mu.Unlock()

	confirmed, err := c.deps.Submitter.SubmitInstanceUpdate(ctx, c.id, instanceID, patch)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return State{}, ErrClosed
	}
	if err != nil {
		c.state.Instances = tenant.CloneInstances(c.confirmed)
		if c.state.Instances == nil {
			c.state.Instances = []tenant.Instance{}
		}
		c.state.Mutation = MutationStatus{State: MutationIdle, InstanceID: instanceID, Last: MutationFailed, Error: err.Error()}
		c.recomputeLocked()
		c.publishLocked()
		return c.snapshotLocked(), fmt.Errorf("update instance %s: %w", instanceID, err)
	}

	seq := c.nextSeqLocked()
	c.applied = seq
	c.state.Seq = seq
	c.confirmed = tenant.CloneInstances(confirmed)
	c.state.Instances = tenant.CloneInstances(confirmed)
	c.state.Mutation = MutationStatus{State: MutationIdle, InstanceID: instanceID, Last: MutationSuccess}
	c.recomputeLocked()
	c.publishLocked()
	return c.snapshotLocked(), nil
}

// Close cancels the live channel and closes Updates. Completions arriving
// afterwards are discarded. It is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	close(c.updates)
	c.mu.Unlock()

	c.cancel()
	if sub != nil {
		sub.Cancel()
	}
}

func (c *Controller) applyDelta(d live.Delta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// Deltas arrive in commit order and are always the newest data, so they
	// take the next number and are applied unconditionally.
	seq := c.nextSeqLocked()
	c.applied = seq
	c.state.Seq = seq
	c.confirmed = tenant.CloneInstances(d.Instances)
	c.state.Instances = tenant.CloneInstances(d.Instances)
	if c.state.Instances == nil {
		c.state.Instances = []tenant.Instance{}
	}
	c.recomputeLocked()
	c.publishLocked()
}

func (c *Controller) handleDisconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.log.Info("live updates stopped, manual refresh only", zap.Error(err))
	c.sub = nil
	c.state.Live = false
	c.state.LiveError = err.Error()
	c.publishLocked()
}

func (c *Controller) nextSeqLocked() uint64 {
	c.seq++
	return c.seq
}

func (c *Controller) now() time.Time {
	return c.opts.Now().In(c.opts.Location)
}

func (c *Controller) recomputeLocked() {
	c.state.Stats = stats.Aggregate(c.state.Leads, c.state.Instances, c.now())
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	s.Instances = tenant.CloneInstances(c.state.Instances)
	s.Leads = append([]tenant.Lead{}, c.state.Leads...)
	s.Brokers = append([]tenant.Broker{}, c.state.Brokers...)
	s.Warnings = append([]fetcher.Warning(nil), c.state.Warnings...)
	s.Stats.StatusDistribution = append([]stats.StatusCount{}, c.state.Stats.StatusDistribution...)
	s.Stats.Series = append([]stats.DailyCount(nil), c.state.Stats.Series...)
	return s
}

func (c *Controller) publishLocked() {
	if c.closed {
		return
	}
	snap := c.snapshotLocked()
	select {
	case c.updates <- snap:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}
