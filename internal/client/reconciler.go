// README: Client-side order status reconciler: applies pushes, polls as a fallback, stops at terminal.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quickcart/internal/modules/order"
	"quickcart/internal/types"
)

const (
	DefaultPollInterval     = 30 * time.Second
	DefaultPollTimeout      = 5 * time.Second
	DefaultFailureThreshold = 3
)

// Source says where a status change was learned from.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Snapshot is the authoritative status as reported by the server.
type Snapshot struct {
	OrderID       types.ID     `json:"orderId"`
	Status        order.Status `json:"status"`
	StatusVersion int          `json:"statusVersion"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Fetcher reads the authoritative status of one order.
type Fetcher interface {
	FetchStatus(ctx context.Context, id types.ID) (Snapshot, error)
}

// Change is surfaced to the UI whenever the local status moves.
type Change struct {
	OrderID       types.ID
	From          order.Status
	To            order.Status
	StatusVersion int
	Source        Source
}

type Options struct {
	PollInterval     time.Duration
	PollTimeout      time.Duration
	FailureThreshold int

	// OnChange is called for every surfaced status change, outside the reconciler lock.
	OnChange func(Change)
	// OnEscalate fires once when consecutive poll failures reach FailureThreshold.
	OnEscalate func(failures int, lastErr error)
	// OnRecover fires when a poll succeeds after an escalation.
	OnRecover func()

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// State is a copy of the reconciler's local view.
type State struct {
	Status        order.Status
	StatusVersion int
	LastSync      time.Time
	Failures      int
	Escalated     bool
}

type Reconciler struct {
	orderID types.ID
	fetcher Fetcher
	opts    Options

	mu        sync.Mutex
	status    order.Status
	version   int
	lastSync  time.Time
	failures  int
	escalated bool

	reconnect chan struct{}
	terminal  chan struct{}
}

// NewReconciler starts from the status the client already knows (for example from the
// order list). An empty initial status means unknown; the first poll fills it in.
func NewReconciler(orderID types.ID, initial order.Status, fetcher Fetcher, opts Options) *Reconciler {
	opts.applyDefaults()
	r := &Reconciler{
		orderID:   orderID,
		fetcher:   fetcher,
		opts:      opts,
		status:    initial,
		reconnect: make(chan struct{}, 1),
		terminal:  make(chan struct{}),
	}
	if initial.Terminal() {
		close(r.terminal)
	}
	return r
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Status:        r.status,
		StatusVersion: r.version,
		LastSync:      r.lastSync,
		Failures:      r.failures,
		Escalated:     r.escalated,
	}
}

// Done is closed once the local status is terminal.
func (r *Reconciler) Done() <-chan struct{} { return r.terminal }

// ApplyPush applies a pushed status. It reports whether the local status changed.
func (r *Reconciler) ApplyPush(orderID types.ID, status order.Status, version int) bool {
	if orderID != r.orderID || !status.Valid() {
		return false
	}
	return r.apply(status, version, SourcePush)
}

// OnReconnect asks Run to poll right away. It never blocks.
func (r *Reconciler) OnReconnect() {
	select {
	case r.reconnect <- struct{}{}:
	default:
	}
}

// Poll fetches the authoritative status once. Failures are counted, escalated past the
// threshold and returned for logging; callers are not expected to act on them.
func (r *Reconciler) Poll(ctx context.Context) error {
	if r.isTerminal() {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, r.opts.PollTimeout)
	defer cancel()

	snap, err := r.fetcher.FetchStatus(pctx, r.orderID)
	if err != nil {
		r.pollFailed(err)
		return err
	}
	if !snap.Status.Valid() {
		err := errors.New("poll returned unknown status " + string(snap.Status))
		r.pollFailed(err)
		return err
	}
	r.pollSucceeded()
	r.apply(snap.Status, snap.StatusVersion, SourcePoll)
	return nil
}

// Run polls once, then on every interval tick and after each reconnect, until the
// status is terminal or ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	r.pollLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.terminal:
			return nil
		case <-ticker.C:
			r.pollLogged(ctx)
		case <-r.reconnect:
			r.pollLogged(ctx)
			ticker.Reset(r.opts.PollInterval)
		}
	}
}

func (r *Reconciler) pollLogged(ctx context.Context) {
	if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
		r.opts.Logger.Debug("status poll failed", "order_id", r.orderID, "err", err)
	}
}

func (r *Reconciler) apply(status order.Status, version int, src Source) bool {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return false
	}
	if version < r.version {
		r.mu.Unlock()
		r.opts.Logger.Debug("ignoring stale status", "order_id", r.orderID, "status", status, "status_version", version, "local_version", r.version)
		return false
	}
	r.lastSync = time.Now()
	r.version = version
	if status == r.status {
		r.mu.Unlock()
		return false
	}
	change := Change{OrderID: r.orderID, From: r.status, To: status, StatusVersion: version, Source: src}
	r.status = status
	reachedTerminal := status.Terminal()
	if reachedTerminal {
		close(r.terminal)
	}
	r.mu.Unlock()

	if r.opts.OnChange != nil {
		r.opts.OnChange(change)
	}
	return true
}

func (r *Reconciler) pollFailed(err error) {
	r.mu.Lock()
	r.failures++
	failures := r.failures
	escalate := failures >= r.opts.FailureThreshold && !r.escalated
	if escalate {
		r.escalated = true
	}
	r.mu.Unlock()

	if escalate {
		r.opts.Logger.Warn("status refresh failing", "order_id", r.orderID, "failures", failures, "err", err)
		if r.opts.OnEscalate != nil {
			r.opts.OnEscalate(failures, err)
		}
	}
}

func (r *Reconciler) pollSucceeded() {
	r.mu.Lock()
	recovered := r.escalated
	r.failures = 0
	r.escalated = false
	r.mu.Unlock()

	if recovered && r.opts.OnRecover != nil {
		r.opts.OnRecover()
	}
}

func (r *Reconciler) isTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Terminal()
}
