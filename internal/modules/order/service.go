// README: Order service implements checkout, validated status transitions and their side effects.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quickcart/internal/observability"
	"quickcart/internal/types"
)

const (
	defaultUserListLimit   = 50
	defaultActiveListLimit = 100
	maxListLimit           = 500
	staleBatchSize         = 100
)

// Pricing turns checkout lines into priced items.
type Pricing interface {
	Quote(ctx context.Context, lines []LineInput) ([]Item, error)
}

// Notifier is informed after a status change has committed. Errors are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, c StatusChange) error
}

// StatusCache holds a short-lived status snapshot per order.
type StatusCache interface {
	PutStatus(ctx context.Context, s StatusSnapshot) error
	GetStatus(ctx context.Context, id types.ID) (StatusSnapshot, bool, error)
}

// IdempotencyStore maps a checkout idempotency key to the order id it created.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, id types.ID) (types.ID, bool, error)
	Release(ctx context.Context, key string) error
}

type Service struct {
	repo     Repository
	pricing  Pricing
	notifier Notifier
	cache    StatusCache
	idem     IdempotencyStore
	metrics  *observability.Metrics
	log      *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithCache(c StatusCache) Option { return func(s *Service) { s.cache = c } }

func WithIdempotency(i IdempotencyStore) Option { return func(s *Service) { s.idem = i } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides time.Now; tests use it to pin updatedAt.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, pricing Pricing, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		pricing: pricing,
		log:     slog.Default(),
		tracer:  otel.Tracer("quickcart/order"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type LineInput struct {
	ProductID types.ID
	Quantity  int
	// Name and UnitPrice are only trusted when no catalog is configured.
	Name      string
	UnitPrice *types.Money
}

type CreateCommand struct {
	UserID          types.ID
	Items           []LineInput
	DeliveryAddress types.Address
	IdempotencyKey  string
}

type TransitionCommand struct {
	OrderID   types.ID
	Status    Status
	Reason    string
	ActorType ActorType
	ActorID   *types.ID
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrBadRequest)
	}
	if len(cmd.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrBadRequest)
	}
	for i, l := range cmd.Items {
		if l.ProductID == "" || l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d needs a productId and a positive quantity", ErrBadRequest, i)
		}
	}
	if cmd.DeliveryAddress.IsZero() {
		return nil, fmt.Errorf("%w: deliveryAddress is required", ErrBadRequest)
	}

	id := types.ID(uuid.NewString())
	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" && s.idem != nil {
		existing, claimed, err := s.idem.Claim(ctx, key, id)
		switch {
		case err != nil:
			s.log.WarnContext(ctx, "idempotency claim failed", "key", key, "err", err)
		case !claimed:
			o, err := s.repo.Get(ctx, existing)
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: a request with this idempotency key is still in progress", ErrConcurrentModification)
			}
			return o, err
		default:
			o, err := s.create(ctx, id, cmd)
			if err != nil {
				if rerr := s.idem.Release(context.WithoutCancel(ctx), key); rerr != nil {
					s.log.WarnContext(ctx, "idempotency release failed", "key", key, "err", rerr)
				}
			}
			return o, err
		}
	}
	return s.create(ctx, id, cmd)
}

func (s *Service) create(ctx context.Context, id types.ID, cmd CreateCommand) (*Order, error) {
	items, err := s.pricing.Quote(ctx, cmd.Items)
	if err != nil {
		return nil, err
	}
	total := types.Zero(items[0].UnitPrice.Currency)
	for _, it := range items {
		if it.UnitPrice.Currency != total.Currency {
			return nil, fmt.Errorf("%w: mixed currencies in one order", ErrBadRequest)
		}
		total = total.Add(it.LineTotal())
	}

	now := s.now().UTC()
	o := &Order{
		ID:              id,
		UserID:          cmd.UserID,
		Items:           items,
		TotalAmount:     total,
		Status:          StatusPendingAdminDecision,
		StatusVersion:   0,
		DeliveryAddress: cmd.DeliveryAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(context.WithoutCancel(ctx), o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.log.InfoContext(ctx, "order created",
		"order_id", o.ID, "order_number", o.OrderNumber, "user_id", o.UserID, "total", o.TotalAmount.String())

	s.afterCommit(context.WithoutCancel(ctx), o, StatusNone)
	return o, nil
}

// ApplyTransition validates and persists one status change, then informs the cache and notifier.
func (s *Service) ApplyTransition(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.ApplyTransition", trace.WithAttributes(
		attribute.String("order.id", string(cmd.OrderID)),
		attribute.String("order.to", string(cmd.Status)),
		attribute.String("order.actor", string(cmd.ActorType)),
	))
	defer span.End()

	o, from, err := s.applyTransition(ctx, cmd)
	s.metrics.ObserveTransition(string(from), string(cmd.Status), resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("order.from", string(from)), attribute.Int("order.status_version", o.StatusVersion))
	return o, nil
}

func (s *Service) applyTransition(ctx context.Context, cmd TransitionCommand) (*Order, Status, error) {
	if cmd.OrderID == "" {
		return nil, "", fmt.Errorf("%w: order id is required", ErrBadRequest)
	}
	if !cmd.Status.Valid() {
		return nil, "", fmt.Errorf("%w %q", ErrUnknownStatus, cmd.Status)
	}
	var reason *string
	if cmd.Status == StatusRejectedByAdmin {
		r := strings.TrimSpace(cmd.Reason)
		if r == "" {
			return nil, "", ErrReasonRequired
		}
		reason = &r
	}
	actor := cmd.ActorType
	if actor == "" {
		actor = ActorAdmin
	}

	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("load order %s: %w", cmd.OrderID, err)
	}
	from := o.Status
	if !CanTransition(from, cmd.Status) {
		return nil, from, invalidTransition(from, cmd.Status)
	}

	now := s.now().UTC()
	u := StatusUpdate{
		OrderID:         o.ID,
		ExpectedStatus:  from,
		ExpectedVersion: o.StatusVersion,
		NewStatus:       cmd.Status,
		RejectionReason: reason,
		UpdatedAt:       now,
		Event: Event{
			OrderID:    o.ID,
			FromStatus: from,
			ToStatus:   cmd.Status,
			Reason:     reason,
			ActorType:  actor,
			ActorID:    cmd.ActorID,
			CreatedAt:  now,
		},
	}
	// Once issued, the write is not cancelled with the caller.
	wctx := context.WithoutCancel(ctx)
	if err := s.repo.CompareAndSetStatus(wctx, u); err != nil {
		if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrNotFound) {
			return nil, from, err
		}
		return nil, from, fmt.Errorf("update order %s status: %w", o.ID, err)
	}

	o.Status = cmd.Status
	o.StatusVersion++
	o.UpdatedAt = now
	o.RejectionReason = reason

	s.log.InfoContext(ctx, "order status changed",
		"order_id", o.ID, "from", from, "to", o.Status, "status_version", o.StatusVersion, "actor", actor)
	s.afterCommit(wctx, o, from)
	return o, from, nil
}

// ApplyTransitionWithRetry retries once after a concurrent modification. The retry rereads
// the order, so it only goes through if the edge is still valid from the new status.
func (s *Service) ApplyTransitionWithRetry(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	o, err := s.ApplyTransition(ctx, cmd)
	if !errors.Is(err, ErrConcurrentModification) {
		return o, err
	}
	s.log.DebugContext(ctx, "retrying transition after concurrent modification", "order_id", cmd.OrderID, "to", cmd.Status)
	return s.ApplyTransition(ctx, cmd)
}

func (s *Service) Accept(ctx context.Context, id types.ID, actorID *types.ID) (*Order, error) {
	return s.ApplyTransition(ctx, TransitionCommand{OrderID: id, Status: StatusAdminAccepted, ActorType: ActorAdmin, ActorID: actorID})
}

func (s *Service) Reject(ctx context.Context, id types.ID, reason string, actorID *types.ID) (*Order, error) {
	return s.ApplyTransition(ctx, TransitionCommand{OrderID: id, Status: StatusRejectedByAdmin, Reason: reason, ActorType: ActorAdmin, ActorID: actorID})
}

func (s *Service) Cancel(ctx context.Context, id types.ID, actor ActorType, actorID *types.ID) (*Order, error) {
	return s.ApplyTransition(ctx, TransitionCommand{OrderID: id, Status: StatusCancelled, ActorType: actor, ActorID: actorID})
}

func (s *Service) afterCommit(ctx context.Context, o *Order, from Status) {
	if s.cache != nil {
		if err := s.cache.PutStatus(ctx, snapshotOf(o)); err != nil {
			s.log.WarnContext(ctx, "status cache write failed", "order_id", o.ID, "err", err)
		}
	}
	if s.notifier == nil {
		return
	}
	change := StatusChange{
		OrderID:       o.ID,
		UserID:        o.UserID,
		OrderNumber:   o.OrderNumber,
		From:          from,
		Status:        o.Status,
		StatusVersion: o.StatusVersion,
		Reason:        o.RejectionReason,
		At:            o.UpdatedAt,
	}
	if err := s.notifier.Notify(ctx, change); err != nil {
		s.log.WarnContext(ctx, "status change notification failed", "order_id", o.ID, "status", o.Status, "err", err)
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// GetStatus serves from the cache when possible and fills it on a miss.
func (s *Service) GetStatus(ctx context.Context, id types.ID) (StatusSnapshot, error) {
	if s.cache != nil {
		snap, ok, err := s.cache.GetStatus(ctx, id)
		if err != nil {
			s.log.WarnContext(ctx, "status cache read failed", "order_id", id, "err", err)
		} else if ok {
			return snap, nil
		}
	}
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return StatusSnapshot{}, err
	}
	snap := snapshotOf(o)
	if s.cache != nil {
		if err := s.cache.PutStatus(ctx, snap); err != nil {
			s.log.WarnContext(ctx, "status cache fill failed", "order_id", id, "err", err)
		}
	}
	return snap, nil
}

func (s *Service) ListByUser(ctx context.Context, userID types.ID, limit int) ([]*Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrBadRequest)
	}
	return s.repo.ListByUser(ctx, userID, clampLimit(limit, defaultUserListLimit))
}

func (s *Service) ListActive(ctx context.Context, limit int) ([]*Order, error) {
	return s.repo.ListActive(ctx, clampLimit(limit, defaultActiveListLimit))
}

func (s *Service) Events(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, id)
}

// RunDecisionTimeoutMonitor cancels orders that waited longer than timeout for an admin decision.
func (s *Service) RunDecisionTimeoutMonitor(ctx context.Context, timeout, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.CancelStaleOrders(ctx, timeout); err != nil {
				s.log.ErrorContext(ctx, "decision timeout sweep failed", "err", err)
			} else if n > 0 {
				s.log.InfoContext(ctx, "cancelled orders without admin decision", "count", n)
			}
		}
	}
}

// CancelStaleOrders runs one sweep and returns how many orders it cancelled.
func (s *Service) CancelStaleOrders(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-timeout)
	stale, err := s.repo.ListStale(ctx, StatusPendingAdminDecision, cutoff, staleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}
	cancelled := 0
	for _, o := range stale {
		_, err := s.ApplyTransitionWithRetry(ctx, TransitionCommand{
			OrderID:   o.ID,
			Status:    StatusCancelled,
			ActorType: ActorSystem,
		})
		switch {
		case err == nil:
			cancelled++
			s.metrics.IncMonitorCancellations()
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrentModification):
			// An admin decided in the meantime.
			s.log.DebugContext(ctx, "skip stale order", "order_id", o.ID, "err", err)
		default:
			return cancelled, err
		}
	}
	return cancelled, nil
}

func snapshotOf(o *Order) StatusSnapshot {
	return StatusSnapshot{
		OrderID:       o.ID,
		Status:        o.Status,
		StatusVersion: o.StatusVersion,
		UpdatedAt:     o.UpdatedAt,
	}
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return observability.ResultOK
	case errors.Is(err, ErrInvalidTransition):
		return observability.ResultInvalidTransition
	case errors.Is(err, ErrConcurrentModification):
		return observability.ResultConcurrentModification
	case errors.Is(err, ErrNotFound):
		return observability.ResultNotFound
	default:
		return observability.ResultError
	}
}
