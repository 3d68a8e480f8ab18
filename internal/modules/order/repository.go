// README: Persistence contract consumed by the order service.
package order

import (
	"context"
	"time"

	"quickcart/internal/types"
)

// StatusUpdate is a single conditional status write. It succeeds only when the row still
// carries ExpectedStatus and ExpectedVersion.
type StatusUpdate struct {
	OrderID         types.ID
	ExpectedStatus  Status
	ExpectedVersion int
	NewStatus       Status
	RejectionReason *string
	UpdatedAt       time.Time
	Event           Event
}

// Repository is implemented by the Postgres store and the in-memory store.
//
// CompareAndSetStatus returns ErrNotFound when the order does not exist and
// ErrConcurrentModification when the expected status/version no longer match.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	CompareAndSetStatus(ctx context.Context, u StatusUpdate) error
	ListByUser(ctx context.Context, userID types.ID, limit int) ([]*Order, error)
	ListActive(ctx context.Context, limit int) ([]*Order, error)
	ListStale(ctx context.Context, status Status, olderThan time.Time, limit int) ([]*Order, error)
	Events(ctx context.Context, id types.ID) ([]Event, error)
}
