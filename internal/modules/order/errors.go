// README: Order error taxonomy.
package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("order not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("order was modified concurrently")
	ErrBadRequest             = errors.New("bad request")

	ErrReasonRequired = fmt.Errorf("%w: rejection reason is required", ErrBadRequest)
	ErrUnknownStatus  = fmt.Errorf("%w: unknown status", ErrBadRequest)
)

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: cannot move order from %s to %s", ErrInvalidTransition, from, to)
}
