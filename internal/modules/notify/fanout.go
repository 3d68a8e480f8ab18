// README: Combines several notifiers behind one.
package notify

import (
	"context"
	"errors"

	"quickcart/internal/modules/order"
)

// Fanout calls every notifier in order and joins their errors.
type Fanout []order.Notifier

func (f Fanout) Notify(ctx context.Context, c order.StatusChange) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
