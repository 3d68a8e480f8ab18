// README: Catalog product as seen by checkout pricing.
package pricing

import (
	"time"

	"quickcart/internal/types"
)

type Product struct {
	ID        types.ID
	Name      string
	Price     types.Money
	Active    bool
	UpdatedAt time.Time
}
