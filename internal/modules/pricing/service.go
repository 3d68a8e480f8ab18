// README: Pricing service prices checkout lines from the product catalog.
package pricing

import (
	"context"
	"fmt"

	"quickcart/internal/modules/order"
	"quickcart/internal/types"
)

type Catalog interface {
	Products(ctx context.Context, ids []types.ID) (map[types.ID]Product, error)
}

type Service struct {
	catalog Catalog
}

// NewService prices from catalog. A nil catalog trusts the prices sent by the client,
// which is only meant for the in-memory mode.
func NewService(catalog Catalog) *Service {
	return &Service{catalog: catalog}
}

var _ order.Pricing = (*Service)(nil)

func (s *Service) Quote(ctx context.Context, lines []order.LineInput) ([]order.Item, error) {
	if s.catalog == nil {
		return supplied(lines)
	}

	ids := make([]types.ID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]order.Item, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.Active {
			return nil, fmt.Errorf("%w: product %s is not available", order.ErrBadRequest, l.ProductID)
		}
		items = append(items, order.Item{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  l.Quantity,
			UnitPrice: p.Price,
		})
	}
	return items, nil
}

func supplied(lines []order.LineInput) ([]order.Item, error) {
	items := make([]order.Item, 0, len(lines))
	for _, l := range lines {
		if l.UnitPrice == nil || l.UnitPrice.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: item %s needs a non-negative unitPrice", order.ErrBadRequest, l.ProductID)
		}
		price := *l.UnitPrice
		if price.Currency == "" {
			price.Currency = types.DefaultCurrency
		}
		name := l.Name
		if name == "" {
			name = string(l.ProductID)
		}
		items = append(items, order.Item{
			ProductID: l.ProductID,
			Name:      name,
			Quantity:  l.Quantity,
			UnitPrice: price,
		})
	}
	return items, nil
}
