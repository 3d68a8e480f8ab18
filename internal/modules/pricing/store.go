// README: Product price lookup backed by PostgreSQL.
package pricing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"quickcart/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

var _ Catalog = (*Store)(nil)

// Products returns the requested products keyed by id. Unknown ids are simply absent.
func (s *Store) Products(ctx context.Context, ids []types.ID) (map[types.ID]Product, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, price, currency, active, updated_at
		FROM products
		WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	out := make(map[types.ID]Product, len(ids))
	for rows.Next() {
		var (
			p        Product
			id       string
			price    decimal.Decimal
			currency string
		)
		if err := rows.Scan(&id, &p.Name, &price, &currency, &p.Active, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ID = types.ID(id)
		p.Price = types.NewMoney(price, currency)
		out[p.ID] = p
	}
	return out, rows.Err()
}
