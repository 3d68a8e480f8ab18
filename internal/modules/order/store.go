// README: Order store backed by PostgreSQL; status writes are conditional on the observed status and version.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
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

var _ Repository = (*Store)(nil)

const orderColumns = `
	id, order_number, user_id, status, status_version,
	total_amount, currency, rejection_reason, delivery_address,
	created_at, updated_at`

func (s *Store) Create(ctx context.Context, o *Order) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, status, status_version,
			total_amount, currency, rejection_reason, delivery_address,
			created_at, updated_at
		) VALUES (
			$1, 'QC' || lpad(nextval('order_number_seq')::text, 6, '0'), $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10
		)
		RETURNING order_number`,
		string(o.ID),
		string(o.UserID),
		string(o.Status),
		o.StatusVersion,
		o.TotalAmount.Amount,
		o.TotalAmount.Currency,
		o.RejectionReason,
		o.DeliveryAddress,
		o.CreatedAt,
		o.UpdatedAt,
	).Scan(&o.OrderNumber)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(o.ID), i, string(it.ProductID), it.Name, it.Quantity, it.UnitPrice.Amount,
		)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}

	if err := appendEvent(ctx, tx, &Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   o.Status,
		ActorType:  ActorCustomer,
		ActorID:    &o.UserID,
		CreatedAt:  o.CreatedAt,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) CompareAndSetStatus(ctx context.Context, u StatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
			status_version = status_version + 1,
			rejection_reason = $2,
			updated_at = $3
		WHERE id = $4 AND status = $5 AND status_version = $6`,
		string(u.NewStatus),
		u.RejectionReason,
		u.UpdatedAt,
		string(u.OrderID),
		string(u.ExpectedStatus),
		u.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() != 1 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, string(u.OrderID)).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}

	ev := u.Event
	if err := appendEvent(ctx, tx, &ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListByUser(ctx context.Context, userID types.ID, limit int) ([]*Order, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(userID), limit)
}

func (s *Store) ListActive(ctx context.Context, limit int) ([]*Order, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status NOT IN ('DELIVERED', 'REJECTED_BY_ADMIN', 'CANCELLED')
		ORDER BY created_at DESC
		LIMIT $1`, limit)
}

func (s *Store) ListStale(ctx context.Context, status Status, olderThan time.Time, limit int) ([]*Order, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, string(status), olderThan, limit)
}

func (s *Store) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, reason, actor_type, actor_id, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.Reason, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			a := types.ID(*actorID)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*Order, len(orders))
	for i, o := range orders {
		ids[i] = string(o.ID)
		byID[string(o.ID)] = o
	}

	rows, err := s.db.Query(ctx, `
		SELECT order_id, product_id, name, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID, productID string
		var it Item
		var price decimal.Decimal
		if err := rows.Scan(&orderID, &productID, &it.Name, &it.Quantity, &price); err != nil {
			return err
		}
		o := byID[orderID]
		it.ProductID = types.ID(productID)
		it.UnitPrice = types.NewMoney(price, o.TotalAmount.Currency)
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var id, userID, status string
	var total decimal.Decimal
	var currency string
	err := row.Scan(
		&id, &o.OrderNumber, &userID, &status, &o.StatusVersion,
		&total, &currency, &o.RejectionReason, &o.DeliveryAddress,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.ID = types.ID(id)
	o.UserID = types.ID(userID)
	// Rows written before the status rename may still carry the legacy name.
	if st, ok := ParseStatus(status); ok {
		o.Status = st
	} else {
		return nil, fmt.Errorf("order %s: unknown status %q", id, status)
	}
	o.TotalAmount = types.NewMoney(total, currency)
	return &o, nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	var actorID *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actorID = &v
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, reason, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.Reason,
		string(e.ActorType),
		actorID,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append order event: %w", err)
	}
	return nil
}
