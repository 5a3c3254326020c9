package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gallery-orders/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, user_id, session_key, email, customer_name,
	recipient_name, address, created_at, status, total_balance, transaction_id`

// GetByID returns a single order, or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	row := engine(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	var o order.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.SessionKey, &o.Email, &o.CustomerName,
		&o.RecipientName, &o.Address, &o.CreatedAt, &o.Status,
		&o.TotalBalance, &o.TransactionID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return &o, nil
}

// Create inserts the order, assigning a random ID.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	const q = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for attempt := 0; attempt < idAttempts; attempt++ {
		o.ID = randomID()
		_, err := engine(ctx, r.pool).Exec(ctx, q,
			o.ID, o.UserID, o.SessionKey, o.Email, o.CustomerName,
			o.RecipientName, o.Address, o.CreatedAt, o.Status,
			o.TotalBalance, o.TransactionID,
		)
		if isIDCollision(err, "orders") {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "create order")
		}
		return nil
	}
	return errors.New("create order: exhausted ID attempts")
}

// Update persists the mutable lifecycle fields: status, recorded balance
// and transaction ID, plus the contact/address fields staff may amend.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	const q = `UPDATE orders SET
		email = $2, customer_name = $3, recipient_name = $4, address = $5,
		status = $6, total_balance = $7, transaction_id = $8
		WHERE id = $1`

	ct, err := engine(ctx, r.pool).Exec(ctx, q,
		o.ID, o.Email, o.CustomerName, o.RecipientName, o.Address,
		o.Status, o.TotalBalance, o.TransactionID,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %d", o.ID)
	}
	if ct.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Delete removes the order row. Item holders referencing it are detached
// by ON DELETE SET NULL, though the state machine releases them first.
func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	_, err := engine(ctx, r.pool).Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete order %d", id)
	}
	return nil
}
