package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gallery-orders/internal/domain/basket"
)

var _ basket.Repository = (*BasketRepository)(nil)

// BasketRepository implements basket.Repository backed by PostgreSQL.
type BasketRepository struct {
	pool *pgxpool.Pool
}

// NewBasketRepository returns a BasketRepository that uses the given pool.
func NewBasketRepository(pool *pgxpool.Pool) *BasketRepository {
	return &BasketRepository{pool: pool}
}

const basketColumns = `id, user_id, session_key, last_updated`

func scanBasket(row pgx.Row) (*basket.Basket, error) {
	var b basket.Basket
	if err := row.Scan(&b.ID, &b.UserID, &b.SessionKey, &b.LastUpdated); err != nil {
		return nil, err
	}
	return &b, nil
}

// FindByOwner looks up the basket for a user or an anonymous session.
func (r *BasketRepository) FindByOwner(ctx context.Context, owner basket.OwnerKey) (*basket.Basket, error) {
	var row pgx.Row
	if owner.UserID != nil {
		row = engine(ctx, r.pool).QueryRow(ctx,
			`SELECT `+basketColumns+` FROM baskets WHERE user_id = $1`, *owner.UserID)
	} else {
		row = engine(ctx, r.pool).QueryRow(ctx,
			`SELECT `+basketColumns+` FROM baskets WHERE user_id IS NULL AND session_key = $1`,
			owner.SessionKey)
	}

	b, err := scanBasket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, basket.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find basket by owner")
	}
	return b, nil
}

// Create inserts the basket, assigning a random ID.
func (r *BasketRepository) Create(ctx context.Context, b *basket.Basket) error {
	const q = `INSERT INTO baskets (id, user_id, session_key, last_updated)
		VALUES ($1, $2, $3, $4)`

	for attempt := 0; attempt < idAttempts; attempt++ {
		b.ID = randomID()
		_, err := engine(ctx, r.pool).Exec(ctx, q, b.ID, b.UserID, b.SessionKey, b.LastUpdated)
		if isIDCollision(err, "baskets") {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "create basket")
		}
		return nil
	}
	return errors.New("create basket: exhausted ID attempts")
}

// Touch refreshes the basket's freshness window.
func (r *BasketRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := engine(ctx, r.pool).Exec(ctx,
		`UPDATE baskets SET last_updated = $2 WHERE id = $1`, id, at)
	if err != nil {
		return errors.Wrapf(err, "touch basket %d", id)
	}
	return nil
}

// Delete removes the basket row. Items referencing it are detached by the
// ON DELETE SET NULL constraint, so a stray delete cannot strand holders.
func (r *BasketRepository) Delete(ctx context.Context, id int64) error {
	_, err := engine(ctx, r.pool).Exec(ctx, `DELETE FROM baskets WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete basket %d", id)
	}
	return nil
}
