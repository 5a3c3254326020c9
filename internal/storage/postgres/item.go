package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/gallery-orders/internal/domain/item"
)

var _ item.Repository = (*ItemRepository)(nil)

// ItemRepository implements item.Repository backed by PostgreSQL. The
// holder relation lives in the nullable basket_id/order_id columns; a
// CHECK constraint keeps them mutually exclusive.
type ItemRepository struct {
	pool *pgxpool.Pool
}

// NewItemRepository returns an ItemRepository that uses the given pool.
func NewItemRepository(pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{pool: pool}
}

const itemColumns = `id, name, price, category_id, index_in_category, basket_id, order_id`

func scanItem(row pgx.Row) (*item.Item, error) {
	var it item.Item
	err := row.Scan(
		&it.ID, &it.Name, &it.Price,
		&it.CategoryID, &it.IndexInCategory,
		&it.BasketID, &it.OrderID,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// GetByID returns a single item, or item.ErrNotFound.
func (r *ItemRepository) GetByID(ctx context.Context, id int64) (*item.Item, error) {
	row := engine(ctx, r.pool).QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id)

	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, item.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get item %d", id)
	}
	return it, nil
}

// Create inserts the item, assigning a random ID and the next ordering
// index within its category.
func (r *ItemRepository) Create(ctx context.Context, it *item.Item) error {
	const q = `
		INSERT INTO items (id, name, price, category_id, index_in_category)
		VALUES ($1, $2, $3, $4,
			(SELECT COALESCE(MAX(index_in_category), 0) + 1 FROM items WHERE category_id = $4))
		RETURNING index_in_category`

	for attempt := 0; attempt < idAttempts; attempt++ {
		it.ID = randomID()
		err := engine(ctx, r.pool).
			QueryRow(ctx, q, it.ID, it.Name, it.Price, it.CategoryID).
			Scan(&it.IndexInCategory)
		if isIDCollision(err, "items") {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "create item")
		}
		return nil
	}
	return errors.New("create item: exhausted ID attempts")
}

// UpdatePrice sets the item's price; nil marks the item as not for sale.
// Items already held by an order keep their recorded order balance, so
// repricing a sold item surfaces later as a balance integrity violation.
func (r *ItemRepository) UpdatePrice(ctx context.Context, id int64, price *decimal.Decimal) error {
	ct, err := engine(ctx, r.pool).Exec(ctx,
		`UPDATE items SET price = $2 WHERE id = $1`, id, price)
	if err != nil {
		return errors.Wrapf(err, "update item %d price", id)
	}
	if ct.RowsAffected() == 0 {
		return item.ErrNotFound
	}
	return nil
}

// Reserve assigns the item to the basket with a single compare-and-set
// UPDATE keyed on the current holder. Of two racing calls exactly one
// matches the guard; the loser is diagnosed below.
func (r *ItemRepository) Reserve(ctx context.Context, itemID, basketID int64) (*item.Item, error) {
	const q = `
		UPDATE items SET basket_id = $2
		WHERE id = $1
		  AND price IS NOT NULL
		  AND order_id IS NULL
		  AND (basket_id IS NULL OR basket_id = $2)`

	ct, err := engine(ctx, r.pool).Exec(ctx, q, itemID, basketID)
	if err != nil {
		return nil, errors.Wrapf(err, "reserve item %d", itemID)
	}
	if ct.RowsAffected() == 1 {
		return r.GetByID(ctx, itemID)
	}

	// The guard did not match; find out why.
	it, err := r.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !it.Sellable() {
		return nil, item.ErrUnpriced
	}
	return nil, item.ErrAlreadyReserved
}

// Release returns the item to the free pool. Idempotent: releasing a free
// or unknown item is a no-op.
func (r *ItemRepository) Release(ctx context.Context, itemID int64) error {
	_, err := engine(ctx, r.pool).Exec(ctx,
		`UPDATE items SET basket_id = NULL, order_id = NULL WHERE id = $1`, itemID)
	if err != nil {
		return errors.Wrapf(err, "release item %d", itemID)
	}
	return nil
}

// MoveMany atomically reassigns the listed items from one holder to
// another. When run outside a surrounding transaction it opens its own, so
// a partial match never commits.
func (r *ItemRepository) MoveMany(ctx context.Context, itemIDs []int64, from, to item.Holder) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return r.moveMany(ctx, engine(ctx, r.pool), itemIDs, from, to)
	}
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return r.moveMany(ctx, tx, itemIDs, from, to)
	})
}

func (r *ItemRepository) moveMany(ctx context.Context, q querier, itemIDs []int64, from, to item.Holder) error {
	assign, args := holderAssignment(to, 1)
	pred, predArgs := holderPredicate(from, 1+len(args))
	args = append([]any{itemIDs}, args...)
	args = append(args, predArgs...)

	ct, err := q.Exec(ctx,
		`UPDATE items SET `+assign+` WHERE id = ANY($1) AND `+pred, args...)
	if err != nil {
		return errors.Wrap(err, "move items")
	}
	if ct.RowsAffected() == int64(len(itemIDs)) {
		return nil
	}

	// Some item's holder did not match; name the offenders and roll back.
	offPred, offArgs := holderPredicate(from, 1)
	offArgs = append([]any{itemIDs}, offArgs...)
	rows, err := q.Query(ctx,
		`SELECT id FROM items WHERE id = ANY($1) AND NOT (`+offPred+`)`, offArgs...)
	if err != nil {
		return errors.Wrap(err, "find mismatched items")
	}
	defer rows.Close()

	var offending []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return errors.Wrap(err, "scan mismatched item")
		}
		offending = append(offending, id)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate mismatched items")
	}
	return &item.HolderMismatchError{Expected: from, ItemIDs: offending}
}

// PriceSum returns the sum of the listed items' prices, zero for an empty
// set.
func (r *ItemRepository) PriceSum(ctx context.Context, itemIDs []int64) (decimal.Decimal, error) {
	if len(itemIDs) == 0 {
		return decimal.Zero, nil
	}

	var sum decimal.Decimal
	err := engine(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(price), 0) FROM items WHERE id = ANY($1)`, itemIDs).
		Scan(&sum)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "sum item prices")
	}
	return sum, nil
}

// ListByHolder returns all items assigned to the holder, in catalog order.
func (r *ItemRepository) ListByHolder(ctx context.Context, h item.Holder) ([]item.Item, error) {
	pred, args := holderPredicate(h, 0)
	rows, err := engine(ctx, r.pool).Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE `+pred+
			` ORDER BY category_id, index_in_category`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list items by holder")
	}
	defer rows.Close()

	var out []item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// holderPredicate builds the WHERE condition matching items currently held
// by h. Placeholders start at argOffset+1.
func holderPredicate(h item.Holder, argOffset int) (string, []any) {
	switch h.Kind {
	case item.HolderBasket:
		return fmt.Sprintf("basket_id = $%d AND order_id IS NULL", argOffset+1), []any{h.ID}
	case item.HolderOrder:
		return fmt.Sprintf("order_id = $%d", argOffset+1), []any{h.ID}
	default:
		return "basket_id IS NULL AND order_id IS NULL", nil
	}
}

// holderAssignment builds the SET clause assigning items to h.
// Placeholders start at argOffset+1.
func holderAssignment(h item.Holder, argOffset int) (string, []any) {
	switch h.Kind {
	case item.HolderBasket:
		return fmt.Sprintf("basket_id = $%d, order_id = NULL", argOffset+1), []any{h.ID}
	case item.HolderOrder:
		return fmt.Sprintf("basket_id = NULL, order_id = $%d", argOffset+1), []any{h.ID}
	default:
		return "basket_id = NULL, order_id = NULL", nil
	}
}
