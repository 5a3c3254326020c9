package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gallery-orders/internal/domain/item"
)

// CategoryRepository persists item categories.
type CategoryRepository struct {
	pool *pgxpool.Pool
}

// NewCategoryRepository returns a CategoryRepository that uses the given pool.
func NewCategoryRepository(pool *pgxpool.Pool) *CategoryRepository {
	return &CategoryRepository{pool: pool}
}

// FindByName returns the category with the given name, or item.ErrNotFound.
func (r *CategoryRepository) FindByName(ctx context.Context, name string) (*item.Category, error) {
	var c item.Category
	err := engine(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, COALESCE(index_in_list, 0) FROM categories WHERE name = $1`, name).
		Scan(&c.ID, &c.Name, &c.IndexInList)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, item.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find category %q", name)
	}
	return &c, nil
}

// Create inserts the category, assigning a random ID and the next position
// in the category list.
func (r *CategoryRepository) Create(ctx context.Context, c *item.Category) error {
	const q = `
		INSERT INTO categories (id, name, index_in_list)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(index_in_list), 0) + 1 FROM categories))
		RETURNING index_in_list`

	for attempt := 0; attempt < idAttempts; attempt++ {
		c.ID = randomID()
		err := engine(ctx, r.pool).QueryRow(ctx, q, c.ID, c.Name).Scan(&c.IndexInList)
		if isIDCollision(err, "categories") {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "create category")
		}
		return nil
	}
	return errors.New("create category: exhausted ID attempts")
}
