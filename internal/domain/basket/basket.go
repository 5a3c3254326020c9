// Package basket implements the transient per-customer holding area for
// reserved items. Baskets expire: after an hour without activity their
// reservations return to the pool.
package basket

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// TTL is the freshness window. A basket untouched for longer is treated as
// empty and its items are released on next access.
const TTL = time.Hour

var (
	ErrNotFound = errors.New("basket not found")
	// ErrItemNotInBasket is returned when removing an item held elsewhere.
	ErrItemNotInBasket = errors.New("item is not in this basket")
)

// OwnerKey identifies who a basket belongs to: an authenticated user or an
// anonymous session, exactly one.
type OwnerKey struct {
	UserID     *int64
	SessionKey string
}

// Basket is a transient collection of reserved items.
type Basket struct {
	ID          int64
	UserID      *int64
	SessionKey  string
	LastUpdated time.Time
}

// IsCurrent reports whether the basket is within its freshness TTL.
func (b *Basket) IsCurrent(now time.Time) bool {
	return now.Sub(b.LastUpdated) < TTL
}

// Repository defines persistence operations for baskets. Create is expected
// to assign the ID.
type Repository interface {
	FindByOwner(ctx context.Context, owner OwnerKey) (*Basket, error)
	Create(ctx context.Context, b *Basket) error
	Touch(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
}
