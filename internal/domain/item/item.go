// Package item holds the inventory model. Every piece in the catalog is
// unique and non-restockable: it is either free, reserved by a basket, or
// sold into an order, never more than one at a time.
package item

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for reservation and lookup.
var (
	ErrNotFound = errors.New("item not found")
	// ErrAlreadyReserved is returned when a reserve races with another holder.
	ErrAlreadyReserved = errors.New("item is already reserved")
	// ErrUnpriced is returned when reserving an item that has no price and
	// therefore is not for sale.
	ErrUnpriced = errors.New("item is not for sale")
)

// HolderKind enumerates the possible exclusive owners of an item.
type HolderKind string

const (
	HolderNone   HolderKind = "none"
	HolderBasket HolderKind = "basket"
	HolderOrder  HolderKind = "order"
)

// Holder identifies the exclusive owner of an item: nobody, a basket, or an
// order. The zero value is not valid; use NoHolder.
type Holder struct {
	Kind HolderKind
	ID   int64
}

// NoHolder is the free state: the item can be reserved by any basket.
func NoHolder() Holder { return Holder{Kind: HolderNone} }

// BasketHolder marks an item as reserved by the given basket.
func BasketHolder(basketID int64) Holder { return Holder{Kind: HolderBasket, ID: basketID} }

// OrderHolder marks an item as sold into the given order.
func OrderHolder(orderID int64) Holder { return Holder{Kind: HolderOrder, ID: orderID} }

func (h Holder) String() string {
	if h.Kind == HolderNone {
		return "none"
	}
	return fmt.Sprintf("%s:%d", h.Kind, h.ID)
}

// Category is a named grouping of items and the scope of their ordering
// index.
type Category struct {
	ID          int64
	Name        string
	IndexInList int
}

// Item is a unique catalog piece. Price is nil for pieces that are displayed
// but not for sale. BasketID and OrderID mirror the Holder relation; at most
// one of them is set.
type Item struct {
	ID              int64
	Name            string
	Price           *decimal.Decimal
	CategoryID      int64
	IndexInCategory int
	BasketID        *int64
	OrderID         *int64
}

// Holder derives the exclusive owner from the two nullable references.
func (i *Item) Holder() Holder {
	switch {
	case i.OrderID != nil:
		return OrderHolder(*i.OrderID)
	case i.BasketID != nil:
		return BasketHolder(*i.BasketID)
	default:
		return NoHolder()
	}
}

// Sellable reports whether the item carries a price.
func (i *Item) Sellable() bool { return i.Price != nil }

// HolderMismatchError reports a bulk reassignment that found items whose
// current holder differs from the expected one. ItemIDs names the offenders.
type HolderMismatchError struct {
	Expected Holder
	ItemIDs  []int64
}

func (e *HolderMismatchError) Error() string {
	ids := make([]string, len(e.ItemIDs))
	sort.Slice(e.ItemIDs, func(a, b int) bool { return e.ItemIDs[a] < e.ItemIDs[b] })
	for i, id := range e.ItemIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("items not held by %s: %s", e.Expected, strings.Join(ids, ", "))
}

// Repository defines persistence operations for items. Reserve must be
// atomic with respect to concurrent reservations of the same item: of two
// racing calls, exactly one succeeds and the other observes
// ErrAlreadyReserved.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Item, error)

	// Reserve assigns the item to the given basket. It fails with
	// ErrAlreadyReserved when the item is held by a different basket or by
	// any order, and with ErrUnpriced when the item has no price.
	// Reserving into the basket that already holds the item is a no-op.
	Reserve(ctx context.Context, itemID, basketID int64) (*Item, error)

	// Release returns the item to the free pool. Idempotent.
	Release(ctx context.Context, itemID int64) error

	// MoveMany atomically reassigns all listed items from one holder to
	// another. When any item's current holder differs from `from`, nothing
	// is changed and a *HolderMismatchError names the offending IDs.
	MoveMany(ctx context.Context, itemIDs []int64, from, to Holder) error

	// PriceSum returns the sum of the listed items' prices, zero for an
	// empty set. Unpriced items contribute nothing.
	PriceSum(ctx context.Context, itemIDs []int64) (decimal.Decimal, error)

	// ListByHolder returns all items currently assigned to the holder,
	// ordered by category and in-category index.
	ListByHolder(ctx context.Context, h Holder) ([]Item, error)
}
