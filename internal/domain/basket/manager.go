package basket

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/gallery-orders/internal/domain/item"
)

// Manager owns basket lifecycle: lazy creation on first add, lazy expiry on
// every access, destruction when the last item leaves. There is no
// background sweep; every entry point consults the TTL first.
type Manager struct {
	baskets Repository
	items   item.Repository
	now     func() time.Time
}

// NewManager creates a Manager with the required dependencies.
func NewManager(baskets Repository, items item.Repository) *Manager {
	return &Manager{
		baskets: baskets,
		items:   items,
		now:     time.Now,
	}
}

// GetOrCreate fetches the owner's basket, creating one if none exists.
// An expired basket has its items released back to the pool before being
// returned; the caller sees it as empty with the stale timestamp intact
// until the next successful add refreshes it.
func (m *Manager) GetOrCreate(ctx context.Context, owner OwnerKey) (*Basket, error) {
	b, err := m.baskets.FindByOwner(ctx, owner)
	if errors.Is(err, ErrNotFound) {
		b = &Basket{
			UserID:      owner.UserID,
			SessionKey:  owner.SessionKey,
			LastUpdated: m.now(),
		}
		if err := m.baskets.Create(ctx, b); err != nil {
			return nil, errors.Wrap(err, "create basket")
		}
		return b, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find basket")
	}

	if err := m.releaseIfExpired(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Find returns the owner's basket after the expiry check, or ErrNotFound.
func (m *Manager) Find(ctx context.Context, owner OwnerKey) (*Basket, error) {
	b, err := m.baskets.FindByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := m.releaseIfExpired(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// AddItem reserves the item into the owner's basket and refreshes the
// basket's freshness window. The item must be priced and free (or already
// in this basket).
func (m *Manager) AddItem(ctx context.Context, owner OwnerKey, itemID int64) (*Basket, error) {
	b, err := m.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}

	if _, err := m.items.Reserve(ctx, itemID, b.ID); err != nil {
		return nil, err
	}

	now := m.now()
	if err := m.baskets.Touch(ctx, b.ID, now); err != nil {
		return nil, errors.Wrap(err, "touch basket")
	}
	b.LastUpdated = now
	return b, nil
}

// RemoveResult reports the outcome of RemoveItem. Deleted is true when the
// removal emptied the basket and it was destroyed.
type RemoveResult struct {
	Basket  *Basket
	Deleted bool
}

// RemoveItem releases the item from the owner's basket. Removing the last
// item destroys the basket; that outcome is a distinguished success, not an
// error.
func (m *Manager) RemoveItem(ctx context.Context, owner OwnerKey, itemID int64) (*RemoveResult, error) {
	b, err := m.baskets.FindByOwner(ctx, owner)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrItemNotInBasket
	}
	if err != nil {
		return nil, errors.Wrap(err, "find basket")
	}

	it, err := m.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.BasketID == nil || *it.BasketID != b.ID {
		return nil, ErrItemNotInBasket
	}

	if err := m.items.Release(ctx, itemID); err != nil {
		return nil, errors.Wrap(err, "release item")
	}

	remaining, err := m.items.ListByHolder(ctx, item.BasketHolder(b.ID))
	if err != nil {
		return nil, errors.Wrap(err, "list basket items")
	}
	if len(remaining) == 0 {
		if err := m.baskets.Delete(ctx, b.ID); err != nil {
			return nil, errors.Wrap(err, "delete basket")
		}
		return &RemoveResult{Deleted: true}, nil
	}
	return &RemoveResult{Basket: b}, nil
}

// Discard deletes the basket row without touching item reservations.
// Order creation calls this after moving the items onto the order.
func (m *Manager) Discard(ctx context.Context, id int64) error {
	return m.baskets.Delete(ctx, id)
}

// Contents returns the items currently held by the basket, after the
// expiry check.
func (m *Manager) Contents(ctx context.Context, b *Basket) ([]item.Item, error) {
	if err := m.releaseIfExpired(ctx, b); err != nil {
		return nil, err
	}
	return m.items.ListByHolder(ctx, item.BasketHolder(b.ID))
}

// HasSellableContents reports whether the basket is current and holds at
// least one item. Order creation treats anything else as an empty basket.
func (m *Manager) HasSellableContents(ctx context.Context, b *Basket) (bool, error) {
	if !b.IsCurrent(m.now()) {
		return false, nil
	}
	held, err := m.items.ListByHolder(ctx, item.BasketHolder(b.ID))
	if err != nil {
		return false, err
	}
	return len(held) > 0, nil
}

// releaseIfExpired returns the basket's items to the pool once the TTL has
// lapsed. Lazy: called from every read path instead of a timer sweep.
func (m *Manager) releaseIfExpired(ctx context.Context, b *Basket) error {
	if b.IsCurrent(m.now()) {
		return nil
	}

	held, err := m.items.ListByHolder(ctx, item.BasketHolder(b.ID))
	if err != nil {
		return errors.Wrap(err, "list expired basket items")
	}
	for _, it := range held {
		if err := m.items.Release(ctx, it.ID); err != nil {
			return errors.Wrap(err, "release expired item")
		}
	}
	return nil
}
