// Package order implements the committed-purchase lifecycle: creation from
// a basket, authorization against the payment processor, balance-changing
// edits, dispatch and cancellation. The Service here is the sole writer of
// an order's status and transaction ID.
package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/gallery-orders/internal/domain/item"
)

// Status is the order lifecycle state.
type Status int

const (
	// StatusPending: created from a basket, no funds authorized yet.
	StatusPending Status = iota
	// StatusOpen: funds authorized, not captured.
	StatusOpen
	// StatusDispatched: funds captured, goods on their way.
	StatusDispatched
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOpen:
		return "open"
	case StatusDispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

// User carries the identity fields of an authenticated customer, resolved
// by the (external) auth layer.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
}

// FullName joins the user's names the way they appear on receipts.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Order is a committed purchase. Exactly one of UserID or the guest fields
// (Email at minimum) identifies the customer. TransactionID is empty until
// a gateway sale succeeds.
type Order struct {
	ID            int64
	UserID        *int64
	SessionKey    string
	Email         string
	CustomerName  string
	RecipientName string
	Address       string
	CreatedAt     time.Time
	Status        Status
	TotalBalance  decimal.Decimal
	TransactionID string
}

// AddressLines splits the stored postal address for rendering.
func (o *Order) AddressLines() []string {
	return strings.Split(o.Address, "\n")
}

// EmailWithName formats the customer address for the To header.
func (o *Order) EmailWithName() string {
	return o.CustomerName + " <" + o.Email + ">"
}

// Repository defines persistence operations for orders. Create assigns
// the ID.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Order, error)
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id int64) error
}

// Notifier sends the transactional emails fired on state transitions.
// Every call is best-effort: the Service logs failures and moves on, a lost
// email never rolls back a transition.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order, items []item.Item) error
	OrderEdited(ctx context.Context, o *Order, items []item.Item) error
	OrderCancelled(ctx context.Context, o *Order, items []item.Item, refunded bool) error
	OrderDispatched(ctx context.Context, o *Order, items []item.Item) error
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OrderPlaced(context.Context, *Order, []item.Item) error     { return nil }
func (NopNotifier) OrderEdited(context.Context, *Order, []item.Item) error     { return nil }
func (NopNotifier) OrderDispatched(context.Context, *Order, []item.Item) error { return nil }
func (NopNotifier) OrderCancelled(context.Context, *Order, []item.Item, bool) error {
	return nil
}

var _ Notifier = NopNotifier{}
