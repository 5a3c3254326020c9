package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validation and state sentinels. These carry no data; kinds that name
// offending values get their own types below.
var (
	ErrNotFound = errors.New("order not found")

	ErrEmptyBasket          = errors.New("cannot create order from an empty basket")
	ErrMissingContactInfo   = errors.New("guest orders require an email address")
	ErrMissingRecipientName = errors.New("recipient name required")
	ErrEmptyOrder           = errors.New("cannot place an empty order")
	ErrMissingPaymentNonce  = errors.New("payment nonce required")
	ErrNoItemsMarked        = errors.New("no items marked for removal")

	ErrInvalidStateForPlacement = errors.New("order must be pending to be placed")
	ErrInvalidStateForDispatch  = errors.New("order must be open to be dispatched")
	ErrOrderAlreadyDispatched   = errors.New("cannot edit an already-dispatched order")
	ErrNoAuthorizedTransaction  = errors.New("order has no authorized transaction")

	ErrForbidden = errors.New("not allowed")
)

// BalanceMismatchError reports a client-echoed balance that disagrees with
// the authoritative one. Defense against stale client state.
type BalanceMismatchError struct {
	Expected decimal.Decimal
	Got      decimal.Decimal
}

func (e *BalanceMismatchError) Error() string {
	return fmt.Sprintf("total balance is incorrect: should be %s, got %s",
		e.Expected.StringFixed(2), e.Got.StringFixed(2))
}

// BalanceIntegrityError reports a recorded balance that has drifted from
// the live price sum of the order's items. This is an upstream logic or
// race bug, not a client mistake.
type BalanceIntegrityError struct {
	Recorded decimal.Decimal
	Live     decimal.Decimal
}

func (e *BalanceIntegrityError) Error() string {
	return fmt.Sprintf("recorded balance %s does not match the items' total of %s",
		e.Recorded.StringFixed(2), e.Live.StringFixed(2))
}

// ItemsNotInOrderError names removal candidates that do not belong to the
// order.
type ItemsNotInOrderError struct {
	ItemIDs []int64
}

func (e *ItemsNotInOrderError) Error() string {
	sort.Slice(e.ItemIDs, func(a, b int) bool { return e.ItemIDs[a] < e.ItemIDs[b] })
	ids := make([]string, len(e.ItemIDs))
	for i, id := range e.ItemIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return "these items are not in this order: " + strings.Join(ids, ", ")
}

// PaymentDeclinedError carries the processor's refusal message for a sale.
type PaymentDeclinedError struct {
	Message string
}

func (e *PaymentDeclinedError) Error() string {
	return "payment declined: " + e.Message
}

// SettlementFailedError carries the processor's refusal message for a
// capture attempt.
type SettlementFailedError struct {
	Message string
}

func (e *SettlementFailedError) Error() string {
	return "settlement failed: " + e.Message
}

// TransactionVoidFailedError means the gateway refused to reverse the
// order's transaction. The surrounding cancellation is aborted whole: no
// items are released and the order is kept.
type TransactionVoidFailedError struct {
	TransactionID string
	Message       string
}

func (e *TransactionVoidFailedError) Error() string {
	return fmt.Sprintf("could not void transaction %s: %s", e.TransactionID, e.Message)
}
