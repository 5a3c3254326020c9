package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/gallery-orders/internal/domain/basket"
	"github.com/xenking/gallery-orders/internal/domain/item"
	"github.com/xenking/gallery-orders/internal/domain/payment"
	"github.com/xenking/gallery-orders/internal/domain/txn"
)

// Service is the order state machine. It coordinates the item repository
// and the payment gateway so inventory state and financial state never
// diverge: gateway calls happen before the local commit, local mutations
// run inside a single transaction per transition.
type Service struct {
	orders   Repository
	items    item.Repository
	baskets  *basket.Manager
	gateway  payment.Gateway
	fallback payment.FallbackPolicy
	notifier Notifier
	tx       txn.Runner
	now      func() time.Time
}

// NewService creates an order Service with the required dependencies.
// A nil fallback defaults to payment.DefaultFallbackPolicy.
func NewService(
	orders Repository,
	items item.Repository,
	baskets *basket.Manager,
	gateway payment.Gateway,
	fallback payment.FallbackPolicy,
	notifier Notifier,
	tx txn.Runner,
) *Service {
	if fallback == nil {
		fallback = payment.DefaultFallbackPolicy
	}
	return &Service{
		orders:   orders,
		items:    items,
		baskets:  baskets,
		gateway:  gateway,
		fallback: fallback,
		notifier: notifier,
		tx:       tx,
		now:      time.Now,
	}
}

// Get returns the order projection.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// Items returns the items currently held by the order.
func (s *Service) Items(ctx context.Context, o *Order) ([]item.Item, error) {
	return s.items.ListByHolder(ctx, item.OrderHolder(o.ID))
}

// balancesEqual compares two amounts at currency precision: exact decimal
// equality at 2 fraction digits, never floats.
func balancesEqual(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}

// CreateRequest holds the input for creating a pending order from the
// owner's basket. User is nil for guest checkouts, which then must carry
// Email. RecipientName defaults to the user's full name when present.
type CreateRequest struct {
	Owner         basket.OwnerKey
	User          *User
	Email         string
	CustomerName  string
	RecipientName string
	Address       string
}

// Create turns the owner's current basket into a PENDING order: the
// recorded balance is fixed to the basket's price sum and the items move
// atomically from the basket onto the new order. The basket is destroyed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	b, err := s.baskets.Find(ctx, req.Owner)
	if errors.Is(err, basket.ErrNotFound) {
		return nil, ErrEmptyBasket
	}
	if err != nil {
		return nil, errors.Wrap(err, "find basket")
	}

	sellable, err := s.baskets.HasSellableContents(ctx, b)
	if err != nil {
		return nil, errors.Wrap(err, "check basket contents")
	}
	if !sellable {
		return nil, ErrEmptyBasket
	}

	o := &Order{
		SessionKey:    req.Owner.SessionKey,
		Email:         req.Email,
		CustomerName:  req.CustomerName,
		RecipientName: req.RecipientName,
		Address:       req.Address,
		CreatedAt:     s.now(),
		Status:        StatusPending,
	}
	if req.User != nil {
		id := req.User.ID
		o.UserID = &id
		o.Email = req.User.Email
		o.CustomerName = req.User.FullName()
		if o.RecipientName == "" {
			o.RecipientName = req.User.FullName()
		}
	}
	if o.Email == "" {
		return nil, ErrMissingContactInfo
	}
	if o.RecipientName == "" {
		return nil, ErrMissingRecipientName
	}

	held, err := s.baskets.Contents(ctx, b)
	if err != nil {
		return nil, errors.Wrap(err, "list basket items")
	}
	ids := itemIDs(held)

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		total, err := s.items.PriceSum(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "sum basket prices")
		}
		o.TotalBalance = total.Round(2)

		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := s.items.MoveMany(ctx, ids, item.BasketHolder(b.ID), item.OrderHolder(o.ID)); err != nil {
			return errors.Wrap(err, "move items to order")
		}
		if err := s.baskets.Discard(ctx, b.ID); err != nil {
			return errors.Wrap(err, "discard basket")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// PlaceRequest holds the input for authorizing a pending order.
// TotalBalance is the client-echoed amount, guarding against stale client
// state.
type PlaceRequest struct {
	OrderID      int64
	Nonce        string
	TotalBalance decimal.Decimal
}

// Place authorizes the order's balance against the gateway and moves the
// order PENDING → OPEN. A declined sale leaves the order untouched.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*Order, error) {
	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, ErrInvalidStateForPlacement
	}

	held, err := s.items.ListByHolder(ctx, item.OrderHolder(o.ID))
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	if len(held) == 0 {
		return nil, ErrEmptyOrder
	}

	if req.Nonce == "" {
		return nil, ErrMissingPaymentNonce
	}
	if !balancesEqual(req.TotalBalance, o.TotalBalance) {
		return nil, &BalanceMismatchError{Expected: o.TotalBalance, Got: req.TotalBalance}
	}

	res, err := s.gateway.Sale(ctx, o.TotalBalance, req.Nonce)
	if err != nil {
		return nil, errors.Wrap(err, "gateway sale")
	}
	if !res.Success {
		return nil, &PaymentDeclinedError{Message: res.Message}
	}

	o.Status = StatusOpen
	o.TransactionID = res.TransactionID

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		// Funds are authorized remotely but the local record does not know.
		// There is no compensating transaction; flag for manual reconciliation.
		s.logReconciliation(ctx, o.ID, res.TransactionID, "sale authorized but local commit failed", err)
		return nil, err
	}

	s.notify(ctx, "order placed", s.notifier.OrderPlaced(ctx, o, held))
	return o, nil
}

// AppendRequest holds the input for adding the owner's basket contents to
// an existing order. NewTotalBalance must equal the recorded balance plus
// the basket's price sum.
type AppendRequest struct {
	OrderID         int64
	Owner           basket.OwnerKey
	Nonce           string
	NewTotalBalance decimal.Decimal
}

// Append moves the owner's current basket onto the order and re-records
// the balance. OPEN orders replace their gateway transaction first: a new
// sale for the full amount, and only after it succeeds the old
// authorization is voided.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*Order, error) {
	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusDispatched {
		return nil, ErrOrderAlreadyDispatched
	}

	b, err := s.baskets.Find(ctx, req.Owner)
	if errors.Is(err, basket.ErrNotFound) {
		return nil, ErrEmptyBasket
	}
	if err != nil {
		return nil, errors.Wrap(err, "find basket")
	}
	sellable, err := s.baskets.HasSellableContents(ctx, b)
	if err != nil {
		return nil, errors.Wrap(err, "check basket contents")
	}
	if !sellable {
		return nil, ErrEmptyBasket
	}

	added, err := s.baskets.Contents(ctx, b)
	if err != nil {
		return nil, errors.Wrap(err, "list basket items")
	}
	addedSum, err := s.items.PriceSum(ctx, itemIDs(added))
	if err != nil {
		return nil, errors.Wrap(err, "sum basket prices")
	}

	newTotal := o.TotalBalance.Add(addedSum).Round(2)
	if !balancesEqual(req.NewTotalBalance, newTotal) {
		return nil, &BalanceMismatchError{Expected: newTotal, Got: req.NewTotalBalance}
	}

	if o.Status == StatusOpen {
		if err := s.replaceTransaction(ctx, o, req.Nonce, newTotal); err != nil {
			return nil, err
		}
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.items.MoveMany(ctx, itemIDs(added), item.BasketHolder(b.ID), item.OrderHolder(o.ID)); err != nil {
			return errors.Wrap(err, "move items to order")
		}
		if err := s.baskets.Discard(ctx, b.ID); err != nil {
			return errors.Wrap(err, "discard basket")
		}
		o.TotalBalance = newTotal
		if err := s.orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		if o.Status == StatusOpen {
			s.logReconciliation(ctx, o.ID, o.TransactionID, "transaction replaced but local commit failed", err)
		}
		return nil, err
	}

	all, listErr := s.items.ListByHolder(ctx, item.OrderHolder(o.ID))
	if listErr != nil {
		all = added
	}
	s.notify(ctx, "order edited", s.notifier.OrderEdited(ctx, o, all))
	return o, nil
}

// RemoveRequest holds the input for removing items from an order.
// NewTotalBalance must equal the price sum of the items that remain.
type RemoveRequest struct {
	OrderID         int64
	ItemIDs         []int64
	Nonce           string
	NewTotalBalance decimal.Decimal
}

// RemoveResult is the outcome of Remove. Deleted is true when the marked
// set covered every held item, in which case the order was cancelled and
// destroyed instead of edited. Callers must branch on it; it is not an
// error.
type RemoveResult struct {
	Order   *Order
	Deleted bool
}

// Remove releases the marked items from the order. Marking the full item
// set degenerates into cancellation: the transaction is reversed,
// cancellation (not edit) emails fire, and the order is deleted.
func (s *Service) Remove(ctx context.Context, req RemoveRequest) (*RemoveResult, error) {
	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusDispatched {
		return nil, ErrOrderAlreadyDispatched
	}
	if len(req.ItemIDs) == 0 {
		return nil, ErrNoItemsMarked
	}

	held, err := s.items.ListByHolder(ctx, item.OrderHolder(o.ID))
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	heldIDs := make(map[int64]struct{}, len(held))
	for _, it := range held {
		heldIDs[it.ID] = struct{}{}
	}

	marked := make(map[int64]struct{}, len(req.ItemIDs))
	var invalid []int64
	for _, id := range req.ItemIDs {
		if _, ok := heldIDs[id]; !ok {
			invalid = append(invalid, id)
		}
		marked[id] = struct{}{}
	}
	if len(invalid) > 0 {
		return nil, &ItemsNotInOrderError{ItemIDs: invalid}
	}

	// Marking everything is cancellation, checked before any balance or
	// nonce validation, as those inputs are meaningless for a deletion.
	if len(marked) == len(heldIDs) {
		if err := s.cancelOrder(ctx, o, held); err != nil {
			return nil, err
		}
		return &RemoveResult{Deleted: true}, nil
	}

	remaining := make([]int64, 0, len(held)-len(marked))
	for _, it := range held {
		if _, ok := marked[it.ID]; !ok {
			remaining = append(remaining, it.ID)
		}
	}
	newTotal, err := s.items.PriceSum(ctx, remaining)
	if err != nil {
		return nil, errors.Wrap(err, "sum remaining prices")
	}
	newTotal = newTotal.Round(2)
	if !balancesEqual(req.NewTotalBalance, newTotal) {
		return nil, &BalanceMismatchError{Expected: newTotal, Got: req.NewTotalBalance}
	}

	if o.Status == StatusOpen {
		if err := s.replaceTransaction(ctx, o, req.Nonce, newTotal); err != nil {
			return nil, err
		}
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.items.MoveMany(ctx, req.ItemIDs, item.OrderHolder(o.ID), item.NoHolder()); err != nil {
			return errors.Wrap(err, "release removed items")
		}
		o.TotalBalance = newTotal
		if err := s.orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		if o.Status == StatusOpen {
			s.logReconciliation(ctx, o.ID, o.TransactionID, "transaction replaced but local commit failed", err)
		}
		return nil, err
	}

	kept := make([]item.Item, 0, len(remaining))
	for _, it := range held {
		if _, ok := marked[it.ID]; !ok {
			kept = append(kept, it)
		}
	}
	s.notify(ctx, "order edited", s.notifier.OrderEdited(ctx, o, kept))
	return &RemoveResult{Order: o}, nil
}

// CancelRequest holds the input for cancelling an order. Staff marks a
// caller allowed to cancel dispatched orders.
type CancelRequest struct {
	OrderID int64
	Staff   bool
}

// Cancel reverses the order's payment, releases its items and deletes it.
// The effect is all-or-nothing: a failed void/refund aborts the whole
// cancellation with the order and its reservations intact.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) error {
	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return err
	}
	if o.Status == StatusDispatched && !req.Staff {
		return ErrForbidden
	}

	held, err := s.items.ListByHolder(ctx, item.OrderHolder(o.ID))
	if err != nil {
		return errors.Wrap(err, "list order items")
	}
	return s.cancelOrder(ctx, o, held)
}

// cancelOrder reverses the transaction (when one exists), then releases
// items and deletes the order in one unit. Shared by Cancel and the
// all-items Remove path.
func (s *Service) cancelOrder(ctx context.Context, o *Order, held []item.Item) error {
	if o.TransactionID != "" {
		if err := s.reverseTransaction(ctx, o); err != nil {
			return err
		}
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.items.MoveMany(ctx, itemIDs(held), item.OrderHolder(o.ID), item.NoHolder()); err != nil {
			return errors.Wrap(err, "release order items")
		}
		if err := s.orders.Delete(ctx, o.ID); err != nil {
			return errors.Wrap(err, "delete order")
		}
		return nil
	})
	if err != nil {
		if o.TransactionID != "" {
			s.logReconciliation(ctx, o.ID, o.TransactionID, "transaction reversed but local commit failed", err)
		}
		return err
	}

	s.notify(ctx, "order cancelled",
		s.notifier.OrderCancelled(ctx, o, held, o.Status == StatusDispatched))
	return nil
}

// reverseTransaction undoes the order's gateway transaction: void for an
// un-captured authorization, refund for a captured one. Processors reject
// refunds on transactions that never settled; the fallback policy decides
// when to retry those as voids.
func (s *Service) reverseTransaction(ctx context.Context, o *Order) error {
	var (
		res payment.TransactionResult
		err error
	)
	switch o.Status {
	case StatusOpen:
		res, err = s.gateway.Void(ctx, o.TransactionID)
	case StatusDispatched:
		res, err = s.gateway.Refund(ctx, o.TransactionID)
		if err == nil && !res.Success && s.fallback(res) {
			res, err = s.gateway.Void(ctx, o.TransactionID)
		}
	default:
		return nil
	}
	if err != nil {
		return &TransactionVoidFailedError{TransactionID: o.TransactionID, Message: err.Error()}
	}
	if !res.Success {
		return &TransactionVoidFailedError{TransactionID: o.TransactionID, Message: res.Message}
	}
	return nil
}

// DispatchRequest holds the staff input for capturing an open order's
// funds. TotalBalance is the staff-echoed charge amount.
type DispatchRequest struct {
	OrderID      int64
	TotalBalance decimal.Decimal
	Staff        bool
}

// Dispatch captures the authorized funds and moves the order
// OPEN → DISPATCHED. The recorded balance must still match the items'
// live price sum; drift means a bug upstream and blocks the capture.
func (s *Service) Dispatch(ctx context.Context, req DispatchRequest) (*Order, error) {
	if !req.Staff {
		return nil, ErrForbidden
	}

	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusOpen {
		return nil, ErrInvalidStateForDispatch
	}

	held, err := s.items.ListByHolder(ctx, item.OrderHolder(o.ID))
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	live, err := s.items.PriceSum(ctx, itemIDs(held))
	if err != nil {
		return nil, errors.Wrap(err, "sum item prices")
	}
	if !balancesEqual(o.TotalBalance, live) {
		return nil, &BalanceIntegrityError{Recorded: o.TotalBalance, Live: live}
	}
	if o.TransactionID == "" {
		return nil, ErrNoAuthorizedTransaction
	}
	if !balancesEqual(req.TotalBalance, o.TotalBalance) {
		return nil, &BalanceMismatchError{Expected: o.TotalBalance, Got: req.TotalBalance}
	}

	res, err := s.gateway.SubmitForSettlement(ctx, o.TransactionID, o.TotalBalance)
	if err != nil {
		return nil, errors.Wrap(err, "gateway settlement")
	}
	if !res.Success {
		return nil, &SettlementFailedError{Message: res.Message}
	}

	o.Status = StatusDispatched
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		s.logReconciliation(ctx, o.ID, o.TransactionID, "settlement submitted but local commit failed", err)
		return nil, err
	}

	s.notify(ctx, "order dispatched", s.notifier.OrderDispatched(ctx, o, held))
	return o, nil
}

// replaceTransaction swaps an open order's authorization for a new one
// covering newTotal. Ordering matters: the new sale comes first, and the
// old transaction is voided only once the replacement is confirmed, so a
// declined sale leaves the customer charged for the inventory they hold.
// A failed void of the superseded authorization does not fail the edit;
// it is logged for manual reconciliation.
func (s *Service) replaceTransaction(ctx context.Context, o *Order, nonce string, newTotal decimal.Decimal) error {
	if nonce == "" {
		return ErrMissingPaymentNonce
	}

	res, err := s.gateway.Sale(ctx, newTotal, nonce)
	if err != nil {
		return errors.Wrap(err, "gateway sale")
	}
	if !res.Success {
		return &PaymentDeclinedError{Message: res.Message}
	}

	old := o.TransactionID
	voidRes, err := s.gateway.Void(ctx, old)
	if err != nil || !voidRes.Success {
		msg := ""
		if err != nil {
			msg = err.Error()
		} else {
			msg = voidRes.Message
		}
		zctx.From(ctx).Warn("Superseded authorization could not be voided",
			zap.Int64("order_id", o.ID),
			zap.String("old_transaction_id", old),
			zap.String("new_transaction_id", res.TransactionID),
			zap.String("message", msg),
		)
	}

	o.TransactionID = res.TransactionID
	return nil
}

// notify logs and swallows notifier failures. A lost email never fails a
// transition.
func (s *Service) notify(ctx context.Context, event string, err error) {
	if err != nil {
		zctx.From(ctx).Warn("Notification failed",
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// logReconciliation records the narrow window where the gateway accepted a
// mutation but the local commit failed. Nothing retries this; an operator
// has to reconcile manually.
func (s *Service) logReconciliation(ctx context.Context, orderID int64, transactionID, what string, err error) {
	zctx.From(ctx).Error("payment.reconciliation_required",
		zap.Int64("order_id", orderID),
		zap.String("transaction_id", transactionID),
		zap.String("condition", what),
		zap.Error(err),
	)
}

func itemIDs(items []item.Item) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
