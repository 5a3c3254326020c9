package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/gallery-orders/internal/domain/basket"
	"github.com/xenking/gallery-orders/internal/domain/item"
	"github.com/xenking/gallery-orders/internal/domain/order"
)

type orderResponse struct {
	ID            int64          `json:"id"`
	Status        string         `json:"status"`
	Email         string         `json:"email"`
	CustomerName  string         `json:"customer_name"`
	RecipientName string         `json:"recipient_name"`
	Address       []string       `json:"address"`
	CreatedAt     time.Time      `json:"created_at"`
	TotalBalance  string         `json:"total_balance"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Items         []itemResponse `json:"items"`
}

func toOrderResponse(o *order.Order, items []item.Item) orderResponse {
	return orderResponse{
		ID:            o.ID,
		Status:        o.Status.String(),
		Email:         o.Email,
		CustomerName:  o.CustomerName,
		RecipientName: o.RecipientName,
		Address:       o.AddressLines(),
		CreatedAt:     o.CreatedAt,
		TotalBalance:  o.TotalBalance.StringFixed(2),
		TransactionID: o.TransactionID,
		Items:         toItemResponses(items),
	}
}

type createOrderReq struct {
	Email         string `json:"email"`
	CustomerName  string `json:"customer_name"`
	RecipientName string `json:"recipient_name"`
	Address       string `json:"address"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}
	var req createOrderReq
	if !decodeBody(w, r, &req) {
		return
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		Owner:         c.owner(),
		User:          c.user,
		Email:         req.Email,
		CustomerName:  req.CustomerName,
		RecipientName: req.RecipientName,
		Address:       req.Address,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	h.respondOrder(w, r, http.StatusCreated, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	if !c.mayAccess(o) {
		h.writeOrderError(w, order.ErrForbidden)
		return
	}
	h.respondOrder(w, r, http.StatusOK, o)
}

type placeOrderReq struct {
	PaymentMethodNonce string `json:"payment_method_nonce"`
	TotalBalance       string `json:"total_balance"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.authorizedOrderID(w, r)
	if !ok {
		return
	}
	var req placeOrderReq
	if !decodeBody(w, r, &req) {
		return
	}
	total, ok := parseAmount(w, req.TotalBalance)
	if !ok {
		return
	}

	o, err := h.orders.Place(r.Context(), order.PlaceRequest{
		OrderID:      id,
		Nonce:        req.PaymentMethodNonce,
		TotalBalance: total,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	h.respondOrder(w, r, http.StatusOK, o)
}

type appendOrderReq struct {
	PaymentMethodNonce string `json:"payment_method_nonce"`
	NewTotalBalance    string `json:"new_total_balance"`
}

func (h *Handler) appendOrderItems(w http.ResponseWriter, r *http.Request) {
	c, id, ok := h.authorizedOrderID(w, r)
	if !ok {
		return
	}
	var req appendOrderReq
	if !decodeBody(w, r, &req) {
		return
	}
	total, ok := parseAmount(w, req.NewTotalBalance)
	if !ok {
		return
	}

	o, err := h.orders.Append(r.Context(), order.AppendRequest{
		OrderID:         id,
		Owner:           c.owner(),
		Nonce:           req.PaymentMethodNonce,
		NewTotalBalance: total,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	h.respondOrder(w, r, http.StatusOK, o)
}

type removeOrderItemsReq struct {
	ItemIDs            []int64 `json:"item_ids"`
	PaymentMethodNonce string  `json:"payment_method_nonce"`
	NewTotalBalance    string  `json:"new_total_balance"`
}

func (h *Handler) removeOrderItems(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.authorizedOrderID(w, r)
	if !ok {
		return
	}
	var req removeOrderItemsReq
	if !decodeBody(w, r, &req) {
		return
	}
	// The balance echo is not parsed up front: removing the full item set
	// cancels the order and the amount is meaningless for a deletion.
	total, err := parseOptionalAmount(req.NewTotalBalance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	res, err := h.orders.Remove(r.Context(), order.RemoveRequest{
		OrderID:         id,
		ItemIDs:         req.ItemIDs,
		Nonce:           req.PaymentMethodNonce,
		NewTotalBalance: total,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	if res.Deleted {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondOrder(w, r, http.StatusOK, res.Order)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	c, id, ok := h.authorizedOrderID(w, r)
	if !ok {
		return
	}

	err := h.orders.Cancel(r.Context(), order.CancelRequest{
		OrderID: id,
		Staff:   c.staff,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type dispatchOrderReq struct {
	TotalBalance string `json:"total_balance"`
}

func (h *Handler) dispatchOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req dispatchOrderReq
	if !decodeBody(w, r, &req) {
		return
	}
	total, ok := parseAmount(w, req.TotalBalance)
	if !ok {
		return
	}

	o, err := h.orders.Dispatch(r.Context(), order.DispatchRequest{
		OrderID:      id,
		TotalBalance: total,
		Staff:        c.staff,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	h.respondOrder(w, r, http.StatusOK, o)
}

// mayAccess reports whether the caller owns the order or is staff.
func (c caller) mayAccess(o *order.Order) bool {
	if c.staff {
		return true
	}
	if c.user != nil {
		return o.UserID != nil && *o.UserID == c.user.ID
	}
	return o.SessionKey != "" && o.SessionKey == c.session
}

// authorizedOrderID resolves the caller and the order ID and enforces
// ownership. Shared by every per-order mutation.
func (h *Handler) authorizedOrderID(w http.ResponseWriter, r *http.Request) (caller, int64, bool) {
	c, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return c, 0, false
	}
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return c, 0, false
	}

	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeOrderError(w, err)
		return c, 0, false
	}
	if !c.mayAccess(o) {
		h.writeOrderError(w, order.ErrForbidden)
		return c, 0, false
	}
	return c, id, true
}

// respondOrder writes the order with its current items.
func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, code int, o *order.Order) {
	items, err := h.orders.Items(r.Context(), o)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, code, toOrderResponse(o, items))
}

// writeOrderError maps domain errors onto HTTP status codes. Unrecognized
// errors become opaque 500s; their details stay in the logs.
func (h *Handler) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, item.ErrNotFound),
		errors.Is(err, basket.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, order.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, order.ErrEmptyBasket),
		errors.Is(err, order.ErrMissingContactInfo),
		errors.Is(err, order.ErrMissingRecipientName),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrMissingPaymentNonce),
		errors.Is(err, order.ErrNoItemsMarked),
		errors.Is(err, basket.ErrItemNotInBasket):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, order.ErrInvalidStateForPlacement),
		errors.Is(err, order.ErrInvalidStateForDispatch),
		errors.Is(err, order.ErrOrderAlreadyDispatched),
		errors.Is(err, order.ErrNoAuthorizedTransaction),
		errors.Is(err, item.ErrUnpriced):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, item.ErrAlreadyReserved):
		writeError(w, http.StatusConflict, err.Error())

	default:
		h.writeTypedOrderError(w, err)
	}
}

func (h *Handler) writeTypedOrderError(w http.ResponseWriter, err error) {
	var (
		balanceErr   *order.BalanceMismatchError
		integrityErr *order.BalanceIntegrityError
		itemsErr     *order.ItemsNotInOrderError
		holderErr    *item.HolderMismatchError
		declinedErr  *order.PaymentDeclinedError
		settleErr    *order.SettlementFailedError
		voidErr      *order.TransactionVoidFailedError
	)
	switch {
	case errors.As(err, &balanceErr), errors.As(err, &itemsErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.As(err, &integrityErr), errors.As(err, &holderErr):
		writeError(w, http.StatusConflict, err.Error())

	case errors.As(err, &declinedErr), errors.As(err, &settleErr):
		writeError(w, http.StatusPaymentRequired, err.Error())

	case errors.As(err, &voidErr):
		writeError(w, http.StatusBadGateway, err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
