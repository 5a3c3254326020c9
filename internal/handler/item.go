package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/gallery-orders/internal/domain/item"
	"github.com/xenking/gallery-orders/internal/domain/order"
)

type itemResponse struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Price      *string `json:"price"`
	CategoryID int64   `json:"category_id"`
	Reserved   bool    `json:"reserved"`
}

func toItemResponse(it *item.Item) itemResponse {
	resp := itemResponse{
		ID:         it.ID,
		Name:       it.Name,
		CategoryID: it.CategoryID,
		Reserved:   it.Holder().Kind != item.HolderNone,
	}
	if it.Price != nil {
		p := it.Price.StringFixed(2)
		resp.Price = &p
	}
	return resp
}

func toItemResponses(items []item.Item) []itemResponse {
	out := make([]itemResponse, len(items))
	for i := range items {
		out[i] = toItemResponse(&items[i])
	}
	return out
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	it, err := h.catalog.GetByID(r.Context(), id)
	if errors.Is(err, item.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

type updateItemPriceReq struct {
	// Price is the new asking price; null withdraws the piece from sale.
	Price *string `json:"price"`
}

func (h *Handler) updateItemPrice(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok || !c.staff {
		writeError(w, http.StatusForbidden, order.ErrForbidden.Error())
		return
	}
	id, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req updateItemPriceReq
	if !decodeBody(w, r, &req) {
		return
	}

	var price *decimal.Decimal
	if req.Price != nil {
		d, err := decimal.NewFromString(*req.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		d = d.Round(2)
		price = &d
	}

	err := h.catalog.UpdatePrice(r.Context(), id, price)
	if errors.Is(err, item.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	it, err := h.catalog.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}
