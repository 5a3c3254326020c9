package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/gallery-orders/internal/domain/basket"
	"github.com/xenking/gallery-orders/internal/domain/item"
)

type basketResponse struct {
	ID          int64          `json:"id"`
	LastUpdated time.Time      `json:"last_updated"`
	Current     bool           `json:"current"`
	Items       []itemResponse `json:"items"`
}

func (h *Handler) getBasket(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}

	b, err := h.baskets.Find(r.Context(), c.owner())
	if errors.Is(err, basket.ErrNotFound) {
		// No basket yet reads as an empty one.
		writeJSON(w, http.StatusOK, basketResponse{Items: []itemResponse{}})
		return
	}
	if err != nil {
		h.writeBasketError(w, err)
		return
	}
	h.respondBasket(w, r, http.StatusOK, b)
}

func (h *Handler) addBasketItem(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	b, err := h.baskets.AddItem(r.Context(), c.owner(), itemID)
	if err != nil {
		h.writeBasketError(w, err)
		return
	}
	h.respondBasket(w, r, http.StatusOK, b)
}

func (h *Handler) removeBasketItem(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	res, err := h.baskets.RemoveItem(r.Context(), c.owner(), itemID)
	if err != nil {
		h.writeBasketError(w, err)
		return
	}
	if res.Deleted {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondBasket(w, r, http.StatusOK, res.Basket)
}

func (h *Handler) respondBasket(w http.ResponseWriter, r *http.Request, code int, b *basket.Basket) {
	items, err := h.baskets.Contents(r.Context(), b)
	if err != nil {
		h.writeBasketError(w, err)
		return
	}
	writeJSON(w, code, basketResponse{
		ID:          b.ID,
		LastUpdated: b.LastUpdated,
		Current:     b.IsCurrent(time.Now()),
		Items:       toItemResponses(items),
	})
}

func (h *Handler) writeBasketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, item.ErrNotFound), errors.Is(err, basket.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, basket.ErrItemNotInBasket):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, item.ErrUnpriced):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, item.ErrAlreadyReserved):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
