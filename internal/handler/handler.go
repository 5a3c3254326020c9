// Package handler exposes the storefront operations over HTTP and maps
// domain errors onto status codes. Authentication is out of scope: the
// caller's identity and staff flag arrive as trusted request headers set
// by the fronting proxy.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/gallery-orders/internal/domain/basket"
	"github.com/xenking/gallery-orders/internal/domain/item"
	"github.com/xenking/gallery-orders/internal/domain/order"
)

// Catalog is the slice of the item store the HTTP layer needs directly:
// piece lookups and the staff repricing operation.
type Catalog interface {
	GetByID(ctx context.Context, id int64) (*item.Item, error)
	UpdatePrice(ctx context.Context, id int64, price *decimal.Decimal) error
}

// Handler wires the HTTP surface to the domain services.
type Handler struct {
	orders  *order.Service
	baskets *basket.Manager
	catalog Catalog
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders *order.Service, baskets *basket.Manager, catalog Catalog) *Handler {
	return &Handler{
		orders:  orders,
		baskets: baskets,
		catalog: catalog,
	}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/basket", func(r chi.Router) {
		r.Get("/", h.getBasket)
		r.Post("/items/{itemID}", h.addBasketItem)
		r.Delete("/items/{itemID}", h.removeBasketItem)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/{orderID}", h.getOrder)
		r.Delete("/{orderID}", h.cancelOrder)
		r.Post("/{orderID}/place", h.placeOrder)
		r.Post("/{orderID}/items", h.appendOrderItems)
		r.Delete("/{orderID}/items", h.removeOrderItems)
		r.Post("/{orderID}/dispatch", h.dispatchOrder)
	})

	r.Route("/items", func(r chi.Router) {
		r.Get("/{itemID}", h.getItem)
		r.Put("/{itemID}/price", h.updateItemPrice)
	})

	return r
}

// caller is the request identity: a known user, or a guest session key.
// Staff marks callers allowed to dispatch and to cancel dispatched orders.
type caller struct {
	user    *order.User
	session string
	staff   bool
}

// callerFrom reads the identity headers. At least one of X-User-ID and
// X-Session-Key must be present; basket ownership hangs off them.
func callerFrom(r *http.Request) (caller, bool) {
	c := caller{
		session: r.Header.Get("X-Session-Key"),
		staff:   r.Header.Get("X-Staff") == "true",
	}
	if v := r.Header.Get("X-User-ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c, false
		}
		c.user = &order.User{
			ID:        id,
			FirstName: r.Header.Get("X-User-First-Name"),
			LastName:  r.Header.Get("X-User-Last-Name"),
			Email:     r.Header.Get("X-User-Email"),
		}
	}
	return c, c.user != nil || c.session != ""
}

// owner converts the caller into a basket owner key.
func (c caller) owner() basket.OwnerKey {
	if c.user != nil {
		id := c.user.ID
		return basket.OwnerKey{UserID: &id}
	}
	return basket.OwnerKey{SessionKey: c.session}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// pathID parses the named int64 URL parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// parseAmount parses a client-echoed decimal amount, writing a 400 on
// failure. Amounts travel as strings to keep floats out of the money path.
func parseAmount(w http.ResponseWriter, s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return decimal.Decimal{}, false
	}
	return d, true
}

// parseOptionalAmount treats an absent amount as zero.
func parseOptionalAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
