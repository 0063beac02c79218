package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/cart"
	"github.com/go-chi/chi/v5"
)

type CartStore interface {
	List(ctx context.Context, userID string) ([]cart.Line, error)
	Add(ctx context.Context, userID, bookID string, qty int) (cart.Item, error)
	SetQuantity(ctx context.Context, userID, itemID string, qty int) (cart.Item, error)
	Remove(ctx context.Context, userID, itemID string) error
}

type CartHandler struct {
	Cart    CartStore
	Timeout time.Duration
}

func (h *CartHandler) Register(r chi.Router) {
	r.Get("/cart", h.list)
	r.Post("/cart/items", h.add)
	r.Patch("/cart/items/{id}", h.setQuantity)
	r.Delete("/cart/items/{id}", h.remove)
}

type cartResp struct {
	Items []cart.Line `json:"items"`
	Total string      `json:"total"`
}

func (h *CartHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	lines, err := h.Cart.List(ctx, principal(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if lines == nil {
		lines = []cart.Line{}
	}
	writeJSON(w, http.StatusOK, cartResp{Items: lines, Total: cart.Total(lines).StringFixed(2)})
}

type addReq struct {
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addReq
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if req.BookID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing book_id"})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	it, err := h.Cart.Add(ctx, principal(r).UserID, req.BookID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type quantityReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityReq
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}

	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	it, err := h.Cart.SetQuantity(ctx, principal(r).UserID, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	if err := h.Cart.Remove(ctx, principal(r).UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
