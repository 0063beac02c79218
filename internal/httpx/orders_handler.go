package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/auth"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/orders"
	"github.com/go-chi/chi/v5"
)

type OrderService interface {
	Get(ctx context.Context, orderID string, who auth.Principal) (orders.Order, error)
	List(ctx context.Context, who auth.Principal, status string, allUsers bool) ([]orders.Order, error)
	SetStatus(ctx context.Context, orderID, status string, who auth.Principal) (orders.Order, error)
}

type OrdersHandler struct {
	Orders  OrderService
	Timeout time.Duration
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders", h.list(false))
	r.Get("/orders/{id}", h.get)
	r.Route("/admin/orders", func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Get("/", h.list(true))
		r.Patch("/status", h.setStatus)
		r.Post("/status", h.setStatus)
	})
}

func (h *OrdersHandler) list(allUsers bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r, h.Timeout)
		defer cancel()

		out, err := h.Orders.List(ctx, principal(r), r.URL.Query().Get("status"), allUsers)
		if err != nil {
			writeError(w, err)
			return
		}
		if out == nil {
			out = []orders.Order{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing id"})
		return
	}

	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	o, err := h.Orders.Get(ctx, orderID, principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type setStatusReq struct {
	OrderID   string `json:"order_id"`
	NewStatus string `json:"new_status"`
}

type setStatusResp struct {
	Success bool         `json:"success"`
	Order   orders.Order `json:"order"`
}

func (h *OrdersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusReq
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if req.OrderID == "" || req.NewStatus == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing fields"})
		return
	}

	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	o, err := h.Orders.SetStatus(ctx, req.OrderID, req.NewStatus, principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setStatusResp{Success: true, Order: o})
}
