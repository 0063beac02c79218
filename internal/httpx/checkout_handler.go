package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/checkout"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type CheckoutService interface {
	CreateIntent(ctx context.Context, userID string) (payment.Intent, error)
	VerifyAndFinalize(ctx context.Context, req checkout.VerifyRequest, userID string) (checkout.Result, error)
	MockOrder(ctx context.Context, userID, traceID string) (checkout.Result, error)
}

type CheckoutHandler struct {
	Checkout   CheckoutService
	MockOrders bool
	Timeout    time.Duration
}

// Register mounts the checkout routes on an authenticated router. The mock order route
// exists only when mock orders are enabled.
func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout/intent", h.createIntent)
	r.Post("/checkout/verify", h.verify)
	if h.MockOrders {
		r.Post("/dev/mock-order", h.mockOrder)
	}
}

func (h *CheckoutHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	// the gateway adapter bounds its own call
	in, err := h.Checkout.CreateIntent(r.Context(), principal(r).UserID)
	if err != nil {
		if errors.Is(err, checkout.ErrEmptyCart) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Cart is empty"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

type verifyReq struct {
	PaymentID string `json:"payment_id"`
	IntentID  string `json:"intent_id"`
	Signature string `json:"signature"`
}

func (h *CheckoutHandler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}

	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	res, err := h.Checkout.VerifyAndFinalize(ctx, checkout.VerifyRequest{
		IntentID:  strings.TrimSpace(req.IntentID),
		PaymentID: strings.TrimSpace(req.PaymentID),
		Signature: strings.TrimSpace(req.Signature),
		TraceID:   middleware.GetReqID(r.Context()),
	}, principal(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CheckoutHandler) mockOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	res, err := h.Checkout.MockOrder(ctx, principal(r).UserID, middleware.GetReqID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
