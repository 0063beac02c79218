package checkout

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/profiles"
)

var (
	ErrEmptyCart              = errors.New("cart is empty")
	ErrMissingShippingAddress = errors.New("shipping address is missing, please complete your profile before checkout")
	ErrMockOrdersDisabled     = errors.New("mock orders are disabled")
)

type CartStore interface {
	Snapshot(ctx context.Context, userID string) ([]cart.Line, error)
	RemoveLines(ctx context.Context, userID string, itemIDs []string) (int64, error)
}

type ProfileStore interface {
	Get(ctx context.Context, userID string) (profiles.Profile, error)
}

type OrderStore interface {
	Commit(ctx context.Context, n orders.NewOrder) (orders.Order, bool, error)
	FindByPaymentID(ctx context.Context, paymentID string) (orders.Order, error)
}

type SignatureVerifier interface {
	Verify(intentID, paymentID, signature string) error
}

type VerifyRequest struct {
	IntentID  string `json:"intent_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
	TraceID   string `json:"-"`
}

// Result of finalizing a payment. AlreadyProcessed is set when the payment had been turned
// into an order before; OrderID is then the existing order.
type Result struct {
	OrderID          string `json:"order_id"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	CartCleared      bool   `json:"-"`
}
