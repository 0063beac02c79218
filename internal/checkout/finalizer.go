package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/logging"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/metrics"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/profiles"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type FinalizeInput struct {
	UserID        string
	Lines         []cart.Line
	Profile       profiles.Profile
	PaymentID     string
	PaymentMethod string
	TraceID       string
}

// Finalizer turns a cart snapshot and a verified payment into an order.
// The order and its items are committed together; the cart is cleared afterwards and only
// for the items in the snapshot. A failed clear leaves the order in place.
// Redis, Events and Metrics are optional.
type Finalizer struct {
	Orders      OrderStore
	Cart        CartStore
	Redis       *redis.Client
	Events      *orders.Emitter
	Metrics     *metrics.CheckoutMetrics
	ServiceName string
}

type paymentRecord struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (Result, error) {
	if len(in.Lines) == 0 {
		return Result{}, ErrEmptyCart
	}
	start := time.Now()

	n := orders.NewOrder{
		UserID:        in.UserID,
		PaymentID:     in.PaymentID,
		PaymentMethod: in.PaymentMethod,
		Customer: orders.Customer{
			Name:    in.Profile.Name,
			Email:   in.Profile.Email,
			Mobile:  in.Profile.Mobile,
			Address: in.Profile.Address,
		},
		Items: make([]orders.NewItem, 0, len(in.Lines)),
	}
	for _, l := range in.Lines {
		n.Items = append(n.Items, orders.NewItem{BookID: l.BookID, BookName: l.BookName, Price: l.Price, Quantity: l.Quantity})
	}

	o, existed, err := f.Orders.Commit(ctx, n)
	if err != nil {
		logging.Err(logging.Fields{Service: f.ServiceName, RequestID: in.TraceID, UserID: in.UserID, PaymentID: in.PaymentID,
			Step: "finalize", Status: "commit_failed"}, err)
		return Result{}, err
	}
	if existed {
		if o.UserID != in.UserID {
			return Result{}, orders.ErrForbidden
		}
		return Result{OrderID: o.ID, AlreadyProcessed: true}, nil
	}
	f.remember(ctx, in.PaymentID, paymentRecord{OrderID: o.ID, UserID: o.UserID})

	res := Result{OrderID: o.ID, CartCleared: true}
	if _, err := f.Cart.RemoveLines(ctx, in.UserID, cart.ItemIDs(in.Lines)); err != nil {
		res.CartCleared = false
		if f.Metrics != nil {
			f.Metrics.CartClearFail.Inc()
		}
		logging.Err(logging.Fields{Service: f.ServiceName, RequestID: in.TraceID, UserID: in.UserID, OrderID: o.ID,
			PaymentID: in.PaymentID, Step: "finalize", Status: "cart_clear_failed",
			Message: "order committed, cart items left behind"}, err)
	}

	f.Events.OrderPaid(o, in.TraceID)

	took := time.Since(start)
	if f.Metrics != nil {
		f.Metrics.FinalizeMS.Observe(float64(took.Milliseconds()))
	}
	logging.Log(logging.Fields{Service: f.ServiceName, RequestID: in.TraceID, UserID: in.UserID, OrderID: o.ID,
		PaymentID: in.PaymentID, Step: "finalize", Status: "ok", DurationMS: took.Milliseconds()})
	return res, nil
}

// Processed reports the order already created for paymentID, if any.
// Redis is a shortcut; Postgres decides.
func (f *Finalizer) Processed(ctx context.Context, paymentID string) (orders.Order, bool, error) {
	if rec, ok := f.recall(ctx, paymentID); ok {
		return orders.Order{ID: rec.OrderID, UserID: rec.UserID, PaymentID: paymentID}, true, nil
	}
	o, err := f.Orders.FindByPaymentID(ctx, paymentID)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	f.remember(ctx, paymentID, paymentRecord{OrderID: o.ID, UserID: o.UserID})
	return o, true, nil
}

func (f *Finalizer) remember(ctx context.Context, paymentID string, rec paymentRecord) {
	if f.Redis == nil {
		return
	}
	data, _ := json.Marshal(rec)
	if err := f.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemPayment, paymentID), data, redisx.TTLIdempotency).Err(); err != nil {
		logging.Err(logging.Fields{Service: f.ServiceName, PaymentID: paymentID, Step: "idempotency", Status: "set_failed"}, err)
	}
}

func (f *Finalizer) recall(ctx context.Context, paymentID string) (paymentRecord, bool) {
	if f.Redis == nil {
		return paymentRecord{}, false
	}
	data, err := f.Redis.Get(ctx, fmt.Sprintf(redisx.KeyIdemPayment, paymentID)).Bytes()
	if err != nil {
		return paymentRecord{}, false
	}
	var rec paymentRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.OrderID == "" {
		return paymentRecord{}, false
	}
	return rec, true
}
