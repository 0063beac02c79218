package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/sony/gobreaker/v2"
)

// orderCreator is the part of the Razorpay SDK the adapter calls.
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Razorpay registers intents as Razorpay orders. Every call is bounded by timeout and guarded by a
// circuit breaker so a failing processor is not hammered while users retry.
type Razorpay struct {
	orders  orderCreator
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[Intent]
}

func NewRazorpay(keyID, keySecret string, timeout time.Duration) *Razorpay {
	client := razorpay.NewClient(keyID, keySecret)
	return newRazorpay(client.Order, timeout)
}

func newRazorpay(orders orderCreator, timeout time.Duration) *Razorpay {
	return &Razorpay{
		orders:  orders,
		timeout: timeout,
		cb: gobreaker.NewCircuitBreaker[Intent](gobreaker.Settings{
			Name:        "razorpay",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (r *Razorpay) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	in, err := r.cb.Execute(func() (Intent, error) {
		return r.create(ctx, req)
	})
	if err == nil {
		return in, nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return Intent{}, gwErr
	}
	// open or half-open breaker
	return Intent{}, &GatewayError{Op: "create_intent", Retryable: true, Err: err}
}

type createResult struct {
	body map[string]interface{}
	err  error
}

func (r *Razorpay) create(ctx context.Context, req IntentRequest) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	// The SDK has no context support; the result channel is buffered so an abandoned call can finish.
	done := make(chan createResult, 1)
	go func() {
		body, err := r.orders.Create(data, nil)
		done <- createResult{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return Intent{}, &GatewayError{Op: "create_intent", Retryable: true, Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return Intent{}, &GatewayError{Op: "create_intent", Retryable: true, Err: res.err}
		}
		return parseOrder(res.body, req)
	}
}

func parseOrder(body map[string]interface{}, req IntentRequest) (Intent, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return Intent{}, &GatewayError{Op: "create_intent", Err: fmt.Errorf("response without order id")}
	}
	in := Intent{ID: id, Amount: req.AmountMinor, Currency: req.Currency}
	switch v := body["amount"].(type) {
	case float64:
		in.Amount = int64(v)
	case int64:
		in.Amount = v
	case int:
		in.Amount = int64(v)
	}
	if c, ok := body["currency"].(string); ok && c != "" {
		in.Currency = c
	}
	if in.Amount != req.AmountMinor {
		return Intent{}, &GatewayError{Op: "create_intent", Err: fmt.Errorf("amount mismatch: requested %d, got %d", req.AmountMinor, in.Amount)}
	}
	return in, nil
}
